package secrets

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FromCommand fetches a secret by running an external command (a password
// manager, a vault CLI) instead of taking the secret on a flag, which would
// leave it in shell history and process listings. The command runs through
// the shell so pipelines work, and the first line of stdout is the secret.
func FromCommand(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("secret command is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("secret command failed: %s", msg)
	}

	secret := strings.TrimSpace(strings.SplitN(stdout.String(), "\n", 2)[0])
	if secret == "" {
		return "", fmt.Errorf("secret command produced no output")
	}
	return secret, nil
}
