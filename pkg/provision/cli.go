package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/models"
	"github.com/psantana5/machinist/pkg/retry"
)

// CLI shells out to an external provisioning tool and decodes its JSON
// output. The tool is expected to support:
//
//	<binary> create --json --type T --image I --region R [--disk-gb N] [--label k=v]
//	<binary> describe --json <id>
//	<binary> destroy --json [--force] <id>
//
// create and describe print a JSON object on stdout; errors go to stderr
// with a non-zero exit.
type CLI struct {
	Binary    string
	ExtraArgs []string      // passed before the subcommand (e.g. --profile)
	Timeout   time.Duration // per-invocation ceiling, 0 means no limit
	Retry     retry.Config  // backoff for repeat-safe invocations
	Logger    *logging.Logger
}

// NewCLI creates a CLI provisioner for the given binary
func NewCLI(binary string, logger *logging.Logger) *CLI {
	return &CLI{
		Binary:  binary,
		Timeout: 2 * time.Minute,
		Retry:   retry.DefaultConfig(),
		Logger:  logger,
	}
}

type createResponse struct {
	ID string `json:"id"`
}

// Create requests a new machine and returns its instance ID
func (c *CLI) Create(ctx context.Context, spec *models.ResourceSpec) (string, error) {
	args := []string{"create", "--json",
		"--type", spec.MachineType,
		"--image", spec.Image,
		"--region", spec.Region,
	}
	if spec.DiskGB > 0 {
		args = append(args, "--disk-gb", strconv.Itoa(spec.DiskGB))
	}
	for k, v := range spec.Labels {
		args = append(args, "--label", k+"="+v)
	}

	stdout, err := c.run(ctx, args)
	if err != nil {
		return "", fmt.Errorf("provisioner create failed: %w", err)
	}

	var resp createResponse
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return "", fmt.Errorf("failed to parse create output: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provisioner create returned no instance ID")
	}

	if c.Logger != nil {
		c.Logger.Info("Instance created", map[string]interface{}{"id": resp.ID, "type": spec.MachineType})
	}
	return resp.ID, nil
}

// Describe reports current status and address of an instance
func (c *CLI) Describe(ctx context.Context, id string) (*Instance, error) {
	stdout, err := c.runRetry(ctx, []string{"describe", "--json", id})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("provisioner describe failed: %w", err)
	}

	var inst Instance
	if err := json.Unmarshal(stdout, &inst); err != nil {
		return nil, fmt.Errorf("failed to parse describe output: %w", err)
	}
	if inst.ID == "" {
		inst.ID = id
	}
	return &inst, nil
}

// Destroy tears an instance down. An already-gone instance maps to
// ErrInstanceNotFound so callers can treat it as success.
func (c *CLI) Destroy(ctx context.Context, id string, force bool) error {
	args := []string{"destroy", "--json"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, id)

	if _, err := c.runRetry(ctx, args); err != nil {
		if isNotFound(err) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("provisioner destroy failed: %w", err)
	}

	if c.Logger != nil {
		c.Logger.Info("Instance destroyed", map[string]interface{}{"id": id, "force": force})
	}
	return nil
}

// runRetry wraps run with backoff for invocations that are safe to repeat.
// create never goes through here: a timed-out create may still have
// provisioned an instance, and repeating it would leak a second one.
func (c *CLI) runRetry(ctx context.Context, args []string) ([]byte, error) {
	var stdout []byte
	var permanent error
	err := retry.Do(ctx, c.Retry, func() error {
		out, runErr := c.run(ctx, args)
		if runErr == nil {
			stdout = out
			return nil
		}
		if !isTransient(runErr) {
			// Returning nil stops the loop; the error surfaces below
			permanent = runErr
			return nil
		}
		return runErr
	})
	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}
	return stdout, nil
}

// run invokes the provisioning binary and returns its stdout
func (c *CLI) run(ctx context.Context, args []string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	full := append(append([]string{}, c.ExtraArgs...), args...)
	cmd := exec.CommandContext(ctx, c.Binary, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s %s: %s", c.Binary, full[len(full)-len(args)], msg)
	}

	return stdout.Bytes(), nil
}

// isTransient classifies tool errors worth repeating the invocation for
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"rate limit", "too many requests", "timed out", "timeout", "temporarily unavailable", "service unavailable", "connection refused", "connection reset", "try again"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// isNotFound classifies tool errors that mean the instance no longer exists
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"not found", "does not exist", "no such instance", "notfound", "already terminated"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
