package session

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/models"
)

// SSHExecutor runs session steps over SSH using the credentials carried by
// the resource handle.
type SSHExecutor struct {
	Port     int
	Password string        // used when the handle has no key path
	Timeout  time.Duration // dial timeout per connection
	Logger   *logging.Logger

	// Output receives remote stdout/stderr; defaults to the process's own
	Stdout *os.File
	Stderr *os.File
}

// NewSSHExecutor creates an executor with defaults
func NewSSHExecutor(logger *logging.Logger) *SSHExecutor {
	return &SSHExecutor{
		Port:    22,
		Timeout: 15 * time.Second,
		Logger:  logger,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Run executes one step on the machine. It opens a fresh session per step;
// the connection is reused for the life of the client.
func (e *SSHExecutor) Run(ctx context.Context, handle *models.ResourceHandle, step models.SessionStep) (int, error) {
	client, err := e.dial(ctx, handle)
	if err != nil {
		return -1, err
	}
	defer client.Close()

	if e.Logger != nil {
		e.Logger.Debug("Executing remote command", map[string]interface{}{
			"target": handle.Target(), "step": step.Name,
		})
	}

	sess, err := client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to open SSH session on %s: %w", handle.Address, err)
	}
	defer sess.Close()

	if e.Stdout != nil {
		sess.Stdout = e.Stdout
	}
	if e.Stderr != nil {
		sess.Stderr = e.Stderr
	}

	err = sess.Run(buildCommand(step))
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return exitErr.ExitStatus(), nil
	}
	return -1, fmt.Errorf("remote execution on %s failed: %w", handle.Address, err)
}

// Probe checks SSH reachability by running a trivial remote command
func (e *SSHExecutor) Probe(ctx context.Context, handle *models.ResourceHandle) error {
	status, err := e.Run(ctx, handle, models.SessionStep{Name: "probe", Command: "true"})
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("probe command exited %d on %s", status, handle.Address)
	}
	return nil
}

func (e *SSHExecutor) dial(ctx context.Context, handle *models.ResourceHandle) (*ssh.Client, error) {
	if handle.Address == "" {
		return nil, fmt.Errorf("handle %s has no address", handle.ID)
	}

	auth, err := e.authMethods(handle)
	if err != nil {
		return nil, err
	}

	user := handle.User
	if user == "" {
		user = "root"
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// Machines are freshly provisioned; their host keys are not known
		// ahead of time. The known-hosts store is only maintained so stale
		// entries can be purged on teardown.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.Timeout,
	}

	addr := net.JoinHostPort(handle.Address, fmt.Sprintf("%d", e.Port))

	dialer := net.Dialer{Timeout: e.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (e *SSHExecutor) authMethods(handle *models.ResourceHandle) ([]ssh.AuthMethod, error) {
	if handle.KeyPath != "" {
		key, err := os.ReadFile(handle.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key %s: %w", handle.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key %s: %w", handle.KeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if e.Password != "" {
		return []ssh.AuthMethod{ssh.Password(e.Password)}, nil
	}
	return nil, fmt.Errorf("no credentials for %s: set a key path or a password", handle.Address)
}

// buildCommand renders a step as a single remote shell command
func buildCommand(step models.SessionStep) string {
	var parts []string

	if len(step.Env) > 0 {
		keys := make([]string, 0, len(step.Env))
		for k := range step.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("export %s=%s", k, shellQuote(step.Env[k])))
		}
	}

	if step.Workdir != "" {
		parts = append(parts, "cd "+shellQuote(step.Workdir))
	}

	parts = append(parts, step.Command)
	return strings.Join(parts, " && ")
}

// shellQuote single-quotes a value for the remote shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
