// ABOUTME: Tier-1 review provider that execs a local agent CLI.
// ABOUTME: No credential needed; availability means the binary is on PATH.

package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultLocalTimeout bounds one local CLI invocation.
const DefaultLocalTimeout = 120 * time.Second

// Local invokes a local command-line agent for reviews. The prompt is
// appended as the final argument.
type Local struct {
	name    string
	command []string
	workdir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewLocal creates a Local provider. command is the argv prefix, e.g.
// ["claude", "--print", "-p"]. timeout <= 0 uses DefaultLocalTimeout.
func NewLocal(name string, command []string, workdir string, timeout time.Duration, logger *slog.Logger) *Local {
	if timeout <= 0 {
		timeout = DefaultLocalTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		name:    name,
		command: command,
		workdir: workdir,
		timeout: timeout,
		logger:  logger.With("component", "provider", "provider", name),
	}
}

func (l *Local) Name() string {
	return l.name
}

// Available reports whether the CLI binary can be found on PATH.
func (l *Local) Available() bool {
	if len(l.command) == 0 {
		return false
	}
	_, err := exec.LookPath(l.command[0])
	return err == nil
}

// Review runs the CLI with the combined prompt and returns its stdout.
func (l *Local) Review(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	args := append(append([]string{}, l.command[1:]...), prompt)
	cmd := exec.CommandContext(ctx, l.command[0], args...)
	cmd.Dir = l.workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("cli timed out after %s", l.timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("cli failed: %s", detail)
	}

	return strings.TrimSpace(stdout.String()), nil
}
