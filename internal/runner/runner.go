// ABOUTME: Task execution contract and the exec-based implementation.
// ABOUTME: Task content is opaque here; callers classify failures from the output and exit code.

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single task run.
const DefaultTimeout = 30 * time.Minute

// Result is the outcome of one task run.
type Result struct {
	// Output is combined stdout+stderr, whatever the tool produced.
	Output string
	// ExitCode is the process exit code; 0 on success, -1 when the
	// process never ran.
	ExitCode int
}

// Runner executes one task described in free text.
type Runner interface {
	Run(ctx context.Context, description string) (Result, error)
}

// Exec runs tasks by invoking a local agent CLI with the description as
// the final argument.
type Exec struct {
	command []string
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExec creates an Exec runner. command is the argv prefix, e.g.
// ["claude", "-p"]. dir may be empty for the process working directory.
func NewExec(command []string, dir string, timeout time.Duration, logger *slog.Logger) *Exec {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{
		command: command,
		dir:     dir,
		timeout: timeout,
		logger:  logger.With("component", "runner"),
	}
}

// Run executes the task and returns its output. A non-zero exit comes
// back as a Result with the code set and a non-nil error.
func (e *Exec) Run(ctx context.Context, description string) (Result, error) {
	if len(e.command) == 0 {
		return Result{ExitCode: -1}, errors.New("no runner command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append(append([]string{}, e.command[1:]...), description)
	cmd := exec.CommandContext(ctx, e.command[0], args...)
	cmd.Dir = e.dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	e.logger.Info("task started", "command", e.command[0])
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{Output: buf.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("task timed out after %s", e.timeout)
		}
		e.logger.Warn("task failed", "exit_code", result.ExitCode, "elapsed", elapsed, "error", err)
		return result, err
	}

	e.logger.Info("task finished", "elapsed", elapsed, "output_bytes", buf.Len())
	return result, nil
}
