// Package runner executes external analysis subprocesses that report their
// result as a single JSON document on stdout.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Interface is the capability the pipeline needs from a subprocess runner.
type Interface interface {
	Run(ctx context.Context, command string, args []string, timeout time.Duration) (json.RawMessage, error)
}

// Compile-time interface satisfaction check.
var _ Interface = (*Runner)(nil)

// DefaultTimeout bounds a subprocess when the caller passes no timeout.
const DefaultTimeout = 60 * time.Second

// maxDetail caps how much of a diagnostic stream is kept on a Failure.
const maxDetail = 4096

// Runner executes subprocesses with an enforced wall-clock timeout.
type Runner struct {
	logger *slog.Logger
}

// New creates a new subprocess runner.
func New() *Runner {
	return &Runner{logger: slog.Default()}
}

// SetLogger overrides the default logger.
func (r *Runner) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Run executes command with args and parses its stdout as JSON.
// Every failure is returned as a *Failure describing what went wrong.
func (r *Runner) Run(ctx context.Context, command string, args []string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if stderr.Len() > 0 {
		r.logger.Debug("subprocess stderr", "command", command, "stderr", truncate(stderr.String()))
	}
	if err != nil {
		return nil, classifyExitError(ctx, command, err, stderr.String())
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 || !json.Valid(out) {
		return nil, &Failure{
			Kind:    FailureOutputFormat,
			Command: command,
			Detail:  truncate(stdout.String()),
		}
	}

	r.logger.Debug("subprocess finished", "command", command, "duration", time.Since(start))
	return json.RawMessage(out), nil
}

// classifyExitError turns a cmd.Run error into a Failure.
func classifyExitError(ctx context.Context, command string, err error, stderr string) *Failure {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Command: command, Err: err}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Failure{
			Kind:     FailureProcess,
			Command:  command,
			ExitCode: exitErr.ExitCode(),
			Detail:   truncate(stderr),
			Err:      err,
		}
	}

	return &Failure{Kind: FailureSpawn, Command: command, Detail: err.Error(), Err: err}
}

// Decode runs the subprocess and unmarshals its output into dest. A payload
// that does not fit dest is reported as FailureOutputFormat.
func Decode(ctx context.Context, r Interface, command string, args []string, timeout time.Duration, dest any) error {
	out, err := r.Run(ctx, command, args, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, dest); err != nil {
		return &Failure{
			Kind:    FailureOutputFormat,
			Command: command,
			Detail:  fmt.Sprintf("decoding output: %v", err),
			Err:     err,
		}
	}
	return nil
}

// CommandLine resolves the executable and leading arguments for a script. With
// an interpreter the script becomes its first argument.
func CommandLine(interpreter, script string) (string, []string) {
	if interpreter == "" {
		return script, nil
	}
	return interpreter, []string{script}
}

func truncate(s string) string {
	if len(s) > maxDetail {
		return s[:maxDetail] + "...(truncated)"
	}
	return s
}
