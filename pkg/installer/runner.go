package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Runner executes external installer commands
type Runner interface {
	// Run executes the command, streaming its output to the container log
	Run(ctx context.Context, name string, args ...string) error

	// Output executes the command and returns its standard output
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError reports an installer command that failed to run or exited
// non-zero
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Command)
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("%s with exit code %d", msg, e.ExitCode)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(e.Stderr))
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands as child processes
type ExecRunner struct {
	// Stdout and Stderr receive streamed output from Run (default: os.Stdout, os.Stderr)
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner creates a runner that streams to the process stdout/stderr
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the command and waits for it to finish
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if err := cmd.Run(); err != nil {
		return commandError(name, err, nil)
	}
	return nil
}

// Output executes the command and returns stdout. Stderr is captured for the
// error message.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, commandError(name, err, &stderr)
	}
	return stdout.Bytes(), nil
}

func commandError(name string, err error, stderr *bytes.Buffer) error {
	cerr := &CommandError{Command: name, Err: err}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	if stderr != nil {
		cerr.Stderr = stderr.String()
	}
	return cerr
}

// ExitCode extracts the child exit code from err, if it came from one
func ExitCode(err error) (int, bool) {
	var cerr *CommandError
	if errors.As(err, &cerr) && cerr.ExitCode > 0 {
		return cerr.ExitCode, true
	}
	return 0, false
}
