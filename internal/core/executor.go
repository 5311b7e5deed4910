package core

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.trai.ch/zerr"
)

const waitDelay = 5 * time.Second

// CommandRunner runs a command in a directory, streaming everything it prints
// to out. A non-zero exit is an error.
//
//go:generate mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type CommandRunner interface {
	Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error
}

// LogWriter is where a build step writes: whole lines through Append, streamed
// command output through Write. Flush ends a trailing partial line.
type LogWriter interface {
	Appender
	io.Writer
	Flush()
}

// Executor is the os/exec CommandRunner.
type Executor struct {
	// Timeout bounds every command when positive. A command that hits it is
	// killed and reported as failed.
	Timeout time.Duration
}

func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{Timeout: timeout}
}

// Run executes name with args in dir. Stdout and stderr share out, so their
// relative order is kept.
func (e *Executor) Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // commands come from the server config
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	// grandchildren may keep the output pipe open after a kill
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	wrapped := zerr.With(zerr.Wrap(err, "command failed"), "command", strings.Join(append([]string{name}, args...), " "))
	wrapped = zerr.With(wrapped, "exit_code", exitCode)
	if ctx.Err() == context.DeadlineExceeded {
		wrapped = zerr.With(wrapped, "timeout", e.Timeout.String())
	}
	return wrapped
}
