// Package invoker runs external tools (scanners, build tools, test runners)
// and captures their exit code and output. A non-zero exit is a normal result
// here, not an error: scanners exit non-zero when they find issues. Only a
// process-launch failure is surfaced as an error.
package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// TimeoutExitCode is the synthetic exit code reported when a command is
// killed because its timeout elapsed.
const TimeoutExitCode = 124

// ErrToolNotFound indicates a required tool is not on PATH.
var ErrToolNotFound = errors.New("tool not found")

// Command describes one external invocation.
type Command struct {
	Argv    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// Result captures the outcome of a finished invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
	Duration time.Duration
}

type Invoker struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Invoker {
	return &Invoker{logger: logger.With("module", "invoker")}
}

// LookTool verifies a tool is resolvable on PATH. Returns ErrToolNotFound
// wrapped with the tool name when it is not.
func LookTool(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	return nil
}

// Invoke runs the command and blocks until it exits or the timeout elapses.
// The child runs in its own process group so the whole tree is killed on
// timeout or context cancellation.
func (i *Invoker) Invoke(ctx context.Context, command Command) (*Result, error) {
	if len(command.Argv) == 0 {
		return nil, errors.New("command argv is empty")
	}

	runCtx := ctx

	var cancel context.CancelFunc
	if command.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir
	cmd.Env = buildEnv(command.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()

	i.logger.InfoContext(ctx, "Invoking external tool", "argv", command.Argv, "dir", command.Dir)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, command.Argv[0])
		}

		return nil, fmt.Errorf("failed to launch %s: %w", command.Argv[0], err)
	}

	done := make(chan error, 1)

	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error

	select {
	case <-runCtx.Done():
		// Kill the whole process group, then reap the child.
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}

		<-done

		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			fmt.Fprintf(&stderr, "\n%s: timed out after %s\n", command.Argv[0], command.Timeout)

			result := &Result{
				ExitCode: TimeoutExitCode,
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
				TimedOut: true,
				Duration: time.Since(started),
			}

			i.logger.WarnContext(ctx, "External tool timed out", "argv", command.Argv, "timeout", command.Timeout)

			return result, nil
		}

		return nil, fmt.Errorf("invocation cancelled: %w", ctx.Err())
	case waitErr = <-done:
	}

	exitCode := 0

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to run %s: %w", command.Argv[0], waitErr)
		}
	}

	result := &Result{
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(started),
	}

	i.logger.InfoContext(ctx, "External tool finished",
		"argv", command.Argv, "exit_code", exitCode, "duration", result.Duration)

	return result, nil
}

// buildEnv starts from the parent environment so tools keep PATH and HOME,
// with explicit overrides appended last.
func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for key, value := range extra {
		env = append(env, key+"="+value)
	}

	return env
}
