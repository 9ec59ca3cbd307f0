package core

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// killGrace is how long a terminated process gets to exit after SIGTERM
// before it is killed outright.
const killGrace = 5 * time.Second

// Executor runs pipeline steps as subprocesses.
type Executor struct {
	Logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{Logger: logger}
}

// RunCommand executes a single shell step and returns its captured output.
// The step environment overlays baseEnv; the step dir overrides workdir.
// A step timeout yields ErrTimeout, parent cancellation yields ErrAborted,
// and a non-zero exit yields ErrCommandFailed with the stderr tail attached.
// In every case the underlying process group is terminated, not orphaned.
func (e *Executor) RunCommand(parent context.Context, step Step, baseEnv map[string]string, workdir string) (*StepResult, error) {
	ctx := parent
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, time.Duration(step.Timeout))
		defer cancel()
	}

	// Run the step in a shell (sh -c "cmd") in its own process group so
	// cancellation reaches grandchildren too.
	cmd := exec.CommandContext(ctx, "sh", "-c", step.Run)
	cmd.Dir = workdir
	if step.Dir != "" {
		cmd.Dir = step.Dir
	}
	cmd.Env = FlattenEnv(MergeEnv(baseEnv, step.Env))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if e.Logger != nil {
		e.Logger.Debug("step started", "command", step.Run, "dir", cmd.Dir)
	}
	started := time.Now()
	err := cmd.Run()
	res := &StepResult{
		Command:  step.Run,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Started:  started,
		Finished: time.Now(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if e.Logger != nil {
		e.Logger.Debug("step finished", "command", step.Run,
			"exit", res.ExitCode, "duration", res.Finished.Sub(res.Started))
	}
	if err == nil {
		return res, nil
	}

	switch {
	case parent.Err() != nil:
		return res, errors.Wrapf(ErrAborted, "step %q cancelled: %v", step.Run, parent.Err())
	case ctx.Err() == context.DeadlineExceeded:
		return res, errors.Wrapf(ErrTimeout, "step %q after %s", step.Run, time.Duration(step.Timeout))
	default:
		return res, errors.Wrapf(ErrCommandFailed, "step %q exit %d: %s", step.Run, res.ExitCode, tail(res.Stderr))
	}
}

// tail returns the last line of captured stderr for error messages.
func tail(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
