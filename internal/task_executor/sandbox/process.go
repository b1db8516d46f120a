package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dataflow/internal/common"

	"go.uber.org/zap"
)

// Process runs the python harness as a child process of the worker. It
// isolates the interpreter and its stdout but not the filesystem or the
// network; use the docker executor where that matters.
type Process struct {
	Python      string
	Root        string
	Timeout     time.Duration
	GracePeriod time.Duration
}

func NewProcess(conf common.Config) *Process {
	return &Process{
		Python:  conf.SandboxPython,
		Root:    conf.BufferDir,
		Timeout: conf.SandboxTimeout,
	}
}

func (e *Process) Execute(ctx context.Context, p Program, in Inputs) (*Result, error) {
	python := e.Python
	if python == "" {
		python = "python3"
	}
	if _, err := exec.LookPath(python); err != nil {
		return nil, fmt.Errorf("sandbox: python interpreter %s: %w", python, err)
	}

	w, err := NewWorkspace(e.Root, p, in)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	grace := e.GracePeriod
	if grace == 0 {
		grace = 5 * time.Second
	}

	c := exec.CommandContext(runCtx, python, filepath.Join(w.Dir, HarnessFile))
	c.Dir = w.Dir
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	// kill the whole tree, scripts may fork
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
	c.WaitDelay = grace

	start := time.Now()
	err = c.Run()
	common.GetLogger().Debug("harness finished",
		zap.String("transformation", p.Slug),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sandbox: %s interrupted: %w", p.Slug, ctx.Err())
		}
		if runCtx.Err() != nil {
			return failed(stdout.String(), "transformation %s timed out after %s", p.Slug, e.Timeout), nil
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("sandbox: run %s: %w", p.Slug, err)
		}
		return failed(stdout.String(), "%s", traceOf(stderr.String(), exitErr.ExitCode())), nil
	}
	return collect(w, stdout.String())
}

func traceOf(stderr string, code int) string {
	trace := strings.TrimRight(stderr, "\n")
	if trace == "" {
		return fmt.Sprintf("exit status %d", code)
	}
	return trace
}

// collect turns a clean exit into a Result.
func collect(w *Workspace, stdout string) (*Result, error) {
	out, ok, err := w.Output()
	if err != nil {
		return nil, err
	}
	if !ok {
		return failed(stdout, "transformation produced no output table"), nil
	}
	return &Result{Output: out, Stdout: stdout}, nil
}
