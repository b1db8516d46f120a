package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"dataflow/internal/common"
	"dataflow/internal/task_executor/sandbox"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const workDir = "/work"

// Executor runs the python harness inside a throwaway container with the
// workspace bind-mounted and networking disabled.
type Executor struct {
	cli     *client.Client
	image   string
	root    string
	timeout time.Duration
	memory  int64
}

func NewExecutor(conf common.Config) (*Executor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if conf.DockerHost != "" {
		opts = append(opts, client.WithHost(conf.DockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: connect: %w", err)
	}
	return &Executor{
		cli:     cli,
		image:   conf.SandboxImage,
		root:    conf.BufferDir,
		timeout: conf.SandboxTimeout,
		memory:  conf.SandboxMemoryMB * 1024 * 1024,
	}, nil
}

func (d *Executor) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *Executor) Close() error {
	return d.cli.Close()
}

func (d *Executor) containerConfig(w *sandbox.Workspace) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:           d.image,
		Cmd:             []string{"python", workDir + "/" + sandbox.HarnessFile},
		WorkingDir:      workDir,
		NetworkDisabled: true,
		Env:             []string{"PYTHONUNBUFFERED=1", "PYTHONDONTWRITEBYTECODE=1"},
	}
	host := &container.HostConfig{
		AutoRemove:  false, // logs are read after exit
		NetworkMode: "none",
		Binds:       []string{w.Dir + ":" + workDir + ":rw"},
	}
	if d.memory > 0 {
		host.Resources.Memory = d.memory
		host.Resources.MemorySwap = d.memory
	}
	return cfg, host
}

func (d *Executor) Execute(ctx context.Context, p sandbox.Program, in sandbox.Inputs) (*sandbox.Result, error) {
	w, err := sandbox.NewWorkspace(d.root, p, in)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	containerID, err := d.create(runCtx, w)
	if err != nil {
		return nil, err
	}
	defer d.remove(containerID)

	if err := d.cli.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("docker: start %s: %w", containerID, err)
	}

	var exitCode int64
	statusCh, errCh := d.cli.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			if ctx.Err() == nil && runCtx.Err() != nil {
				stdout, _, _ := d.logs(containerID)
				return &sandbox.Result{Stdout: stdout, Failure: fmt.Sprintf("transformation %s timed out after %s", p.Slug, d.timeout)}, nil
			}
			return nil, fmt.Errorf("docker: wait %s: %w", containerID, err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
		if status.Error != nil {
			return nil, fmt.Errorf("docker: wait %s: %s", containerID, status.Error.Message)
		}
	}

	stdout, stderr, err := d.logs(containerID)
	if err != nil {
		return nil, err
	}
	common.GetLogger().Debug("container exited",
		zap.String("transformation", p.Slug),
		zap.String("container", containerID),
		zap.Int64("status", exitCode))

	if exitCode != 0 {
		if exitCode == 137 && stderr == "" {
			stderr = "container killed, memory limit exceeded?"
		}
		trace := stderr
		if trace == "" {
			trace = fmt.Sprintf("exit status %d", exitCode)
		}
		return &sandbox.Result{Stdout: stdout, Failure: trace}, nil
	}

	out, ok, err := w.Output()
	if err != nil {
		return nil, err
	}
	if !ok {
		return &sandbox.Result{Stdout: stdout, Failure: "transformation produced no output table"}, nil
	}
	return &sandbox.Result{Output: out, Stdout: stdout}, nil
}

func (d *Executor) create(ctx context.Context, w *sandbox.Workspace) (string, error) {
	cfg, host := d.containerConfig(w)
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if errdefs.IsNotFound(err) {
		if err := d.pull(ctx); err != nil {
			return "", err
		}
		resp, err = d.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	}
	if err != nil {
		return "", fmt.Errorf("docker: create container: %w", err)
	}
	return resp.ID, nil
}

func (d *Executor) pull(ctx context.Context) error {
	common.GetLogger().Info("pulling sandbox image", zap.String("image", d.image))
	rc, err := d.cli.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker: pull %s: %w", d.image, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// logs uses its own context so output survives a cancelled run.
func (d *Executor) logs(containerID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("docker: logs %s: %w", containerID, err)
	}
	defer out.Close()

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	if _, err := stdcopy.StdCopy(stdout, stderr, out); err != nil {
		return "", "", fmt.Errorf("docker: copy logs %s: %w", containerID, err)
	}
	return stdout.String(), stderr.String(), nil
}

func (d *Executor) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		common.GetLogger().Warn("fail to remove container", zap.String("container", containerID), zap.Error(err))
	}
}
