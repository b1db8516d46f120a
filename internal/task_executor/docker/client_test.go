package docker

import (
	"context"
	"testing"
	"time"

	"dataflow/internal/common"
	"dataflow/internal/task_executor/sandbox"
	"dataflow/pkg/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) *Executor {
	conf := common.GetConfig()
	conf.BufferDir = t.TempDir()
	conf.SandboxMemoryMB = 128
	conf.SandboxTimeout = time.Minute
	d, err := NewExecutor(conf)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestContainerConfig(t *testing.T) {
	d := newTestExecutor(t)
	w := &sandbox.Workspace{Dir: "/tmp/dataflow-x"}

	cfg, host := d.containerConfig(w)
	assert.Equal(t, []string{"python", "/work/harness.py"}, []string(cfg.Cmd))
	assert.Equal(t, "/work", cfg.WorkingDir)
	assert.True(t, cfg.NetworkDisabled)
	assert.Equal(t, "none", string(host.NetworkMode))
	assert.Equal(t, []string{"/tmp/dataflow-x:/work:rw"}, host.Binds)
	assert.EqualValues(t, 128*1024*1024, host.Resources.Memory)
}

func TestExecuteInContainer(t *testing.T) {
	d := newTestExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Ping(ctx); err != nil {
		t.Skipf("docker daemon not reachable: %v", err)
	}

	in := table.New("amt")
	require.NoError(t, in.Append(1))
	res, err := d.Execute(context.Background(),
		sandbox.Program{Slug: "echo", Source: "def run(df):\n    print('in container')\n    return df\n"},
		sandbox.Inputs{Tables: []*table.Table{in}})
	require.NoError(t, err)
	require.False(t, res.Failed(), res.Failure)
	assert.Contains(t, res.Stdout, "in container")
	assert.Equal(t, 1, res.Output.Len())
}
