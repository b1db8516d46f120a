package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dataflow/internal/buffer"
	"dataflow/internal/common"
	"dataflow/internal/driver"
	_ "dataflow/internal/driver/all"
	"dataflow/internal/objectstore"
	"dataflow/internal/server/dao"
	"dataflow/internal/server/model"
	"dataflow/internal/task_executor/orchestrator"
	"dataflow/internal/task_executor/runner"
	"dataflow/internal/task_executor/sandbox"
	"dataflow/pkg/queue"
	"dataflow/pkg/table"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	sandbox.Register("worker_copy", sandbox.Func{Arity: 1, Run: func(_ context.Context, _ io.Writer, tables []*table.Table, _ any) (*table.Table, error) {
		return tables[0], nil
	}})
}

type memQueue struct {
	runs    []queue.PipelineRunPayload
	steps   []queue.StepPayload
	backups []queue.BackupPayload
}

func (q *memQueue) EnqueueRun(_ context.Context, p queue.PipelineRunPayload) error {
	q.runs = append(q.runs, p)
	return nil
}

func (q *memQueue) EnqueueStep(_ context.Context, p queue.StepPayload) error {
	q.steps = append(q.steps, p)
	return nil
}

func (q *memQueue) EnqueueBackup(_ context.Context, p queue.BackupPayload) error {
	q.backups = append(q.backups, p)
	return nil
}

func task(t *testing.T, typename string, payload any) *asynq.Task {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typename, data)
}

type fixture struct {
	handlers *Handlers
	orch     *orchestrator.Orchestrator
	queue    *memQueue
	store    objectstore.Storage
}

func setup(t *testing.T) *fixture {
	database, err := dao.Connect(common.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	dao.UseDB(database)

	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), "in/orders.csv", strings.NewReader("amt\n1\n2\n")))

	q := &memQueue{}
	buffers := buffer.New(t.TempDir(), store)
	engine := runner.NewEngine(sandbox.Mux{model.LanguageGo: sandbox.GoFuncs{}}, buffers, q)
	orch := orchestrator.New(engine, buffers, q, nil, driver.Deps{Store: store})
	return &fixture{handlers: NewHandlers(orch, buffers), orch: orch, queue: q, store: store}
}

func (f *fixture) pipeline(t *testing.T, slug string, entity string) *model.Pipeline {
	ctx := context.Background()
	src := &model.DataSource{Slug: slug + "-src", SourceType: driver.TypeCSV, ConnectionString: "in", EntityName: entity}
	require.NoError(t, dao.NewDataSourceDao().Create(ctx, src))
	dest := &model.DataSource{Slug: slug + "-dest", Title: "Out", SourceType: driver.TypeCSV, ConnectionString: "out", EntityName: slug + ".csv"}
	require.NoError(t, dao.NewDataSourceDao().Create(ctx, dest))

	p := &model.Pipeline{Slug: slug, DestinationID: &dest.ID}
	require.NoError(t, dao.NewPipelineDao().Create(ctx, p))
	require.NoError(t, dao.NewPipelineDao().ReplaceSources(ctx, p.ID, []model.PipelineSource{{DataSourceID: src.ID, Position: 0}}))
	tr := &model.Transformation{Slug: "copy", PipelineID: &p.ID, Order: 1, Code: "worker_copy", Language: model.LanguageGo}
	require.NoError(t, dao.NewTransformationDao().Create(ctx, tr))
	return p
}

func TestHandlersRunPipeline(t *testing.T) {
	f := setup(t)
	f.pipeline(t, "orders", "orders.csv")
	ctx := context.Background()

	exec, err := f.orch.Trigger(ctx, "orders", orchestrator.TriggerOptions{})
	require.NoError(t, err)
	require.Len(t, f.queue.runs, 1)

	require.NoError(t, f.handlers.HandleRun(ctx, task(t, queue.PipelineRun, f.queue.runs[0])))
	require.Len(t, f.queue.steps, 1)
	require.NoError(t, f.handlers.HandleStep(ctx, task(t, queue.TransformationRun, f.queue.steps[0])))
	require.Len(t, f.queue.backups, 1)
	require.NoError(t, f.handlers.HandleBackup(ctx, task(t, queue.BufferBackup, f.queue.backups[0])))

	got, err := dao.NewPipelineExecDao().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, got.Done)
	assert.Equal(t, model.StatusOperational, got.Status)

	ok, err := f.store.Exists(ctx, "out/orders.csv")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.store.Exists(ctx, buffer.BackupPath("orders"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandlersSkipRetryOnBadPayload(t *testing.T) {
	f := setup(t)
	bad := asynq.NewTask(queue.TransformationRun, []byte("{"))
	err := f.handlers.HandleStep(context.Background(), bad)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlersClassifyErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// unknown pipeline can never succeed
	err := f.handlers.HandleRun(ctx, task(t, queue.PipelineRun, queue.PipelineRunPayload{PipelineSlug: "ghost"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	// missing buffer for backup is permanent too
	err = f.handlers.HandleBackup(ctx, task(t, queue.BufferBackup, queue.BackupPayload{ExecutionID: 7, PipelineSlug: "ghost"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleErrorFailsExecution(t *testing.T) {
	f := setup(t)
	f.pipeline(t, "orders", "orders.csv")
	ctx := context.Background()

	exec, err := f.orch.Trigger(ctx, "orders", orchestrator.TriggerOptions{})
	require.NoError(t, err)

	cause := errors.New("dial tcp: connection refused")
	f.handlers.HandleError(ctx, task(t, queue.TransformationRun, queue.StepPayload{ExecutionID: exec.ID, Step: 1}), cause)

	got, err := dao.NewPipelineExecDao().GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, got.Done)
	assert.Equal(t, model.StatusCritical, got.Status)
	assert.Contains(t, got.Stdout, "connection refused")
}

func TestExhausted(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		retried  int
		maxRetry int
		want     bool
	}{
		{"retries left", errors.New("boom"), 1, 5, false},
		{"out of retries", errors.New("boom"), 5, 5, true},
		{"skip retry", fmt.Errorf("bad: %w", asynq.SkipRetry), 0, 5, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, exhausted(c.err, c.retried, c.maxRetry))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	transient := fmt.Errorf("read: %w", common.ErrStorageUnavailable)
	assert.Equal(t, transient, classify(transient))

	permanent := fmt.Errorf("load: %w", common.ErrTableNotFound)
	err := classify(permanent)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, common.ErrTableNotFound)
}

func TestFixedDelay(t *testing.T) {
	delay := FixedDelay(3 * time.Minute)
	assert.Equal(t, 3*time.Minute, delay(1, nil, nil))
	assert.Equal(t, 3*time.Minute, delay(9, nil, nil))
}

func TestClientDedupesByTaskID(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	c := NewClient(asynq.RedisClientOpt{Addr: mini.Addr()}, 3)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	step := queue.StepPayload{ExecutionID: 4, Step: 2}
	require.NoError(t, c.EnqueueStep(ctx, step))
	require.NoError(t, c.EnqueueStep(ctx, step))
	assert.True(t, mini.Exists("asynq:{default}:t:"+queue.StepTaskID(4, 2, 0)))

	pending, err := mini.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestClientQueuesResumeDespiteRetainedTask(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	c := NewClient(asynq.RedisClientOpt{Addr: mini.Addr()}, 3)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	run := queue.PipelineRunPayload{PipelineSlug: "orders", ExecutionID: 4}
	require.NoError(t, c.EnqueueRun(ctx, run))
	// the original run task still holds its id
	require.NoError(t, c.EnqueueRun(ctx, run))

	run.Attempt = 1
	require.NoError(t, c.EnqueueRun(ctx, run))
	require.NoError(t, c.EnqueueStep(ctx, queue.StepPayload{ExecutionID: 4, Step: 1}))
	require.NoError(t, c.EnqueueStep(ctx, queue.StepPayload{ExecutionID: 4, Step: 1, Attempt: 1}))

	assert.True(t, mini.Exists("asynq:{default}:t:"+queue.RunTaskID(4, 1)))
	assert.True(t, mini.Exists("asynq:{default}:t:"+queue.StepTaskID(4, 1, 1)))
	pending, err := mini.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}
