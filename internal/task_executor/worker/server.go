package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dataflow/internal/buffer"
	"dataflow/internal/common"
	"dataflow/internal/task_executor/orchestrator"
	"dataflow/pkg/queue"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Handlers turns queue tasks into orchestrator calls.
type Handlers struct {
	orch    *orchestrator.Orchestrator
	buffers *buffer.Store
	now     func() time.Time
}

func NewHandlers(orch *orchestrator.Orchestrator, buffers *buffer.Store) *Handlers {
	return &Handlers{orch: orch, buffers: buffers, now: time.Now}
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.PipelineRun, h.HandleRun)
	mux.HandleFunc(queue.TransformationRun, h.HandleStep)
	mux.HandleFunc(queue.BufferBackup, h.HandleBackup)
	mux.HandleFunc(queue.PipelineScan, h.HandleScan)
}

func (h *Handlers) HandleRun(ctx context.Context, t *asynq.Task) error {
	p, err := queue.Decode[queue.PipelineRunPayload](t.Payload())
	if err != nil {
		return badPayload(err)
	}
	return classify(h.orch.StartRun(ctx, p.PipelineSlug, p.ExecutionID))
}

func (h *Handlers) HandleStep(ctx context.Context, t *asynq.Task) error {
	p, err := queue.Decode[queue.StepPayload](t.Payload())
	if err != nil {
		return badPayload(err)
	}
	return classify(h.orch.Step(ctx, p.ExecutionID, p.Step))
}

func (h *Handlers) HandleBackup(ctx context.Context, t *asynq.Task) error {
	p, err := queue.Decode[queue.BackupPayload](t.Payload())
	if err != nil {
		return badPayload(err)
	}
	slot := buffer.Slot{ExecutionID: p.ExecutionID, Pipeline: p.PipelineSlug, Position: p.Position}
	if err := h.buffers.Backup(ctx, slot, p.Step); err != nil {
		common.BackupsTotal.WithLabelValues("failure").Inc()
		return classify(err)
	}
	common.BackupsTotal.WithLabelValues("success").Inc()
	return nil
}

func (h *Handlers) HandleScan(ctx context.Context, _ *asynq.Task) error {
	started, err := h.orch.EnqueueDue(ctx, h.now())
	if len(started) > 0 {
		common.GetLogger().Info("scheduled pipelines triggered", zap.Int("count", len(started)))
	}
	return err
}

// HandleError is the server's ErrorHandler. Once a run or step task will
// not be retried again its execution is marked CRITICAL.
func (h *Handlers) HandleError(ctx context.Context, t *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	log := common.GetLogger().With(zap.String("type", t.Type()), zap.Int("retried", retried), zap.Error(err))
	if !exhausted(err, retried, maxRetry) {
		log.Warn("task failed, will retry")
		return
	}
	log.Error("task failed permanently")

	var executionID uint
	switch t.Type() {
	case queue.PipelineRun:
		p, _ := queue.Decode[queue.PipelineRunPayload](t.Payload())
		executionID = p.ExecutionID
	case queue.TransformationRun:
		p, _ := queue.Decode[queue.StepPayload](t.Payload())
		executionID = p.ExecutionID
	}
	if executionID == 0 {
		return
	}
	if ferr := h.orch.Fail(ctx, executionID, err); ferr != nil {
		log.Error("mark execution failed", zap.Uint("execution_id", executionID), zap.NamedError("fail_error", ferr))
	}
}

func exhausted(err error, retried, maxRetry int) bool {
	return errors.Is(err, asynq.SkipRetry) || retried >= maxRetry
}

// classify stops retries for errors no retry can fix.
func classify(err error) error {
	if err == nil || !common.IsPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func badPayload(err error) error {
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func FixedDelay(d time.Duration) asynq.RetryDelayFunc {
	return func(int, error, *asynq.Task) time.Duration {
		return d
	}
}

// NewServer builds the asynq server and a mux with every handler registered.
func NewServer(conf common.Config, h *Handlers) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(RedisOpt(conf), asynq.Config{
		Concurrency:    conf.WorkerConcurrency,
		RetryDelayFunc: FixedDelay(conf.TaskRetryDelay),
		ErrorHandler:   asynq.ErrorHandlerFunc(h.HandleError),
		Logger:         common.GetLogger().Sugar(),
	})
	mux := asynq.NewServeMux()
	h.Register(mux)
	return srv, mux
}
