package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dataflow/internal/buffer"
	"dataflow/internal/common"
	"dataflow/internal/server/dao"
	"dataflow/internal/server/model"
	"dataflow/internal/task_executor/sandbox"
	"dataflow/pkg/queue"

	"go.uber.org/zap"
)

type BackupEnqueuer interface {
	EnqueueBackup(ctx context.Context, p queue.BackupPayload) error
}

// Engine runs a single transformation of an execution. Script failures end
// up on the transformation row; only infrastructure problems are returned.
type Engine struct {
	executor        sandbox.Executor
	buffers         *buffer.Store
	backups         BackupEnqueuer
	pipelines       dao.PipelineDao
	transformations dao.TransformationDao
	now             func() time.Time
}

func NewEngine(executor sandbox.Executor, buffers *buffer.Store, backups BackupEnqueuer) *Engine {
	return &Engine{
		executor:        executor,
		buffers:         buffers,
		backups:         backups,
		pipelines:       dao.NewPipelineDao(),
		transformations: dao.NewTransformationDao(),
		now:             time.Now,
	}
}

// Run executes t as step of exec. On success the output is staged for the
// current slot; the caller promotes it once the step is committed.
func (e *Engine) Run(ctx context.Context, t *model.Transformation, exec *model.PipelineExecution, step int) error {
	if t.PipelineID == nil {
		return fmt.Errorf("%w: transformation %s does not belong to any pipeline", common.ErrConfiguration, t.Slug)
	}
	pipeline, err := e.pipelines.GetByID(ctx, *t.PipelineID)
	if err != nil {
		return err
	}
	log := common.GetLogger().With(
		zap.Uint("execution_id", exec.ID),
		zap.String("pipeline", pipeline.Slug),
		zap.String("transformation", t.Slug),
		zap.Int("step", step))
	current := buffer.Slot{ExecutionID: exec.ID, Pipeline: pipeline.Slug, Position: 0}

	if strings.TrimSpace(t.Code) == "" {
		e.mark(t, model.StatusCritical, 1, "Script not found or its body is empty: "+t.Slug)
		if err := e.save(ctx, t, log); err != nil {
			return err
		}
		e.backup(ctx, current, step, log)
		return nil
	}

	inputs := sandbox.Inputs{Stream: exec.IncomingStream}
	for pos := range pipeline.Sources {
		slot := current
		slot.Position = pos
		tb, err := e.buffers.Load(slot)
		if err != nil {
			return err
		}
		inputs.Tables = append(inputs.Tables, tb)
	}

	start := time.Now()
	res, err := e.executor.Execute(ctx, sandbox.Program{Slug: t.Slug, Language: t.Language, Source: t.Code}, inputs)
	if err != nil {
		return err
	}
	common.TransformationDuration.WithLabelValues(t.Language).Observe(time.Since(start).Seconds())

	if res.Failed() {
		e.mark(t, model.StatusCritical, 1, joinTrace(res.Stdout, res.Failure))
		log.Info("transformation failed", zap.Int("stdout_bytes", len(res.Stdout)))
	} else {
		if err := e.buffers.Stage(current, step, res.Output); err != nil {
			return err
		}
		e.mark(t, model.StatusOperational, 0, res.Stdout)
		log.Info("transformation succeeded", zap.Int("rows", res.Output.Len()))
	}
	if err := e.save(ctx, t, log); err != nil {
		return err
	}

	e.backup(ctx, current, step, log)
	return nil
}

func (e *Engine) mark(t *model.Transformation, status string, code int, stdout string) {
	now := e.now()
	t.Status = status
	t.StatusCode = &code
	t.Stdout = stdout
	t.LastRun = &now
}

func (e *Engine) save(ctx context.Context, t *model.Transformation, log *zap.Logger) error {
	common.TransformationsRun.WithLabelValues(t.Status).Inc()
	if err := e.transformations.Save(ctx, t); err != nil {
		log.Error("save transformation", zap.Error(err))
		return err
	}
	return nil
}

// backup never fails the run.
func (e *Engine) backup(ctx context.Context, slot buffer.Slot, step int, log *zap.Logger) {
	if e.backups == nil {
		return
	}
	err := e.backups.EnqueueBackup(ctx, queue.BackupPayload{
		ExecutionID:  slot.ExecutionID,
		PipelineSlug: slot.Pipeline,
		Position:     slot.Position,
		Step:         step,
	})
	if err != nil {
		log.Warn("enqueue buffer backup", zap.Error(err))
	}
}

func joinTrace(stdout, trace string) string {
	if stdout == "" {
		return trace
	}
	if !strings.HasSuffix(stdout, "\n") {
		stdout += "\n"
	}
	return stdout + trace
}
