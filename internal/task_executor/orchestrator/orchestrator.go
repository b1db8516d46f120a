// Package orchestrator drives a pipeline execution through its states:
// source loading, one queued step per transformation, and the final write
// to the destination. All progress is kept on the execution row so a
// redelivered task picks up where the last committed step left off.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dataflow/internal/buffer"
	"dataflow/internal/common"
	"dataflow/internal/driver"
	"dataflow/internal/lock"
	"dataflow/internal/server/dao"
	"dataflow/internal/server/model"
	"dataflow/pkg/queue"
	"dataflow/pkg/table"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const abortedNote = "aborted by operator"

type Enqueuer interface {
	EnqueueRun(ctx context.Context, p queue.PipelineRunPayload) error
	EnqueueStep(ctx context.Context, p queue.StepPayload) error
	EnqueueBackup(ctx context.Context, p queue.BackupPayload) error
}

// StepRunner executes one transformation; see runner.Engine.
type StepRunner interface {
	Run(ctx context.Context, t *model.Transformation, exec *model.PipelineExecution, step int) error
}

type Locker interface {
	Acquire(ctx context.Context, pipeline string, executionID uint) error
	Release(ctx context.Context, pipeline string, executionID uint) error
}

type Orchestrator struct {
	runner   StepRunner
	buffers  *buffer.Store
	enqueuer Enqueuer
	locker   Locker
	deps     driver.Deps

	projects        dao.ProjectDao
	pipelines       dao.PipelineDao
	transformations dao.TransformationDao
	executions      dao.PipelineExecDao
	now             func() time.Time
}

// New wires an orchestrator. locker may be nil, in which case concurrent
// executions of one pipeline are not prevented.
func New(runner StepRunner, buffers *buffer.Store, enqueuer Enqueuer, locker Locker, deps driver.Deps) *Orchestrator {
	return &Orchestrator{
		runner:          runner,
		buffers:         buffers,
		enqueuer:        enqueuer,
		locker:          locker,
		deps:            deps,
		projects:        dao.NewProjectDao(),
		pipelines:       dao.NewPipelineDao(),
		transformations: dao.NewTransformationDao(),
		executions:      dao.NewPipelineExecDao(),
		now:             time.Now,
	}
}

type TriggerOptions struct {
	Type   string
	Stream json.RawMessage
}

// Trigger records a new execution and queues its run.
func (o *Orchestrator) Trigger(ctx context.Context, slug string, opts TriggerOptions) (*model.PipelineExecution, error) {
	pipeline, err := o.pipelines.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if opts.Type == "" {
		opts.Type = model.TriggerManual
	}
	exec := &model.PipelineExecution{
		PipelineID:     pipeline.ID,
		Status:         model.StatusLoading,
		TriggerType:    opts.Type,
		IncomingStream: opts.Stream,
	}
	if err := o.executions.Create(ctx, exec); err != nil {
		return nil, err
	}
	exec.Pipeline = pipeline
	if err := o.enqueuer.EnqueueRun(ctx, queue.PipelineRunPayload{PipelineSlug: slug, ExecutionID: exec.ID}); err != nil {
		return nil, fmt.Errorf("%w: %v", common.NewErrNo(common.PipelineStartFail), err)
	}
	common.GetLogger().Info("pipeline triggered",
		zap.String("pipeline", slug),
		zap.Uint("execution_id", exec.ID),
		zap.String("trigger", opts.Type))
	return exec, nil
}

// RunProject triggers every pipeline of a project independently.
func (o *Orchestrator) RunProject(ctx context.Context, projectID uint) ([]*model.PipelineExecution, error) {
	if _, err := o.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	pipelines, err := o.pipelines.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return o.triggerAll(ctx, pipelines, model.TriggerManual)
}

// EnqueueDue triggers the pipelines whose schedule has come around.
func (o *Orchestrator) EnqueueDue(ctx context.Context, now time.Time) ([]*model.PipelineExecution, error) {
	pipelines, err := o.pipelines.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}
	return o.triggerAll(ctx, pipelines, model.TriggerSchedule)
}

func (o *Orchestrator) triggerAll(ctx context.Context, pipelines []*model.Pipeline, trigger string) ([]*model.PipelineExecution, error) {
	var (
		started []*model.PipelineExecution
		errs    []error
	)
	for _, p := range pipelines {
		exec, err := o.Trigger(ctx, p.Slug, TriggerOptions{Type: trigger})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Slug, err))
			continue
		}
		started = append(started, exec)
	}
	return started, errors.Join(errs...)
}

// StartRun loads the sources of an execution and queues its first step.
// executionID 0 creates a fresh execution.
func (o *Orchestrator) StartRun(ctx context.Context, slug string, executionID uint) error {
	pipeline, err := o.pipelines.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}

	var exec *model.PipelineExecution
	if executionID == 0 {
		exec = &model.PipelineExecution{PipelineID: pipeline.ID, Status: model.StatusLoading, TriggerType: model.TriggerManual}
		if err := o.executions.Create(ctx, exec); err != nil {
			return err
		}
	} else {
		exec, err = o.executions.GetByID(ctx, executionID)
		if err != nil {
			return err
		}
		if exec.PipelineID != pipeline.ID {
			return fmt.Errorf("%w: execution %d does not belong to pipeline %s", common.ErrConfiguration, executionID, slug)
		}
	}
	log := common.GetLogger().With(zap.Uint("execution_id", exec.ID), zap.String("pipeline", slug))

	switch {
	case exec.Done:
		log.Info("execution already finished, nothing to start")
		return nil
	case exec.Status == model.StatusAborted:
		return o.finish(ctx, exec, pipeline, model.StatusAborted, abortedNote)
	case exec.StartedAt != nil && (len(exec.Remaining) > 0 || exec.StepsDone > 0):
		// redelivered after the chain was handed off
		log.Info("run already started, re-queueing next step", zap.Int("steps_done", exec.StepsDone))
		return o.enqueueNext(ctx, exec)
	}

	// the pipeline row belongs to whoever holds the lock
	if o.locker != nil {
		err := o.locker.Acquire(ctx, slug, exec.ID)
		if errors.Is(err, lock.ErrHeld) {
			return o.reject(ctx, exec, slug, fmt.Sprintf("Pipeline %s is already running: %v", slug, err))
		}
		if err != nil {
			return err
		}
	}

	now := o.now()
	exec.StartedAt = &now
	pipeline.StartedAt = &now
	pipeline.Status = model.StatusLoading
	if err := dao.Transaction(ctx, func(ctx context.Context) error {
		if err := o.executions.Update(ctx, exec, "started_at"); err != nil {
			return err
		}
		return o.pipelines.UpdateRunState(ctx, pipeline)
	}); err != nil {
		return err
	}

	if len(pipeline.Sources) == 0 || pipeline.Destination == nil {
		return o.finish(ctx, exec, pipeline, model.StatusCritical, fmt.Sprintf("Pipeline %s does not have both sources defined", slug))
	}

	if err := o.transformations.ResetStatus(ctx, pipeline.ID, model.StatusLoading); err != nil {
		return err
	}

	if err := o.materialize(ctx, exec, pipeline); err != nil {
		var se *sourceError
		if errors.As(err, &se) {
			return o.finish(ctx, exec, pipeline, model.StatusCritical, se.message())
		}
		return o.finish(ctx, exec, pipeline, model.StatusCritical, err.Error())
	}

	list, err := o.transformations.ListByPipeline(ctx, pipeline.ID)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		remaining = append(remaining, list[i].Slug)
	}
	exec.Remaining = remaining
	exec.StepsDone = 0
	exec.Status = model.StatusLoading
	if err := o.commit(ctx, exec, nil); err != nil {
		return err
	}
	log.Info("sources loaded", zap.Int("sources", len(pipeline.Sources)), zap.Int("transformations", len(remaining)))
	return o.advance(ctx, exec, pipeline)
}

type sourceError struct {
	source *model.DataSource
	err    error
}

func (e *sourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.source.Slug, e.err)
}

func (e *sourceError) Unwrap() error { return e.err }

func (e *sourceError) message() string {
	if errors.Is(e.err, common.ErrTableNotFound) {
		return missingTable(e.source)
	}
	return e.Error()
}

func missingTable(src *model.DataSource) string {
	return fmt.Sprintf("Dataset table not found for %s.%s -> table: %s", src.SourceType, src.Database, src.EntityName)
}

// materialize reads every source into its buffer slot.
func (o *Orchestrator) materialize(ctx context.Context, exec *model.PipelineExecution, pipeline *model.Pipeline) error {
	for _, link := range pipeline.Sources {
		if link.DataSource == nil {
			return fmt.Errorf("%w: pipeline %s source at position %d is missing", common.ErrConfiguration, pipeline.Slug, link.Position)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, link := range pipeline.Sources {
		src := link.DataSource
		slot := buffer.Slot{ExecutionID: exec.ID, Pipeline: pipeline.Slug, Position: link.Position}
		g.Go(func() error {
			if err := o.load(gctx, src, slot); err != nil {
				return &sourceError{source: src, err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) load(ctx context.Context, src *model.DataSource, slot buffer.Slot) error {
	d, err := driver.Open(ctx, driverConfig(src), o.deps)
	if err != nil {
		return err
	}
	defer d.Close()

	t, err := d.Read(ctx, src.EntityName)
	if err != nil {
		return err
	}
	if err := o.buffers.Save(slot, t); err != nil {
		return err
	}
	common.GetLogger().Debug("source loaded",
		zap.String("source", src.Slug),
		zap.String("slot", slot.FileName()),
		zap.Int("rows", t.Len()))
	return nil
}

func driverConfig(src *model.DataSource) driver.Config {
	return driver.Config{Type: src.SourceType, ConnectionString: src.ConnectionString, Database: src.Database}
}

// Step runs transformation number step of an execution.
func (o *Orchestrator) Step(ctx context.Context, executionID uint, step int) error {
	exec, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Done {
		return nil
	}
	pipeline, err := o.pipelines.GetByID(ctx, exec.PipelineID)
	if err != nil {
		return err
	}
	log := common.GetLogger().With(
		zap.Uint("execution_id", exec.ID),
		zap.String("pipeline", pipeline.Slug),
		zap.Int("step", step))

	if exec.Status == model.StatusAborted {
		log.Info("execution aborted, chain stopped")
		return o.finish(ctx, exec, pipeline, model.StatusAborted, abortedNote)
	}

	current := buffer.Slot{ExecutionID: exec.ID, Pipeline: pipeline.Slug}
	switch {
	case step == exec.StepsDone && step > 0:
		log.Info("step already committed, resuming")
		if err := o.buffers.Promote(current, step); err != nil {
			return err
		}
		return o.advance(ctx, exec, pipeline)
	case step != exec.StepsDone+1:
		log.Warn("stale step ignored", zap.Int("steps_done", exec.StepsDone))
		return nil
	}

	remaining := append([]string(nil), exec.Remaining...)
	next := &model.PipelineExecution{Remaining: remaining}
	slug, ok := next.Pop()
	if !ok {
		return o.finalize(ctx, exec, pipeline)
	}

	t, err := o.transformations.Get(ctx, pipeline.ID, slug)
	if err != nil {
		var e common.ErrNo
		if errors.As(err, &e) && e.ErrCode == common.TransformationNotExists {
			return o.finish(ctx, exec, pipeline, model.StatusCritical, fmt.Sprintf("Transformation %s not found in pipeline %s", slug, pipeline.Slug))
		}
		return err
	}

	if err := o.runner.Run(ctx, t, exec, step); err != nil {
		return err
	}

	now := o.now()
	exec.AppendStdout(t.Stdout)
	exec.EndedAt = &now
	pipeline.EndedAt = &now

	if t.Status != model.StatusOperational {
		return o.finish(ctx, exec, pipeline, t.Status, "")
	}

	exec.Remaining = next.Remaining
	exec.StepsDone = step
	exec.Status = t.Status
	pipeline.Status = t.Status
	if err := o.commit(ctx, exec, pipeline); err != nil {
		return err
	}
	if err := o.buffers.Promote(current, step); err != nil {
		return err
	}
	return o.advance(ctx, exec, pipeline)
}

// advance moves on from a committed step.
func (o *Orchestrator) advance(ctx context.Context, exec *model.PipelineExecution, pipeline *model.Pipeline) error {
	switch {
	case exec.Done:
		return nil
	case exec.Status == model.StatusAborted:
		return o.finish(ctx, exec, pipeline, model.StatusAborted, abortedNote)
	case len(exec.Remaining) == 0:
		return o.finalize(ctx, exec, pipeline)
	}
	return o.enqueueNext(ctx, exec)
}

func (o *Orchestrator) enqueueNext(ctx context.Context, exec *model.PipelineExecution) error {
	return o.enqueuer.EnqueueStep(ctx, queue.StepPayload{ExecutionID: exec.ID, Step: exec.StepsDone + 1, Attempt: exec.Resumes})
}

// commit records the chain position of exec. The status is only written
// while the row is still running; an abort or a finish that landed
// meanwhile is loaded into exec instead. pipeline may be nil.
func (o *Orchestrator) commit(ctx context.Context, exec *model.PipelineExecution, pipeline *model.Pipeline) error {
	return dao.Transaction(ctx, func(ctx context.Context) error {
		if err := o.executions.Update(ctx, exec, "remaining", "steps_done", "stdout", "ended_at"); err != nil {
			return err
		}
		ok, err := o.executions.SetStatus(ctx, exec.ID, exec.Status)
		if err != nil {
			return err
		}
		if !ok {
			fresh, err := o.executions.GetByID(ctx, exec.ID)
			if err != nil {
				return err
			}
			exec.Status, exec.Done = fresh.Status, fresh.Done
			return nil
		}
		if pipeline == nil {
			return nil
		}
		return o.pipelines.UpdateRunState(ctx, pipeline)
	})
}

// finalize writes the current buffer to the destination.
func (o *Orchestrator) finalize(ctx context.Context, exec *model.PipelineExecution, pipeline *model.Pipeline) error {
	dest := pipeline.Destination
	if dest == nil {
		return o.finish(ctx, exec, pipeline, model.StatusCritical, fmt.Sprintf("Pipeline %s does not have both sources defined", pipeline.Slug))
	}
	log := common.GetLogger().With(zap.Uint("execution_id", exec.ID), zap.String("pipeline", pipeline.Slug))

	t, err := o.buffers.Load(buffer.Slot{ExecutionID: exec.ID, Pipeline: pipeline.Slug})
	if err != nil {
		return o.finish(ctx, exec, pipeline, model.StatusCritical, err.Error())
	}

	err = o.write(ctx, dest, t, pipeline)
	switch {
	case errors.Is(err, common.ErrTableNotFound):
		return o.finish(ctx, exec, pipeline, model.StatusCritical, missingTable(dest))
	case err != nil:
		log.Error("write destination", zap.Error(err))
		return o.finish(ctx, exec, pipeline, model.StatusCritical, fmt.Sprintf("Error saving to %s: %v", pipeline.DestinationTableName(), err))
	}
	log.Info("destination written", zap.String("table", pipeline.DestinationTableName()), zap.Int("rows", t.Len()))
	return o.finish(ctx, exec, pipeline, model.StatusOperational, "Saved to database "+dest.Title)
}

func (o *Orchestrator) write(ctx context.Context, dest *model.DataSource, t *table.Table, pipeline *model.Pipeline) error {
	d, err := driver.Open(ctx, driverConfig(dest), o.deps)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Write(ctx, t, pipeline.DestinationTableName(), driver.WriteOptions{
		Replace:        pipeline.ReplaceDestinationTable,
		QuotedNewlines: dest.QuotedNewlines,
	})
}

// finish puts exec and its pipeline into a terminal status. When another
// writer finished exec first, the pipeline row is left alone.
func (o *Orchestrator) finish(ctx context.Context, exec *model.PipelineExecution, pipeline *model.Pipeline, status, msg string) error {
	o.end(exec, status, msg)
	pipeline.Status = status
	pipeline.EndedAt = exec.EndedAt
	if msg != "" {
		pipeline.StatusText = msg
	}
	var finished bool
	err := dao.Transaction(ctx, func(ctx context.Context) error {
		ok, err := o.executions.Finish(ctx, exec)
		if err != nil || !ok {
			return err
		}
		finished = true
		return o.pipelines.UpdateRunState(ctx, pipeline)
	})
	if err != nil {
		return err
	}

	if o.locker != nil {
		if err := o.locker.Release(ctx, pipeline.Slug, exec.ID); err != nil {
			common.GetLogger().Warn("release run lock", zap.String("pipeline", pipeline.Slug), zap.Error(err))
		}
	}
	if !finished {
		common.GetLogger().Info("execution already finished elsewhere", zap.Uint("execution_id", exec.ID))
		return nil
	}
	o.finished(exec, pipeline.Slug)
	return nil
}

// reject ends an execution that lost the run lock. The pipeline row and the
// lock stay with the running execution.
func (o *Orchestrator) reject(ctx context.Context, exec *model.PipelineExecution, slug, msg string) error {
	o.end(exec, model.StatusCritical, msg)
	ok, err := o.executions.Finish(ctx, exec)
	if err != nil || !ok {
		return err
	}
	o.finished(exec, slug)
	return nil
}

func (o *Orchestrator) end(exec *model.PipelineExecution, status, msg string) {
	now := o.now()
	exec.Status = status
	exec.AppendStdout(msg)
	exec.EndedAt = &now
	exec.Done = true
}

func (o *Orchestrator) finished(exec *model.PipelineExecution, slug string) {
	common.ExecutionsFinished.WithLabelValues(exec.Status).Inc()
	common.GetLogger().Info("execution finished",
		zap.Uint("execution_id", exec.ID),
		zap.String("pipeline", slug),
		zap.String("status", exec.Status))
}
