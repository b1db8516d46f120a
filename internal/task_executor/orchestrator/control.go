package orchestrator

import (
	"context"

	"dataflow/internal/common"
	"dataflow/internal/server/model"
	"dataflow/pkg/queue"

	"go.uber.org/zap"
)

const AllPipelines = "all"

// Abort marks a running execution ABORTED. The chain notices at the top of
// its next step; a transformation already in flight is not interrupted.
// Only the status column is touched, and only while the execution runs.
func (o *Orchestrator) Abort(ctx context.Context, executionID uint) (*model.PipelineExecution, error) {
	ok, err := o.executions.Abort(ctx, executionID)
	if err != nil {
		return nil, err
	}
	exec, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.WithMsg(common.RequestInvalid, "execution already finished with status "+exec.Status)
	}
	common.GetLogger().Info("execution abort requested", zap.Uint("execution_id", exec.ID))
	return exec, nil
}

// Resume queues the run task of an existing execution again. StartRun picks
// it up where it stopped. Each resume gets fresh task ids, so tasks of the
// earlier attempt still retained by the queue do not swallow it.
func (o *Orchestrator) Resume(ctx context.Context, executionID uint) (*model.PipelineExecution, error) {
	exec, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Done {
		return nil, common.WithMsg(common.RequestInvalid, "execution already finished with status "+exec.Status)
	}
	attempt, err := o.executions.Resumed(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	exec.Resumes = attempt
	payload := queue.PipelineRunPayload{PipelineSlug: exec.Pipeline.Slug, ExecutionID: exec.ID, Attempt: attempt}
	if err := o.enqueuer.EnqueueRun(ctx, payload); err != nil {
		return nil, common.WithMsg(common.PipelineStartFail, err.Error())
	}
	common.GetLogger().Info("execution resumed", zap.Uint("execution_id", exec.ID), zap.Int("attempt", attempt))
	return exec, nil
}

// Fail records an error the task layer gave up retrying.
func (o *Orchestrator) Fail(ctx context.Context, executionID uint, cause error) error {
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
	return o.finish(ctx, exec, pipeline, model.StatusCritical, cause.Error())
}

// CleanHistory deletes the finished executions of one pipeline, or of every
// pipeline when slug is "all", along with their buffer files. Executions
// still running are kept.
func (o *Orchestrator) CleanHistory(ctx context.Context, slug string) (int64, error) {
	var pipelineID uint
	if slug != AllPipelines {
		pipeline, err := o.pipelines.GetBySlug(ctx, slug)
		if err != nil {
			return 0, err
		}
		pipelineID = pipeline.ID
	}
	list, err := o.executions.ListHistory(ctx, pipelineID, 0)
	if err != nil {
		return 0, err
	}

	var ids []uint
	for _, exec := range list {
		if !exec.Done {
			continue
		}
		ids = append(ids, exec.ID)
		if exec.Pipeline == nil {
			continue
		}
		if _, err := o.buffers.Purge(exec.ID, exec.Pipeline.Slug); err != nil {
			common.GetLogger().Warn("purge buffers", zap.Uint("execution_id", exec.ID), zap.Error(err))
		}
	}
	n, err := o.executions.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}
	common.GetLogger().Info("execution history cleaned", zap.String("pipeline", slug), zap.Int64("deleted", n))
	return n, nil
}
