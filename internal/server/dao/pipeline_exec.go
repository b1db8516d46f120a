package dao

import (
	"context"
	"errors"

	"dataflow/internal/common"
	"dataflow/internal/server/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PipelineExecDao interface {
	Create(ctx context.Context, exec *model.PipelineExecution) error
	// Update writes only the named columns of exec.
	Update(ctx context.Context, exec *model.PipelineExecution, columns ...string) error
	// SetStatus changes the status of a running execution. It reports false,
	// leaving the row alone, when the execution is finished or aborted.
	SetStatus(ctx context.Context, id uint, status string) (bool, error)
	// Abort marks a running execution ABORTED. It reports false when the
	// execution already finished.
	Abort(ctx context.Context, id uint) (bool, error)
	// Finish writes the terminal columns of exec unless another writer
	// finished it first, in which case it reports false.
	Finish(ctx context.Context, exec *model.PipelineExecution) (bool, error)
	// Resumed bumps the resume counter and returns its new value.
	Resumed(ctx context.Context, id uint) (int, error)
	GetByID(ctx context.Context, id uint) (*model.PipelineExecution, error)
	// ListHistory returns newest first; pipelineID 0 means every pipeline.
	ListHistory(ctx context.Context, pipelineID uint, limit int) ([]*model.PipelineExecution, error)
	ListByPipelines(ctx context.Context, pipelineIDs []uint) ([]*model.PipelineExecution, error)
	Delete(ctx context.Context, ids []uint) (int64, error)
}

type pipelineExecDAO struct {
}

func NewPipelineExecDao() PipelineExecDao {
	return &pipelineExecDAO{}
}

func (p *pipelineExecDAO) Create(ctx context.Context, exec *model.PipelineExecution) error {
	return conn(ctx).Omit(clause.Associations).Create(exec).Error
}

func (p *pipelineExecDAO) Update(ctx context.Context, exec *model.PipelineExecution, columns ...string) error {
	return conn(ctx).Model(exec).Select(columns).Updates(exec).Error
}

func (p *pipelineExecDAO) SetStatus(ctx context.Context, id uint, status string) (bool, error) {
	res := conn(ctx).Model(&model.PipelineExecution{}).
		Where("id = ? AND done = ? AND status <> ?", id, false, model.StatusAborted).
		Update("status", status)
	return res.RowsAffected > 0, res.Error
}

func (p *pipelineExecDAO) Abort(ctx context.Context, id uint) (bool, error) {
	res := conn(ctx).Model(&model.PipelineExecution{}).
		Where("id = ? AND done = ?", id, false).
		Update("status", model.StatusAborted)
	return res.RowsAffected > 0, res.Error
}

func (p *pipelineExecDAO) Finish(ctx context.Context, exec *model.PipelineExecution) (bool, error) {
	res := conn(ctx).Model(exec).
		Where("done = ?", false).
		Select("status", "stdout", "ended_at", "done").
		Updates(exec)
	return res.RowsAffected > 0, res.Error
}

func (p *pipelineExecDAO) Resumed(ctx context.Context, id uint) (int, error) {
	res := conn(ctx).Model(&model.PipelineExecution{}).
		Where("id = ? AND done = ?", id, false).
		Update("resumes", gorm.Expr("resumes + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, common.WithMsg(common.RequestInvalid, "execution already finished")
	}
	var exec model.PipelineExecution
	if err := conn(ctx).Select("resumes").Where("id = ?", id).Take(&exec).Error; err != nil {
		return 0, err
	}
	return exec.Resumes, nil
}

func (p *pipelineExecDAO) GetByID(ctx context.Context, id uint) (*model.PipelineExecution, error) {
	var exec model.PipelineExecution
	if err := conn(ctx).Preload("Pipeline").Where("id = ?", id).Take(&exec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.ExecutionNotExists)
		}
		return nil, err
	}
	return &exec, nil
}

func (p *pipelineExecDAO) ListHistory(ctx context.Context, pipelineID uint, limit int) ([]*model.PipelineExecution, error) {
	var list []*model.PipelineExecution
	q := conn(ctx).Preload("Pipeline").Order("id DESC")
	if pipelineID != 0 {
		q = q.Where("pipeline_id = ?", pipelineID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (p *pipelineExecDAO) ListByPipelines(ctx context.Context, pipelineIDs []uint) ([]*model.PipelineExecution, error) {
	var list []*model.PipelineExecution
	if len(pipelineIDs) == 0 {
		return list, nil
	}
	if err := conn(ctx).Preload("Pipeline").Where("pipeline_id IN ?", pipelineIDs).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (p *pipelineExecDAO) Delete(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := conn(ctx).Unscoped().Where("id IN ?", ids).Delete(&model.PipelineExecution{})
	return res.RowsAffected, res.Error
}
