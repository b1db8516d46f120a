package dao

import (
	"context"
	"errors"

	"dataflow/internal/common"
	"dataflow/internal/server/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransformationDao interface {
	Create(ctx context.Context, t *model.Transformation) error
	Save(ctx context.Context, t *model.Transformation) error
	GetByID(ctx context.Context, id uint) (*model.Transformation, error)
	Get(ctx context.Context, pipelineID uint, slug string) (*model.Transformation, error)
	// FindBySlug looks a transformation up by slug, narrowed to a pipeline
	// when pipelineSlug is not empty.
	FindBySlug(ctx context.Context, slug, pipelineSlug string) (*model.Transformation, error)
	ListByPipeline(ctx context.Context, pipelineID uint) ([]*model.Transformation, error)
	ResetStatus(ctx context.Context, pipelineID uint, status string) error
	// DeleteExcept removes the pipeline's transformations whose slug is not in keep.
	DeleteExcept(ctx context.Context, pipelineID uint, keep []string) (int64, error)
}

type transformationDAO struct {
}

func NewTransformationDao() TransformationDao {
	return &transformationDAO{}
}

func (d *transformationDAO) Create(ctx context.Context, t *model.Transformation) error {
	return conn(ctx).Omit(clause.Associations).Create(t).Error
}

func (d *transformationDAO) Save(ctx context.Context, t *model.Transformation) error {
	return conn(ctx).Omit(clause.Associations).Save(t).Error
}

func (d *transformationDAO) GetByID(ctx context.Context, id uint) (*model.Transformation, error) {
	var t model.Transformation
	if err := conn(ctx).Preload("Pipeline").Where("id = ?", id).Take(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.TransformationNotExists)
		}
		return nil, err
	}
	return &t, nil
}

func (d *transformationDAO) Get(ctx context.Context, pipelineID uint, slug string) (*model.Transformation, error) {
	var t model.Transformation
	err := conn(ctx).Preload("Pipeline").
		Where("pipeline_id = ? AND slug = ?", pipelineID, slug).
		Take(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.TransformationNotExists)
		}
		return nil, err
	}
	return &t, nil
}

func (d *transformationDAO) FindBySlug(ctx context.Context, slug, pipelineSlug string) (*model.Transformation, error) {
	var t model.Transformation
	q := conn(ctx).Preload("Pipeline").Where("transformations.slug = ?", slug)
	if pipelineSlug != "" {
		q = q.Joins("JOIN pipelines ON pipelines.id = transformations.pipeline_id").
			Where("pipelines.slug = ?", pipelineSlug)
	}
	if err := q.Order("transformations.id").First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.TransformationNotExists)
		}
		return nil, err
	}
	return &t, nil
}

func (d *transformationDAO) ListByPipeline(ctx context.Context, pipelineID uint) ([]*model.Transformation, error) {
	var list []*model.Transformation
	err := conn(ctx).Where("pipeline_id = ?", pipelineID).Order("run_order, id").Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (d *transformationDAO) ResetStatus(ctx context.Context, pipelineID uint, status string) error {
	return conn(ctx).Model(&model.Transformation{}).
		Where("pipeline_id = ?", pipelineID).
		Update("status", status).Error
}

func (d *transformationDAO) DeleteExcept(ctx context.Context, pipelineID uint, keep []string) (int64, error) {
	q := conn(ctx).Unscoped().Where("pipeline_id = ?", pipelineID)
	if len(keep) > 0 {
		q = q.Where("slug NOT IN ?", keep)
	}
	res := q.Delete(&model.Transformation{})
	return res.RowsAffected, res.Error
}
