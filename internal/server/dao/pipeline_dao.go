package dao

import (
	"context"
	"errors"
	"time"

	"dataflow/internal/common"
	"dataflow/internal/server/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PipelineDao interface {
	Create(ctx context.Context, pipeline *model.Pipeline) error
	// Save writes the pipeline row only; associations are left alone.
	Save(ctx context.Context, pipeline *model.Pipeline) error
	// UpdateRunState writes the run columns only, so a concurrent sync of the
	// same pipeline is not reverted.
	UpdateRunState(ctx context.Context, pipeline *model.Pipeline) error
	GetByID(ctx context.Context, id uint) (*model.Pipeline, error)
	GetBySlug(ctx context.Context, slug string) (*model.Pipeline, error)
	GetByDestination(ctx context.Context, destinationID uint) (*model.Pipeline, error)
	List(ctx context.Context) ([]*model.Pipeline, error)
	ListByProject(ctx context.Context, projectID uint) ([]*model.Pipeline, error)
	ListDue(ctx context.Context, now time.Time) ([]*model.Pipeline, error)
	ReplaceSources(ctx context.Context, pipelineID uint, sources []model.PipelineSource) error
}

type pipelineDAO struct {
}

func NewPipelineDao() PipelineDao {
	return &pipelineDAO{}
}

func withRelations(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Sources", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Sources.DataSource").
		Preload("Destination").
		Preload("Project")
}

func (d *pipelineDAO) Create(ctx context.Context, pipeline *model.Pipeline) error {
	return conn(ctx).Omit(clause.Associations).Create(pipeline).Error
}

func (d *pipelineDAO) Save(ctx context.Context, pipeline *model.Pipeline) error {
	return conn(ctx).Omit(clause.Associations).Save(pipeline).Error
}

func (d *pipelineDAO) UpdateRunState(ctx context.Context, pipeline *model.Pipeline) error {
	return conn(ctx).Model(pipeline).
		Select("status", "status_text", "started_at", "ended_at").
		Updates(pipeline).Error
}

func (d *pipelineDAO) GetByID(ctx context.Context, id uint) (*model.Pipeline, error) {
	var pipeline model.Pipeline
	if err := withRelations(conn(ctx)).Where("id = ?", id).Take(&pipeline).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.PipelineNotExists)
		}
		return nil, err
	}
	return &pipeline, nil
}

func (d *pipelineDAO) GetBySlug(ctx context.Context, slug string) (*model.Pipeline, error) {
	var pipeline model.Pipeline
	if err := withRelations(conn(ctx)).Where("slug = ?", slug).Take(&pipeline).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.PipelineNotExists)
		}
		return nil, err
	}
	return &pipeline, nil
}

// GetByDestination returns nil, nil when no pipeline writes to the source.
func (d *pipelineDAO) GetByDestination(ctx context.Context, destinationID uint) (*model.Pipeline, error) {
	var pipeline model.Pipeline
	err := conn(ctx).Where("destination_id = ?", destinationID).Take(&pipeline).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (d *pipelineDAO) List(ctx context.Context) ([]*model.Pipeline, error) {
	var pipelines []*model.Pipeline
	if err := conn(ctx).Preload("Project").Order("id").Find(&pipelines).Error; err != nil {
		return nil, err
	}
	return pipelines, nil
}

func (d *pipelineDAO) ListByProject(ctx context.Context, projectID uint) ([]*model.Pipeline, error) {
	var pipelines []*model.Pipeline
	if err := conn(ctx).Where("project_id = ?", projectID).Order("id").Find(&pipelines).Error; err != nil {
		return nil, err
	}
	return pipelines, nil
}

func (d *pipelineDAO) ListDue(ctx context.Context, now time.Time) ([]*model.Pipeline, error) {
	var candidates []*model.Pipeline
	err := conn(ctx).
		Where("paused_until IS NULL OR paused_until <= ?", now).
		Order("id").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	due := candidates[:0]
	for _, p := range candidates {
		if p.Due(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

func (d *pipelineDAO) ReplaceSources(ctx context.Context, pipelineID uint, sources []model.PipelineSource) error {
	tx := conn(ctx)
	if err := tx.Where("pipeline_id = ?", pipelineID).Delete(&model.PipelineSource{}).Error; err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}
	for i := range sources {
		sources[i].ID = 0
		sources[i].PipelineID = pipelineID
	}
	return tx.Omit(clause.Associations).Create(&sources).Error
}
