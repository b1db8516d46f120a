package dao

import (
	"context"
	"errors"

	"dataflow/internal/common"
	"dataflow/internal/server/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProjectDao interface {
	Create(ctx context.Context, project *model.Project) error
	Save(ctx context.Context, project *model.Project) error
	GetByID(ctx context.Context, id uint) (*model.Project, error)
	GetBySlug(ctx context.Context, slug string) (*model.Project, error)
	List(ctx context.Context) ([]*model.Project, error)
}

type projectDAO struct {
}

func NewProjectDao() ProjectDao {
	return &projectDAO{}
}

func (d *projectDAO) Create(ctx context.Context, project *model.Project) error {
	return conn(ctx).Omit(clause.Associations).Create(project).Error
}

func (d *projectDAO) Save(ctx context.Context, project *model.Project) error {
	return conn(ctx).Omit(clause.Associations).Save(project).Error
}

func (d *projectDAO) GetByID(ctx context.Context, id uint) (*model.Project, error) {
	var project model.Project
	if err := conn(ctx).Where("id = ?", id).Take(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.ProjectNotExists)
		}
		return nil, err
	}
	return &project, nil
}

func (d *projectDAO) GetBySlug(ctx context.Context, slug string) (*model.Project, error) {
	var project model.Project
	if err := conn(ctx).Where("slug = ?", slug).Take(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.ProjectNotExists)
		}
		return nil, err
	}
	return &project, nil
}

func (d *projectDAO) List(ctx context.Context) ([]*model.Project, error) {
	var projects []*model.Project
	if err := conn(ctx).Order("id").Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}
