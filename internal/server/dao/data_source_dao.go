package dao

import (
	"context"
	"errors"
	"fmt"

	"dataflow/internal/common"
	"dataflow/internal/server/model"

	"gorm.io/gorm"
)

type DataSourceDao interface {
	Create(ctx context.Context, source *model.DataSource) error
	GetByID(ctx context.Context, id uint) (*model.DataSource, error)
	GetBySlug(ctx context.Context, slug string) (*model.DataSource, error)
}

type dataSourceDAO struct {
}

func NewDataSourceDao() DataSourceDao {
	return &dataSourceDAO{}
}

func (d *dataSourceDAO) Create(ctx context.Context, source *model.DataSource) error {
	return conn(ctx).Create(source).Error
}

func (d *dataSourceDAO) GetByID(ctx context.Context, id uint) (*model.DataSource, error) {
	var source model.DataSource
	if err := conn(ctx).Where("id = ?", id).Take(&source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: data source %d", common.ErrNotFound, id)
		}
		return nil, err
	}
	return &source, nil
}

func (d *dataSourceDAO) GetBySlug(ctx context.Context, slug string) (*model.DataSource, error) {
	var source model.DataSource
	if err := conn(ctx).Where("slug = ?", slug).Take(&source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: data source %s", common.ErrNotFound, slug)
		}
		return nil, err
	}
	return &source, nil
}
