package model

import (
	"time"

	"gorm.io/gorm"
)

type Transformation struct {
	gorm.Model
	Slug       string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_pipeline_slug"`
	PipelineID *uint     `gorm:"uniqueIndex:idx_pipeline_slug"`
	Pipeline   *Pipeline `gorm:"foreignKey:PipelineID"`
	URL        string    `gorm:"type:varchar(500)"`
	Order      int       `gorm:"column:run_order"`
	Code       string    `gorm:"type:text"`
	Language   string    `gorm:"type:varchar(20)"`

	Status     string `gorm:"type:varchar(20)"`
	StatusCode *int
	Stdout     string `gorm:"type:text"`
	LastRun    *time.Time
	LastSyncAt *time.Time
}
