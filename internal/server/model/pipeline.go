package model

import (
	"time"

	"gorm.io/gorm"
)

type DataSource struct {
	gorm.Model
	Slug             string `gorm:"type:varchar(100);not null;uniqueIndex"`
	Title            string `gorm:"type:varchar(255)"`
	SourceType       string `gorm:"type:varchar(20);not null"`
	ConnectionString string `gorm:"type:text"`
	Database         string `gorm:"type:varchar(255)"`
	// EntityName is the table, query or file the source reads.
	EntityName     string `gorm:"column:table_name;type:text"`
	QuotedNewlines bool
}

type Pipeline struct {
	gorm.Model
	Slug      string   `gorm:"type:varchar(100);not null;uniqueIndex"`
	ProjectID uint     `gorm:"index"`
	Project   *Project `gorm:"foreignKey:ProjectID"`

	Sources       []PipelineSource `gorm:"foreignKey:PipelineID"`
	DestinationID *uint            `gorm:"uniqueIndex"`
	Destination   *DataSource      `gorm:"foreignKey:DestinationID"`

	Status                  string `gorm:"type:varchar(20)"`
	StatusText              string `gorm:"type:text"`
	NotifyEmail             string `gorm:"type:varchar(255)"`
	ReplaceDestinationTable bool
	FrequencyDeltaMinutes   int
	PausedUntil             *time.Time
	StartedAt               *time.Time
	EndedAt                 *time.Time

	Transformations []Transformation `gorm:"foreignKey:PipelineID"`
}

// PipelineSource links a data source to a pipeline at a buffer position.
type PipelineSource struct {
	ID           uint        `gorm:"primarykey"`
	PipelineID   uint        `gorm:"not null;uniqueIndex:idx_pipeline_position"`
	Position     int         `gorm:"not null;uniqueIndex:idx_pipeline_position"`
	DataSourceID uint        `gorm:"not null;index"`
	DataSource   *DataSource `gorm:"foreignKey:DataSourceID"`
}

// DestinationTableName is <slug>__<table>, except for CSV sinks with an
// explicit path which is used verbatim.
func (p *Pipeline) DestinationTableName() string {
	if p.Destination == nil {
		return ""
	}
	if p.Destination.SourceType == "csv" && p.Destination.EntityName != "" {
		return p.Destination.EntityName
	}
	return p.Slug + "__" + p.Destination.EntityName
}

// Due reports whether a scheduled run should start at now.
func (p *Pipeline) Due(now time.Time) bool {
	if p.PausedUntil != nil && p.PausedUntil.After(now) {
		return false
	}
	if p.StartedAt == nil {
		return true
	}
	if p.FrequencyDeltaMinutes <= 0 {
		return false
	}
	return !p.StartedAt.Add(time.Duration(p.FrequencyDeltaMinutes) * time.Minute).After(now)
}
