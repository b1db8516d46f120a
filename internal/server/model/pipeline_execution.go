package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type PipelineExecution struct {
	gorm.Model
	PipelineID     uint            `gorm:"not null;index"`
	Pipeline       *Pipeline       `gorm:"foreignKey:PipelineID"`
	Status         string          `gorm:"type:varchar(20)"`
	TriggerType    string          `gorm:"type:varchar(20);not null"`
	Stdout         string          `gorm:"type:text"`
	IncomingStream json.RawMessage `gorm:"type:text"`
	StartedAt      *time.Time
	EndedAt        *time.Time

	// Remaining holds transformation slugs still to run, in descending
	// order so the next one is popped from the end.
	Remaining []string `gorm:"serializer:json;type:text"`
	StepsDone int
	Done      bool `gorm:"index"`
	// Resumes counts operator resumes; queued task ids carry it so a resume
	// is not mistaken for a duplicate of the original run.
	Resumes int `gorm:"not null;default:0"`
}

// Pop removes and returns the next transformation slug.
func (e *PipelineExecution) Pop() (string, bool) {
	if len(e.Remaining) == 0 {
		return "", false
	}
	last := e.Remaining[len(e.Remaining)-1]
	e.Remaining = e.Remaining[:len(e.Remaining)-1]
	return last, true
}

// AppendStdout adds a chunk of output, separated by a newline.
func (e *PipelineExecution) AppendStdout(s string) {
	if s == "" {
		return
	}
	if e.Stdout != "" && e.Stdout[len(e.Stdout)-1] != '\n' {
		e.Stdout += "\n"
	}
	e.Stdout += s
}
