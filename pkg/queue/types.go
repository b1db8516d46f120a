package queue

import (
	"encoding/json"
	"fmt"
)

const (
	PipelineRun       = "pipeline:run"
	TransformationRun = "transformation:run"
	BufferBackup      = "buffer:backup"
	PipelineScan      = "pipeline:scan"
)

// PipelineRunPayload starts (or resumes, when ExecutionID is set) a run.
// Attempt is the resume count of the execution; it keeps the task ids of
// a resumed chain apart from those of the original one.
type PipelineRunPayload struct {
	PipelineSlug string `json:"pipeline_slug"`
	ExecutionID  uint   `json:"execution_id"`
	Attempt      int    `json:"attempt,omitempty"`
}

// StepPayload asks for exactly one transformation of an execution.
type StepPayload struct {
	ExecutionID uint `json:"execution_id"`
	Step        int  `json:"step"`
	Attempt     int  `json:"attempt,omitempty"`
}

type BackupPayload struct {
	ExecutionID  uint   `json:"execution_id"`
	PipelineSlug string `json:"pipeline_slug"`
	Position     int    `json:"position"`
	Step         int    `json:"step"`
}

func StepTaskID(executionID uint, step, attempt int) string {
	return withAttempt(fmt.Sprintf("execution:%d:step:%d", executionID, step), attempt)
}

func RunTaskID(executionID uint, attempt int) string {
	return withAttempt(fmt.Sprintf("execution:%d:run", executionID), attempt)
}

func withAttempt(id string, attempt int) string {
	if attempt == 0 {
		return id
	}
	return fmt.Sprintf("%s:resume:%d", id, attempt)
}

func Decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("queue: decode payload: %w", err)
	}
	return v, nil
}
