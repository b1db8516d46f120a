package api

import (
	"encoding/json"
	"time"
)

type RunResponse struct {
	ExecutionID uint `json:"execution_id"`
}

type ProjectRunResponse struct {
	ExecutionIDs map[string]uint `json:"execution_ids"`
}

type PipelineRef struct {
	ID   uint   `json:"id"`
	Slug string `json:"slug"`
}

// Execution is the serialized form returned by the stream endpoint and
// the execution detail route.
type Execution struct {
	ID             uint            `json:"id"`
	IncomingStream json.RawMessage `json:"incoming_stream,omitempty"`
	Status         string          `json:"status"`
	TriggerType    string          `json:"trigger_type"`
	Stdout         string          `json:"stdout,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at"`
	Pipeline       PipelineRef     `json:"pipeline"`
}

type PipelineBrief struct {
	ID          uint       `json:"id"`
	Slug        string     `json:"slug"`
	Project     string     `json:"project"`
	Status      string     `json:"status"`
	StatusText  string     `json:"status_text,omitempty"`
	StartedAt   *time.Time `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	Frequency   int        `json:"frequency_delta_minutes"`
	PausedUntil *time.Time `json:"paused_until,omitempty"`
}

type ExecutionHistoryBrief struct {
	ID          uint   `json:"id"`
	Pipeline    string `json:"pipeline"`
	Status      string `json:"status"`
	TriggerType string `json:"trigger_type"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time,omitempty"`
}

type TransformationCode struct {
	Slug     string `json:"slug"`
	Pipeline string `json:"pipeline"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

type SyncResponse struct {
	Pipelines       int `json:"pipelines"`
	Transformations int `json:"transformations"`
	Deleted         int `json:"deleted"`
}

type CleanHistoryResponse struct {
	Deleted int64 `json:"deleted"`
}
