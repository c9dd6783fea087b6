package models

import (
	"encoding/json"
	"time"
)

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

type OutputShape string

const (
	ShapeSingleObject OutputShape = "single-object"
	ShapeRecordStream OutputShape = "record-stream"
)

// BatchJob is one extraction campaign: an ordered set of documents run
// against a set of models with a shared prompt and validation schema.
type BatchJob struct {
	ID                 string          `json:"id" db:"id"`
	Owner              string          `json:"owner" db:"owner"`
	Name               string          `json:"name" db:"name"`
	Documents          []string        `json:"documents" db:"documents"`
	Models             []string        `json:"models" db:"models"`
	SystemPrompt       string          `json:"system_prompt" db:"system_prompt"`
	UserPrompt         string          `json:"user_prompt" db:"user_prompt"`
	OutputShape        OutputShape     `json:"output_shape" db:"output_shape"`
	OutputSchema       json.RawMessage `json:"output_schema" db:"output_schema"`
	Status             BatchStatus     `json:"status" db:"status"`
	TotalDocuments     int             `json:"total_documents" db:"total_documents"`
	CompletedDocuments int             `json:"completed_documents" db:"completed_documents"`
	SuccessfulRuns     int             `json:"successful_runs" db:"successful_runs"`
	FailedRuns         int             `json:"failed_runs" db:"failed_runs"`
	CurrentDocument    *string         `json:"current_document,omitempty" db:"current_document"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// TotalRuns is the size of the execution matrix.
func (j BatchJob) TotalRuns() int {
	return len(j.Documents) * len(j.Models)
}
