package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one (document, model) execution cell. It is created pending when
// the batch matrix is expanded and mutated exactly once when the external
// call terminates.
type Run struct {
	ID               string           `json:"id" db:"id"`
	BatchJobID       string           `json:"batch_job_id" db:"batch_job_id"`
	DocumentRef      string           `json:"document_ref" db:"document_ref"`
	Model            string           `json:"model" db:"model"`
	Status           RunStatus        `json:"status" db:"status"`
	RawResponse      *string          `json:"raw_response,omitempty" db:"raw_response"`
	Payload          json.RawMessage  `json:"payload,omitempty" db:"payload"`
	JSONValid        bool             `json:"json_valid" db:"json_valid"`
	AttributesValid  bool             `json:"attributes_valid" db:"attributes_valid"`
	FormatsValid     bool             `json:"formats_valid" db:"formats_valid"`
	ValidationDetail ValidationDetail `json:"validation_detail" db:"validation_detail"`
	Suggestions      []string         `json:"suggestions,omitempty" db:"suggestions"`
	ExecutionMS      int64            `json:"execution_ms" db:"execution_ms"`
	InputTokens      int              `json:"input_tokens" db:"input_tokens"`
	OutputTokens     int              `json:"output_tokens" db:"output_tokens"`
	InputCost        float64          `json:"input_cost" db:"input_cost"`
	OutputCost       float64          `json:"output_cost" db:"output_cost"`
	ErrorMessage     *string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the run has reached a final state.
func (r Run) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// Succeeded reports whether the run fully validated: the provider call
// completed and all three validation levels passed. Runs that completed
// but failed validation count toward the batch's failed_runs.
func (r Run) Succeeded() bool {
	return r.Status == RunStatusCompleted && r.FormatsValid
}

// ValidationDetail is the structured record of everything the validator
// found, grouped by level.
type ValidationDetail struct {
	SyntaxErrors      []string         `json:"syntax_errors,omitempty"`
	MissingAttributes []string         `json:"missing_attributes,omitempty"`
	TypeMismatches    []FieldViolation `json:"type_mismatches,omitempty"`
	FormatViolations  []FieldViolation `json:"format_violations,omitempty"`
}

// Empty reports whether the validator recorded nothing at any level.
func (d ValidationDetail) Empty() bool {
	return len(d.SyntaxErrors) == 0 &&
		len(d.MissingAttributes) == 0 &&
		len(d.TypeMismatches) == 0 &&
		len(d.FormatViolations) == 0
}

// FieldViolation points at one schema path that failed a constraint.
type FieldViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Keyword string `json:"keyword"`
}
