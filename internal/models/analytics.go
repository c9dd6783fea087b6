package models

// ModelAnalytics aggregates every run of a single model within a batch.
type ModelAnalytics struct {
	Model               string             `json:"model"`
	SuccessCount        int                `json:"success_count"`
	FailureCount        int                `json:"failure_count"`
	JSONValidRate       float64            `json:"json_valid_rate"`
	AttributesValidRate float64            `json:"attributes_valid_rate"`
	FormatsValidRate    float64            `json:"formats_valid_rate"`
	AvgExecutionMS      float64            `json:"avg_execution_ms"`
	TotalCost           float64            `json:"total_cost"`
	CommonErrors        []CommonError      `json:"common_errors,omitempty"`
	AttributeFailures   []AttributeFailure `json:"attribute_failures,omitempty"`
}

// CommonError is a deduplicated run error with its occurrence count and
// the documents it affected.
type CommonError struct {
	Message   string   `json:"message"`
	Count     int      `json:"count"`
	Documents []string `json:"documents"`
}

// AttributeFailure aggregates how often a schema path failed validation
// across a batch. Universal is set when every model in the batch exhibited
// the failure, which points at the prompt, schema, or source document
// rather than any one model.
type AttributeFailure struct {
	Path                 string   `json:"path"`
	MissingCount         int      `json:"missing_count"`
	TypeMismatchCount    int      `json:"type_mismatch_count"`
	FormatViolationCount int      `json:"format_violation_count"`
	AffectedModels       []string `json:"affected_models"`
	Universal            bool     `json:"universal"`
	PatternInsight       string   `json:"pattern_insight,omitempty"`
}

type DocumentStatus string

const (
	DocumentAllPassed DocumentStatus = "all_passed"
	DocumentPartial   DocumentStatus = "partial"
	DocumentAllFailed DocumentStatus = "all_failed"
)

// DocumentResult summarizes every run of a single document within a batch.
type DocumentResult struct {
	DocumentRef string         `json:"document_ref"`
	Status      DocumentStatus `json:"status"`
	PassedRuns  int            `json:"passed_runs"`
	FailedRuns  int            `json:"failed_runs"`
}

// AnalyticsReport is the full derived view over a batch, recomputed on read.
type AnalyticsReport struct {
	BatchJobID        string             `json:"batch_job_id"`
	ModelAnalytics    []ModelAnalytics   `json:"model_analytics"`
	DocumentResults   []DocumentResult   `json:"document_results"`
	AttributeFailures []AttributeFailure `json:"attribute_failures"`
}
