package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/veridoc/veridoc-api/internal/analytics"
	"github.com/veridoc/veridoc-api/internal/consensus"
	"github.com/veridoc/veridoc-api/internal/models"
	"github.com/veridoc/veridoc-api/internal/orchestrator"
	"github.com/veridoc/veridoc-api/internal/repository"
)

type BatchHandler struct {
	batches      repository.BatchRepository
	runs         repository.RunRepository
	orchestrator *orchestrator.Orchestrator
	analytics    *analytics.Aggregator
	consensus    *consensus.Engine
	logger       zerolog.Logger
}

func NewBatchHandler(
	batches repository.BatchRepository,
	runs repository.RunRepository,
	orch *orchestrator.Orchestrator,
	aggregator *analytics.Aggregator,
	engine *consensus.Engine,
	logger zerolog.Logger,
) *BatchHandler {
	return &BatchHandler{
		batches:      batches,
		runs:         runs,
		orchestrator: orch,
		analytics:    aggregator,
		consensus:    engine,
		logger:       logger.With().Str("handler", "batch").Logger(),
	}
}

func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         string          `json:"name"`
		Documents    []string        `json:"documents"`
		Models       []string        `json:"models"`
		SystemPrompt string          `json:"system_prompt"`
		UserPrompt   string          `json:"user_prompt"`
		OutputShape  string          `json:"output_shape"`
		OutputSchema json.RawMessage `json:"output_schema"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(payload.Name) == "" {
		http.Error(w, "Batch name is required", http.StatusBadRequest)
		return
	}
	if len(payload.Documents) == 0 {
		http.Error(w, "At least one document is required", http.StatusBadRequest)
		return
	}
	if len(payload.Models) == 0 {
		http.Error(w, "At least one model is required", http.StatusBadRequest)
		return
	}
	if msg := validateUnique(payload.Documents); msg != "" {
		http.Error(w, "Duplicate document: "+msg, http.StatusBadRequest)
		return
	}
	if msg := validateUnique(payload.Models); msg != "" {
		http.Error(w, "Duplicate model: "+msg, http.StatusBadRequest)
		return
	}

	shape := models.OutputShape(payload.OutputShape)
	if shape == "" {
		shape = models.ShapeSingleObject
	}
	if shape != models.ShapeSingleObject && shape != models.ShapeRecordStream {
		http.Error(w, "Output shape must be single-object or record-stream", http.StatusBadRequest)
		return
	}

	if len(payload.OutputSchema) == 0 {
		http.Error(w, "Output schema is required", http.StatusBadRequest)
		return
	}
	var schemaCheck map[string]interface{}
	if err := json.Unmarshal(payload.OutputSchema, &schemaCheck); err != nil {
		http.Error(w, "Output schema must be a JSON object", http.StatusBadRequest)
		return
	}

	job := models.BatchJob{
		Owner:          ownerFromRequest(r),
		Name:           payload.Name,
		Documents:      payload.Documents,
		Models:         payload.Models,
		SystemPrompt:   payload.SystemPrompt,
		UserPrompt:     payload.UserPrompt,
		OutputShape:    shape,
		OutputSchema:   payload.OutputSchema,
		Status:         models.BatchStatusPending,
		TotalDocuments: len(payload.Documents),
	}

	created, err := h.batches.Create(r.Context(), job)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create batch job")
		http.Error(w, "Failed to create batch job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *BatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]

	if err := h.orchestrator.Start(r.Context(), batchID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, "Batch job not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrInvalidState):
			http.Error(w, "Batch job has already been started", http.StatusConflict)
		default:
			h.logger.Error().Err(err).Str("batch_job_id", batchID).Msg("failed to start batch job")
			http.Error(w, "Failed to start batch job", http.StatusInternalServerError)
		}
		return
	}

	job, err := h.batches.Get(r.Context(), batchID)
	if err != nil {
		h.logger.Error().Err(err).Str("batch_job_id", batchID).Msg("failed to reload batch job after start")
		http.Error(w, "Failed to load batch job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]
	job, err := h.batches.Get(r.Context(), batchID)
	if err != nil {
		h.respondBatchError(w, err, batchID, "failed to get batch job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Status is the lightweight polling projection: counters and the
// current-document pointer without prompts or the schema.
func (h *BatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]
	job, err := h.batches.Get(r.Context(), batchID)
	if err != nil {
		h.respondBatchError(w, err, batchID, "failed to get batch job status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                  job.ID,
		"status":              job.Status,
		"total_documents":     job.TotalDocuments,
		"completed_documents": job.CompletedDocuments,
		"total_runs":          job.TotalRuns(),
		"successful_runs":     job.SuccessfulRuns,
		"failed_runs":         job.FailedRuns,
		"current_document":    job.CurrentDocument,
	})
}

func (h *BatchHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]
	if _, err := h.batches.Get(r.Context(), batchID); err != nil {
		h.respondBatchError(w, err, batchID, "failed to get batch job")
		return
	}

	runs, err := h.runs.ListByBatch(r.Context(), batchID)
	if err != nil {
		h.logger.Error().Err(err).Str("batch_job_id", batchID).Msg("failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.batches.List(r.Context(), ownerFromRequest(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list batch jobs")
		http.Error(w, "Failed to list batch jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": jobs,
	})
}

func (h *BatchHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]
	report, err := h.analytics.ComputeAnalytics(r.Context(), batchID)
	if err != nil {
		h.respondBatchError(w, err, batchID, "failed to compute analytics")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *BatchHandler) Consensus(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]
	documentRef := strings.TrimSpace(r.URL.Query().Get("document"))
	if documentRef == "" {
		http.Error(w, "Query parameter 'document' is required", http.StatusBadRequest)
		return
	}

	result, err := h.consensus.ComputeConsensus(r.Context(), batchID, documentRef)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, "Batch job not found", http.StatusNotFound)
		case errors.Is(err, consensus.ErrNotApplicable):
			http.Error(w, "Consensus requires at least two fully validated runs", http.StatusUnprocessableEntity)
		default:
			h.logger.Error().Err(err).Str("batch_job_id", batchID).Msg("failed to compute consensus")
			http.Error(w, "Failed to compute consensus", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *BatchHandler) respondBatchError(w http.ResponseWriter, err error, batchID, logMsg string) {
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Batch job not found", http.StatusNotFound)
		return
	}
	h.logger.Error().Err(err).Str("batch_job_id", batchID).Msg(logMsg)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func validateUnique(values []string) string {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			return v
		}
		seen[v] = struct{}{}
	}
	return ""
}
