package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridoc/veridoc-api/internal/analytics"
	"github.com/veridoc/veridoc-api/internal/consensus"
	"github.com/veridoc/veridoc-api/internal/handlers"
	"github.com/veridoc/veridoc-api/internal/models"
	"github.com/veridoc/veridoc-api/internal/notification"
	"github.com/veridoc/veridoc-api/internal/orchestrator"
	"github.com/veridoc/veridoc-api/internal/repository"
	"github.com/veridoc/veridoc-api/internal/routes"
)

type stubBatchRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.BatchJob
}

func newStubBatchRepo() *stubBatchRepo {
	return &stubBatchRepo{jobs: make(map[string]*models.BatchJob)}
}

func (r *stubBatchRepo) Create(_ context.Context, job models.BatchJob) (models.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = uuid.NewString()
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	r.jobs[job.ID] = &job
	return job, nil
}

func (r *stubBatchRepo) Get(_ context.Context, id string) (models.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.BatchJob{}, repository.ErrNotFound
	}
	return *job, nil
}

func (r *stubBatchRepo) List(_ context.Context, owner string) ([]models.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BatchJob
	for _, job := range r.jobs {
		if owner == "" || job.Owner == owner {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *stubBatchRepo) MarkProcessing(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status != models.BatchStatusPending {
		return repository.ErrInvalidState
	}
	job.Status = models.BatchStatusProcessing
	return nil
}

func (r *stubBatchRepo) SetCurrentDocument(_ context.Context, id, documentRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].CurrentDocument = &documentRef
	return nil
}

func (r *stubBatchRepo) RecordRunOutcome(_ context.Context, id string, succeeded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if succeeded {
		r.jobs[id].SuccessfulRuns++
	} else {
		r.jobs[id].FailedRuns++
	}
	return nil
}

func (r *stubBatchRepo) IncrementCompletedDocuments(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].CompletedDocuments++
	return nil
}

func (r *stubBatchRepo) Finalize(_ context.Context, id string, status models.BatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	job.Status = status
	job.CurrentDocument = nil
	return nil
}

type stubRunRepo struct {
	mu   sync.Mutex
	runs []models.Run
}

func (r *stubRunRepo) CreateMatrix(_ context.Context, runs []models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runs...)
	return nil
}

func (r *stubRunRepo) Complete(_ context.Context, run models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].ID == run.ID {
			r.runs[i] = run
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *stubRunRepo) ListByBatch(_ context.Context, batchJobID string) ([]models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Run
	for _, run := range r.runs {
		if run.BatchJobID == batchJobID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (r *stubRunRepo) ListForDocument(_ context.Context, batchJobID, documentRef string) ([]models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Run
	for _, run := range r.runs {
		if run.BatchJobID == batchJobID && run.DocumentRef == documentRef {
			out = append(out, run)
		}
	}
	return out, nil
}

type passExecutor struct{}

func (passExecutor) Execute(_ context.Context, _ models.BatchJob, run models.Run) models.Run {
	run.Status = models.RunStatusCompleted
	run.JSONValid = true
	run.AttributesValid = true
	run.FormatsValid = true
	run.Payload = json.RawMessage(`{"total": 100}`)
	return run
}

type noopNotificationService struct{}

func (noopNotificationService) Publish(context.Context, notification.Event) (models.Notification, error) {
	return models.Notification{}, nil
}
func (noopNotificationService) NotifyBatchStarted(context.Context, string, string, string, int) error {
	return nil
}
func (noopNotificationService) NotifyBatchCompleted(context.Context, string, string, string, int, int) error {
	return nil
}
func (noopNotificationService) NotifyBatchFailed(context.Context, string, string, string, string) error {
	return nil
}
func (noopNotificationService) ListRecent(context.Context, string, int) ([]models.Notification, error) {
	return nil, nil
}
func (noopNotificationService) MarkRead(context.Context, string, string) (models.Notification, error) {
	return models.Notification{}, nil
}

func newTestServer(t *testing.T) (http.Handler, *stubBatchRepo, *stubRunRepo) {
	t.Helper()
	batches := newStubBatchRepo()
	runs := &stubRunRepo{}

	orch := orchestrator.New(batches, runs, passExecutor{}, nil, 2, zerolog.Nop())
	aggregator := analytics.NewAggregator(batches, runs)
	engine := consensus.NewEngine(batches, runs)

	batchHandler := handlers.NewBatchHandler(batches, runs, orch, aggregator, engine, zerolog.Nop())
	notificationHandler := handlers.NewNotificationHandler(noopNotificationService{}, zerolog.Nop())

	return routes.NewRouter(batchHandler, notificationHandler), batches, runs
}

const createBody = `{
	"name": "invoices-q3",
	"documents": ["a.txt", "b.txt"],
	"models": ["gpt-4o", "claude-3-5-sonnet"],
	"system_prompt": "You extract invoices.",
	"user_prompt": "Extract the fields.",
	"output_shape": "single-object",
	"output_schema": {"type": "object", "required": ["total"], "properties": {"total": {"type": "number"}}}
}`

func createBatch(t *testing.T, server http.Handler) models.BatchJob {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/batches", strings.NewReader(createBody))
	req.Header.Set("X-Owner", "analyst")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var job models.BatchJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func TestCreateBatch(t *testing.T) {
	server, _, _ := newTestServer(t)

	job := createBatch(t, server)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "analyst", job.Owner)
	assert.Equal(t, models.BatchStatusPending, job.Status)
	assert.Equal(t, 2, job.TotalDocuments)
	assert.Equal(t, 4, job.TotalRuns())
}

func TestCreateBatchValidation(t *testing.T) {
	server, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty name", `{"name": " ", "documents": ["a"], "models": ["m"], "output_schema": {}}`},
		{"no documents", `{"name": "x", "documents": [], "models": ["m"], "output_schema": {}}`},
		{"no models", `{"name": "x", "documents": ["a"], "models": [], "output_schema": {}}`},
		{"duplicate documents", `{"name": "x", "documents": ["a", "a"], "models": ["m"], "output_schema": {}}`},
		{"bad shape", `{"name": "x", "documents": ["a"], "models": ["m"], "output_shape": "csv", "output_schema": {}}`},
		{"no schema", `{"name": "x", "documents": ["a"], "models": ["m"]}`},
		{"schema not an object", `{"name": "x", "documents": ["a"], "models": ["m"], "output_schema": [1]}`},
		{"not json", `{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/batches", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStartBatchLifecycle(t *testing.T) {
	server, batches, _ := newTestServer(t)
	job := createBatch(t, server)

	req := httptest.NewRequest(http.MethodPost, "/api/batches/"+job.ID+"/start", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Starting twice conflicts regardless of how far processing got.
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches/"+job.ID+"/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		current, err := batches.Get(context.Background(), job.ID)
		return err == nil && current.Status == models.BatchStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches/"+job.ID+"/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status         models.BatchStatus `json:"status"`
		TotalRuns      int                `json:"total_runs"`
		SuccessfulRuns int                `json:"successful_runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.BatchStatusCompleted, status.Status)
	assert.Equal(t, 4, status.TotalRuns)
	assert.Equal(t, 4, status.SuccessfulRuns)
}

func TestStartUnknownBatchReturns404(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches/"+uuid.NewString()+"/start", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUnknownBatchReturns404(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConsensusEndpointStatusCodes(t *testing.T) {
	server, _, _ := newTestServer(t)
	job := createBatch(t, server)

	// Missing the document query parameter.
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches/"+job.ID+"/consensus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No validated runs yet.
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches/"+job.ID+"/consensus?document=a.txt", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAnalyticsEndpoint(t *testing.T) {
	server, batches, _ := newTestServer(t)
	job := createBatch(t, server)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches/"+job.ID+"/start", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		current, err := batches.Get(context.Background(), job.ID)
		return err == nil && current.Status == models.BatchStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches/"+job.ID+"/analytics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.AnalyticsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, job.ID, report.BatchJobID)
	require.Len(t, report.ModelAnalytics, 2)
	for _, ma := range report.ModelAnalytics {
		assert.Equal(t, 2, ma.SuccessCount)
		assert.InDelta(t, 1.0, ma.FormatsValidRate, 1e-9)
	}
	require.Len(t, report.DocumentResults, 2)
	for _, doc := range report.DocumentResults {
		assert.Equal(t, models.DocumentAllPassed, doc.Status)
	}
}
