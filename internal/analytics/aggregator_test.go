package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridoc/veridoc-api/internal/models"
)

func strptr(s string) *string { return &s }

func validatedRun(doc, model string) models.Run {
	return models.Run{
		BatchJobID:      "batch-1",
		DocumentRef:     doc,
		Model:           model,
		Status:          models.RunStatusCompleted,
		JSONValid:       true,
		AttributesValid: true,
		FormatsValid:    true,
		ExecutionMS:     1000,
	}
}

func missingFieldRun(doc, model, path string) models.Run {
	run := validatedRun(doc, model)
	run.AttributesValid = false
	run.FormatsValid = false
	run.ValidationDetail.MissingAttributes = []string{path}
	return run
}

func TestComputePerModelRatesAndCosts(t *testing.T) {
	job := models.BatchJob{
		ID:        "batch-1",
		Documents: []string{"a.txt", "b.txt"},
		Models:    []string{"gpt-4o"},
	}

	good := validatedRun("a.txt", "gpt-4o")
	good.InputCost = 0.01
	good.OutputCost = 0.02
	good.ExecutionMS = 800

	bad := models.Run{
		BatchJobID:   "batch-1",
		DocumentRef:  "b.txt",
		Model:        "gpt-4o",
		Status:       models.RunStatusFailed,
		ExecutionMS:  200,
		ErrorMessage: strptr("RateLimit: rate limit exceeded"),
	}

	report := Compute(job, []models.Run{good, bad})

	require.Len(t, report.ModelAnalytics, 1)
	ma := report.ModelAnalytics[0]
	assert.Equal(t, "gpt-4o", ma.Model)
	assert.Equal(t, 1, ma.SuccessCount)
	assert.Equal(t, 1, ma.FailureCount)
	assert.InDelta(t, 0.5, ma.JSONValidRate, 1e-9)
	assert.InDelta(t, 0.5, ma.AttributesValidRate, 1e-9)
	assert.InDelta(t, 0.5, ma.FormatsValidRate, 1e-9)
	assert.InDelta(t, 500, ma.AvgExecutionMS, 1e-9)
	assert.InDelta(t, 0.03, ma.TotalCost, 1e-9)

	require.Len(t, ma.CommonErrors, 1)
	assert.Equal(t, "RateLimit: rate limit exceeded", ma.CommonErrors[0].Message)
	assert.Equal(t, 1, ma.CommonErrors[0].Count)
	assert.Equal(t, []string{"b.txt"}, ma.CommonErrors[0].Documents)
}

func TestComputeValidationFailureCountsAsFailure(t *testing.T) {
	job := models.BatchJob{
		ID:        "batch-1",
		Documents: []string{"a.txt"},
		Models:    []string{"gpt-4o"},
	}
	run := missingFieldRun("a.txt", "gpt-4o", "total")

	report := Compute(job, []models.Run{run})

	require.Len(t, report.ModelAnalytics, 1)
	ma := report.ModelAnalytics[0]
	assert.Equal(t, 0, ma.SuccessCount)
	assert.Equal(t, 1, ma.FailureCount)
	// The call itself completed, so level 1 still passed.
	assert.InDelta(t, 1.0, ma.JSONValidRate, 1e-9)
	assert.InDelta(t, 0.0, ma.FormatsValidRate, 1e-9)
}

func TestComputeDocumentStatuses(t *testing.T) {
	job := models.BatchJob{
		ID:        "batch-1",
		Documents: []string{"all.txt", "partial.txt", "none.txt"},
		Models:    []string{"m1", "m2"},
	}
	runs := []models.Run{
		validatedRun("all.txt", "m1"),
		validatedRun("all.txt", "m2"),
		validatedRun("partial.txt", "m1"),
		missingFieldRun("partial.txt", "m2", "total"),
		missingFieldRun("none.txt", "m1", "total"),
		missingFieldRun("none.txt", "m2", "total"),
	}

	report := Compute(job, runs)

	require.Len(t, report.DocumentResults, 3)
	assert.Equal(t, models.DocumentAllPassed, report.DocumentResults[0].Status)
	assert.Equal(t, models.DocumentPartial, report.DocumentResults[1].Status)
	assert.Equal(t, models.DocumentAllFailed, report.DocumentResults[2].Status)
	assert.Equal(t, 1, report.DocumentResults[1].PassedRuns)
	assert.Equal(t, 1, report.DocumentResults[1].FailedRuns)
}

func TestComputeUniversalAttributeFailure(t *testing.T) {
	jobModels := []string{"m1", "m2", "m3", "m4"}
	job := models.BatchJob{
		ID:        "batch-1",
		Documents: []string{"a.txt"},
		Models:    jobModels,
	}

	var runs []models.Run
	for _, model := range jobModels {
		runs = append(runs, missingFieldRun("a.txt", model, "end_date"))
	}

	report := Compute(job, runs)

	require.Len(t, report.AttributeFailures, 1)
	failure := report.AttributeFailures[0]
	assert.Equal(t, "end_date", failure.Path)
	assert.Equal(t, 4, failure.MissingCount)
	assert.Equal(t, jobModels, failure.AffectedModels)
	assert.True(t, failure.Universal)
	assert.Equal(t, "fails for all models", failure.PatternInsight)
}

func TestComputeSingleModelAttributeFailure(t *testing.T) {
	job := models.BatchJob{
		ID:        "batch-1",
		Documents: []string{"a.txt"},
		Models:    []string{"m1", "m2"},
	}
	runs := []models.Run{
		missingFieldRun("a.txt", "m1", "vendor"),
		validatedRun("a.txt", "m2"),
	}

	report := Compute(job, runs)

	require.Len(t, report.AttributeFailures, 1)
	failure := report.AttributeFailures[0]
	assert.False(t, failure.Universal)
	assert.Equal(t, []string{"m1"}, failure.AffectedModels)
	assert.Equal(t, "fails for one model only", failure.PatternInsight)
}

func TestComputeIgnoresNonTerminalRuns(t *testing.T) {
	job := models.BatchJob{
		ID:        "batch-1",
		Documents: []string{"a.txt"},
		Models:    []string{"m1"},
	}
	runs := []models.Run{
		{BatchJobID: "batch-1", DocumentRef: "a.txt", Model: "m1", Status: models.RunStatusPending},
	}

	report := Compute(job, runs)

	require.Len(t, report.ModelAnalytics, 1)
	assert.Equal(t, 0, report.ModelAnalytics[0].SuccessCount)
	assert.Equal(t, 0, report.ModelAnalytics[0].FailureCount)
	require.Len(t, report.DocumentResults, 1)
	assert.Equal(t, models.DocumentAllFailed, report.DocumentResults[0].Status)
}

func TestComputeIsIdempotent(t *testing.T) {
	job := models.BatchJob{
		ID:        "batch-1",
		Documents: []string{"a.txt", "b.txt"},
		Models:    []string{"m1", "m2"},
	}
	runs := []models.Run{
		validatedRun("a.txt", "m1"),
		missingFieldRun("a.txt", "m2", "total"),
		missingFieldRun("b.txt", "m1", "total"),
		validatedRun("b.txt", "m2"),
	}

	first := Compute(job, runs)
	second := Compute(job, runs)
	assert.Equal(t, first, second)
}
