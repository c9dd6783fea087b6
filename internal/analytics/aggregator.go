package analytics

import (
	"context"
	"sort"

	"github.com/veridoc/veridoc-api/internal/models"
	"github.com/veridoc/veridoc-api/internal/repository"
)

// Aggregator derives the per-model, per-document, and per-attribute views
// over a batch. Everything is recomputed from the run rows on every read.
type Aggregator struct {
	batches repository.BatchRepository
	runs    repository.RunRepository
}

func NewAggregator(batches repository.BatchRepository, runs repository.RunRepository) *Aggregator {
	return &Aggregator{batches: batches, runs: runs}
}

func (a *Aggregator) ComputeAnalytics(ctx context.Context, batchJobID string) (models.AnalyticsReport, error) {
	job, err := a.batches.Get(ctx, batchJobID)
	if err != nil {
		return models.AnalyticsReport{}, err
	}
	runs, err := a.runs.ListByBatch(ctx, batchJobID)
	if err != nil {
		return models.AnalyticsReport{}, err
	}
	return Compute(job, runs), nil
}

// Compute is pure: the same job and runs always produce the same report.
func Compute(job models.BatchJob, runs []models.Run) models.AnalyticsReport {
	report := models.AnalyticsReport{BatchJobID: job.ID}

	byModel := make(map[string][]models.Run, len(job.Models))
	byDocument := make(map[string][]models.Run, len(job.Documents))
	for _, run := range runs {
		if !run.Terminal() {
			continue
		}
		byModel[run.Model] = append(byModel[run.Model], run)
		byDocument[run.DocumentRef] = append(byDocument[run.DocumentRef], run)
	}

	for _, model := range job.Models {
		report.ModelAnalytics = append(report.ModelAnalytics, computeModel(job, model, byModel[model]))
	}
	for _, doc := range job.Documents {
		report.DocumentResults = append(report.DocumentResults, computeDocument(doc, byDocument[doc]))
	}

	var terminal []models.Run
	for _, run := range runs {
		if run.Terminal() {
			terminal = append(terminal, run)
		}
	}
	report.AttributeFailures = aggregateAttributes(terminal, job.Models)

	return report
}

func computeModel(job models.BatchJob, model string, runs []models.Run) models.ModelAnalytics {
	analytics := models.ModelAnalytics{Model: model}
	if len(runs) == 0 {
		return analytics
	}

	var (
		jsonValid, attrsValid, formatsValid int
		totalMS                             int64
	)
	errorDocs := make(map[string]map[string]struct{})
	errorCounts := make(map[string]int)

	for _, run := range runs {
		if run.Succeeded() {
			analytics.SuccessCount++
		} else {
			analytics.FailureCount++
		}
		if run.JSONValid {
			jsonValid++
		}
		if run.AttributesValid {
			attrsValid++
		}
		if run.FormatsValid {
			formatsValid++
		}
		totalMS += run.ExecutionMS
		analytics.TotalCost += run.InputCost + run.OutputCost

		if run.ErrorMessage != nil {
			msg := *run.ErrorMessage
			errorCounts[msg]++
			if errorDocs[msg] == nil {
				errorDocs[msg] = make(map[string]struct{})
			}
			errorDocs[msg][run.DocumentRef] = struct{}{}
		}
	}

	attempted := float64(len(runs))
	analytics.JSONValidRate = float64(jsonValid) / attempted
	analytics.AttributesValidRate = float64(attrsValid) / attempted
	analytics.FormatsValidRate = float64(formatsValid) / attempted
	analytics.AvgExecutionMS = float64(totalMS) / attempted

	for msg, count := range errorCounts {
		docs := make([]string, 0, len(errorDocs[msg]))
		for doc := range errorDocs[msg] {
			docs = append(docs, doc)
		}
		sort.Strings(docs)
		analytics.CommonErrors = append(analytics.CommonErrors, models.CommonError{
			Message:   msg,
			Count:     count,
			Documents: docs,
		})
	}
	sort.Slice(analytics.CommonErrors, func(i, j int) bool {
		a, b := analytics.CommonErrors[i], analytics.CommonErrors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Message < b.Message
	})

	analytics.AttributeFailures = aggregateAttributes(runs, job.Models)
	return analytics
}

func computeDocument(doc string, runs []models.Run) models.DocumentResult {
	result := models.DocumentResult{DocumentRef: doc}
	for _, run := range runs {
		if run.Succeeded() {
			result.PassedRuns++
		} else {
			result.FailedRuns++
		}
	}
	switch {
	case result.PassedRuns > 0 && result.FailedRuns == 0:
		result.Status = models.DocumentAllPassed
	case result.PassedRuns > 0:
		result.Status = models.DocumentPartial
	default:
		result.Status = models.DocumentAllFailed
	}
	return result
}

// aggregateAttributes rolls every run's validation detail up by schema
// path. A failure affecting every model in the batch is flagged universal:
// the strongest signal the defect is in the prompt, schema, or document
// rather than any one model.
func aggregateAttributes(runs []models.Run, jobModels []string) []models.AttributeFailure {
	type bucket struct {
		failure models.AttributeFailure
		models  map[string]struct{}
	}
	buckets := make(map[string]*bucket)

	get := func(path string) *bucket {
		b, ok := buckets[path]
		if !ok {
			b = &bucket{failure: models.AttributeFailure{Path: path}, models: make(map[string]struct{})}
			buckets[path] = b
		}
		return b
	}

	for _, run := range runs {
		for _, path := range run.ValidationDetail.MissingAttributes {
			b := get(path)
			b.failure.MissingCount++
			b.models[run.Model] = struct{}{}
		}
		for _, v := range run.ValidationDetail.TypeMismatches {
			b := get(v.Path)
			b.failure.TypeMismatchCount++
			b.models[run.Model] = struct{}{}
		}
		for _, v := range run.ValidationDetail.FormatViolations {
			b := get(v.Path)
			b.failure.FormatViolationCount++
			b.models[run.Model] = struct{}{}
		}
	}

	paths := make([]string, 0, len(buckets))
	for path := range buckets {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	failures := make([]models.AttributeFailure, 0, len(paths))
	for _, path := range paths {
		b := buckets[path]
		affected := make([]string, 0, len(b.models))
		for model := range b.models {
			affected = append(affected, model)
		}
		sort.Strings(affected)
		b.failure.AffectedModels = affected
		b.failure.Universal = len(jobModels) > 0 && len(affected) == len(jobModels)
		switch {
		case b.failure.Universal && len(jobModels) > 1:
			b.failure.PatternInsight = "fails for all models"
		case len(affected) == 1 && len(jobModels) > 1:
			b.failure.PatternInsight = "fails for one model only"
		}
		failures = append(failures, b.failure)
	}
	return failures
}
