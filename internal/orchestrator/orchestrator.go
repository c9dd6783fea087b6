package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/veridoc/veridoc-api/internal/models"
	"github.com/veridoc/veridoc-api/internal/notification"
	"github.com/veridoc/veridoc-api/internal/repository"
)

// RunExecutor executes one cell of the run matrix and always returns a
// terminal run.
type RunExecutor interface {
	Execute(ctx context.Context, job models.BatchJob, run models.Run) models.Run
}

// Orchestrator owns the batch job lifecycle: it expands documents x models
// into the run matrix, fans the dispatcher out under a bounded limit, and
// keeps the job-level counters moving as runs complete.
//
// Exactly one orchestrator instance is assumed to own a job's execution;
// the pending->processing guard rejects duplicate starts. If the process
// dies mid-batch the job stays in processing — detectable by updated_at
// staleness, deliberately not self-healed.
type Orchestrator struct {
	batches     repository.BatchRepository
	runs        repository.RunRepository
	executor    RunExecutor
	notifier    notification.Service
	concurrency int
	logger      zerolog.Logger
}

func New(batches repository.BatchRepository, runs repository.RunRepository, executor RunExecutor, notifier notification.Service, concurrency int, logger zerolog.Logger) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Orchestrator{
		batches:     batches,
		runs:        runs,
		executor:    executor,
		notifier:    notifier,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Start transitions the job to processing, creates the pending run rows,
// and schedules background execution. It returns repository.ErrNotFound
// for unknown jobs and repository.ErrInvalidState when the job is not
// pending.
func (o *Orchestrator) Start(ctx context.Context, batchJobID string) error {
	job, err := o.batches.Get(ctx, batchJobID)
	if err != nil {
		return err
	}
	if err := o.batches.MarkProcessing(ctx, batchJobID); err != nil {
		return err
	}
	job.Status = models.BatchStatusProcessing

	// Documents outer, models inner. The order only matters for the
	// current-document progress pointer.
	runs := make([]models.Run, 0, job.TotalRuns())
	for _, doc := range job.Documents {
		for _, model := range job.Models {
			runs = append(runs, models.Run{
				ID:          uuid.NewString(),
				BatchJobID:  job.ID,
				DocumentRef: doc,
				Model:       model,
				Status:      models.RunStatusPending,
			})
		}
	}
	if err := o.runs.CreateMatrix(ctx, runs); err != nil {
		if ferr := o.batches.Finalize(ctx, job.ID, models.BatchStatusFailed); ferr != nil {
			o.logger.Error().Err(ferr).Str("batch_job_id", job.ID).Msg("failed to finalize after matrix error")
		}
		return errors.Wrap(err, "create run matrix")
	}

	if o.notifier != nil {
		if err := o.notifier.NotifyBatchStarted(ctx, job.Owner, job.ID, job.Name, len(runs)); err != nil {
			o.logger.Warn().Err(err).Str("batch_job_id", job.ID).Msg("failed to publish start notification")
		}
	}

	// Detach from the request context: the batch outlives the HTTP call.
	go o.process(context.Background(), job, runs)
	return nil
}

func (o *Orchestrator) process(ctx context.Context, job models.BatchJob, runs []models.Run) {
	logger := o.logger.With().Str("batch_job_id", job.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("orchestrator panicked mid-batch")
			if err := o.batches.Finalize(ctx, job.ID, models.BatchStatusFailed); err != nil {
				logger.Error().Err(err).Msg("failed to mark batch failed after panic")
			}
			o.notifyFailed(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	byDocument := make(map[string][]models.Run, len(job.Documents))
	for _, run := range runs {
		byDocument[run.DocumentRef] = append(byDocument[run.DocumentRef], run)
	}

	logger.Info().
		Int("documents", len(job.Documents)).
		Int("models", len(job.Models)).
		Int("runs", len(runs)).
		Msg("batch processing started")

	for _, doc := range job.Documents {
		if err := o.batches.SetCurrentDocument(ctx, job.ID, doc); err != nil {
			logger.Warn().Err(err).Str("document", doc).Msg("failed to update current document")
		}

		r := newRunner(ctx, o.concurrency)
		for _, run := range byDocument[doc] {
			run := run
			r.Go(func() error {
				result := o.executor.Execute(ctx, job, run)
				o.persistOutcome(ctx, logger, result)
				// One run's failure never aborts its siblings.
				return nil
			})
		}
		if err := r.Wait(); err != nil {
			logger.Error().Err(err).Str("document", doc).Msg("runner reported an error")
		}

		if err := o.batches.IncrementCompletedDocuments(ctx, job.ID); err != nil {
			logger.Warn().Err(err).Str("document", doc).Msg("failed to increment completed documents")
		}
	}

	if err := o.batches.Finalize(ctx, job.ID, models.BatchStatusCompleted); err != nil {
		logger.Error().Err(err).Msg("failed to finalize batch")
		return
	}
	logger.Info().Msg("batch processing completed")
	o.notifyCompleted(ctx, job)
}

// persistOutcome writes the terminal run and bumps the job counters. Each
// run is persisted individually and immediately so polled counters only
// ever move forward.
func (o *Orchestrator) persistOutcome(ctx context.Context, logger zerolog.Logger, run models.Run) {
	if err := o.runs.Complete(ctx, run); err != nil {
		logger.Error().Err(err).
			Str("run_id", run.ID).
			Str("document", run.DocumentRef).
			Str("model", run.Model).
			Msg("failed to persist run")
		return
	}
	if err := o.batches.RecordRunOutcome(ctx, run.BatchJobID, run.Succeeded()); err != nil {
		logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to record run outcome")
	}
}

func (o *Orchestrator) notifyCompleted(ctx context.Context, job models.BatchJob) {
	if o.notifier == nil {
		return
	}
	final, err := o.batches.Get(ctx, job.ID)
	if err != nil {
		final = job
	}
	if err := o.notifier.NotifyBatchCompleted(ctx, job.Owner, job.ID, job.Name, final.SuccessfulRuns, final.FailedRuns); err != nil {
		o.logger.Warn().Err(err).Str("batch_job_id", job.ID).Msg("failed to publish completion notification")
	}
}

func (o *Orchestrator) notifyFailed(ctx context.Context, job models.BatchJob, reason string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyBatchFailed(ctx, job.Owner, job.ID, job.Name, reason); err != nil {
		o.logger.Warn().Err(err).Str("batch_job_id", job.ID).Msg("failed to publish failure notification")
	}
}
