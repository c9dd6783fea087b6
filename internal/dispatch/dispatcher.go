package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/veridoc/veridoc-api/internal/documents"
	"github.com/veridoc/veridoc-api/internal/llm"
	"github.com/veridoc/veridoc-api/internal/models"
	"github.com/veridoc/veridoc-api/internal/schema"
)

// Dispatcher executes one (document, model) cell: a single completion call
// under a bounded timeout, followed by validation. There are no retries; a
// failed run is terminal and surfaced to the user.
type Dispatcher struct {
	completions llm.CompletionClient
	docs        documents.Store
	validator   *schema.Validator
	timeout     time.Duration
	logger      zerolog.Logger
}

func NewDispatcher(completions llm.CompletionClient, docs documents.Store, validator *schema.Validator, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		completions: completions,
		docs:        docs,
		validator:   validator,
		timeout:     timeout,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Execute always returns a terminal run; every failure path is recorded on
// the run itself rather than propagated.
func (d *Dispatcher) Execute(ctx context.Context, job models.BatchJob, run models.Run) models.Run {
	started := time.Now()

	text, err := d.docs.GetText(ctx, run.DocumentRef)
	if err != nil {
		return d.fail(run, started, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	completion, err := d.completions.Complete(callCtx, run.Model, job.SystemPrompt, buildUserPrompt(job.UserPrompt, text))
	if err != nil {
		return d.fail(run, started, err)
	}

	run.Status = models.RunStatusCompleted
	run.RawResponse = &completion.Text
	run.ExecutionMS = time.Since(started).Milliseconds()
	run.InputTokens = completion.InputTokens
	run.OutputTokens = completion.OutputTokens
	run.InputCost, run.OutputCost = llm.Cost(run.Model, completion.InputTokens, completion.OutputTokens)

	result := d.validator.Validate(completion.Text, job.OutputSchema, job.OutputShape)
	run.JSONValid = result.JSONValid
	run.AttributesValid = result.AttributesValid
	run.FormatsValid = result.FormatsValid
	run.ValidationDetail = result.Detail
	run.Payload = result.Payload
	run.Suggestions = schema.Suggestions(result.Detail, job.OutputShape, "")

	d.logger.Debug().
		Str("batch_job_id", run.BatchJobID).
		Str("document", run.DocumentRef).
		Str("model", run.Model).
		Bool("json_valid", run.JSONValid).
		Bool("attributes_valid", run.AttributesValid).
		Bool("formats_valid", run.FormatsValid).
		Int64("execution_ms", run.ExecutionMS).
		Msg("run completed")

	return run
}

func (d *Dispatcher) fail(run models.Run, started time.Time, err error) models.Run {
	kind := llm.ClassifyError(err)
	message := llm.FormatError(err)

	run.Status = models.RunStatusFailed
	run.ErrorMessage = &message
	run.ExecutionMS = time.Since(started).Milliseconds()
	run.JSONValid = false
	run.AttributesValid = false
	run.FormatsValid = false
	run.Suggestions = schema.Suggestions(models.ValidationDetail{}, "", string(kind))

	d.logger.Warn().
		Str("batch_job_id", run.BatchJobID).
		Str("document", run.DocumentRef).
		Str("model", run.Model).
		Str("error_kind", string(kind)).
		Err(err).
		Msg("run failed")

	return run
}

func buildUserPrompt(userPrompt, documentText string) string {
	return fmt.Sprintf("%s\n\n---\nDocument text:\n%s", userPrompt, documentText)
}
