package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/veridoc/veridoc-api/internal/models"
)

type RunRepository interface {
	// CreateMatrix inserts the pending run rows for an expanded batch in
	// one transaction.
	CreateMatrix(ctx context.Context, runs []models.Run) error
	// Complete writes the single terminal mutation of a run.
	Complete(ctx context.Context, run models.Run) error
	ListByBatch(ctx context.Context, batchJobID string) ([]models.Run, error)
	ListForDocument(ctx context.Context, batchJobID, documentRef string) ([]models.Run, error)
}

type runRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) RunRepository {
	return &runRepository{db: db}
}

const runColumns = `
	id, batch_job_id, document_ref, model, status, raw_response, payload,
	json_valid, attributes_valid, formats_valid, validation_detail, suggestions,
	execution_ms, input_tokens, output_tokens, input_cost, output_cost,
	error_message, created_at, updated_at
`

func (r *runRepository) CreateMatrix(ctx context.Context, runs []models.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO veridoc.runs (id, batch_job_id, document_ref, model, status)
		VALUES ($1, $2, $3, $4, 'pending')
	`)
	if err != nil {
		return errors.Wrap(err, "prepare run insert")
	}
	defer stmt.Close()

	for _, run := range runs {
		if _, err := stmt.ExecContext(ctx, run.ID, run.BatchJobID, run.DocumentRef, run.Model); err != nil {
			return errors.Wrapf(err, "insert run %s/%s", run.DocumentRef, run.Model)
		}
	}
	return tx.Commit()
}

func (r *runRepository) Complete(ctx context.Context, run models.Run) error {
	detail, err := json.Marshal(run.ValidationDetail)
	if err != nil {
		return errors.Wrap(err, "marshal validation detail")
	}
	suggestions, err := json.Marshal(run.Suggestions)
	if err != nil {
		return errors.Wrap(err, "marshal suggestions")
	}

	var payload interface{}
	if len(run.Payload) > 0 {
		payload = []byte(run.Payload)
	}

	query := `
		UPDATE veridoc.runs
		SET status            = $2,
		    raw_response      = $3,
		    payload           = $4,
		    json_valid        = $5,
		    attributes_valid  = $6,
		    formats_valid     = $7,
		    validation_detail = $8,
		    suggestions       = $9,
		    execution_ms      = $10,
		    input_tokens      = $11,
		    output_tokens     = $12,
		    input_cost        = $13,
		    output_cost       = $14,
		    error_message     = $15,
		    updated_at        = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
	`
	res, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.RawResponse,
		payload,
		run.JSONValid,
		run.AttributesValid,
		run.FormatsValid,
		detail,
		suggestions,
		run.ExecutionMS,
		run.InputTokens,
		run.OutputTokens,
		run.InputCost,
		run.OutputCost,
		run.ErrorMessage,
	)
	if err != nil {
		return errors.Wrapf(err, "complete run %s", run.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *runRepository) ListByBatch(ctx context.Context, batchJobID string) ([]models.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM veridoc.runs
		WHERE batch_job_id = $1
		ORDER BY created_at ASC, document_ref ASC, model ASC
	`
	return r.queryRuns(ctx, query, batchJobID)
}

func (r *runRepository) ListForDocument(ctx context.Context, batchJobID, documentRef string) ([]models.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM veridoc.runs
		WHERE batch_job_id = $1 AND document_ref = $2
		ORDER BY model ASC
	`
	return r.queryRuns(ctx, query, batchJobID, documentRef)
}

func (r *runRepository) queryRuns(ctx context.Context, query string, args ...interface{}) ([]models.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Run, error) {
	var (
		run            models.Run
		rawResponse    sql.NullString
		payloadRaw     []byte
		detailRaw      []byte
		suggestionsRaw []byte
		errMsg         sql.NullString
	)

	if err := scanner.Scan(
		&run.ID,
		&run.BatchJobID,
		&run.DocumentRef,
		&run.Model,
		&run.Status,
		&rawResponse,
		&payloadRaw,
		&run.JSONValid,
		&run.AttributesValid,
		&run.FormatsValid,
		&detailRaw,
		&suggestionsRaw,
		&run.ExecutionMS,
		&run.InputTokens,
		&run.OutputTokens,
		&run.InputCost,
		&run.OutputCost,
		&errMsg,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return run, err
	}

	if rawResponse.Valid {
		run.RawResponse = &rawResponse.String
	}
	if len(payloadRaw) > 0 {
		run.Payload = json.RawMessage(payloadRaw)
	}
	if len(detailRaw) > 0 {
		if err := json.Unmarshal(detailRaw, &run.ValidationDetail); err != nil {
			return run, errors.Wrap(err, "unmarshal validation detail")
		}
	}
	if len(suggestionsRaw) > 0 {
		if err := json.Unmarshal(suggestionsRaw, &run.Suggestions); err != nil {
			return run, errors.Wrap(err, "unmarshal suggestions")
		}
	}
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	return run, nil
}
