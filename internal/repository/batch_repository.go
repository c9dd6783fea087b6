package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/veridoc/veridoc-api/internal/models"
)

type BatchRepository interface {
	Create(ctx context.Context, job models.BatchJob) (models.BatchJob, error)
	Get(ctx context.Context, id string) (models.BatchJob, error)
	List(ctx context.Context, owner string) ([]models.BatchJob, error)

	// MarkProcessing performs the pending->processing transition. It
	// returns ErrNotFound for unknown ids and ErrInvalidState when the
	// job is in any state other than pending, which is also the guard
	// against concurrent duplicate starts.
	MarkProcessing(ctx context.Context, id string) error
	SetCurrentDocument(ctx context.Context, id, documentRef string) error
	// RecordRunOutcome increments successful_runs or failed_runs by one.
	RecordRunOutcome(ctx context.Context, id string, succeeded bool) error
	IncrementCompletedDocuments(ctx context.Context, id string) error
	// Finalize performs the processing->completed/failed transition and
	// clears the current-document pointer.
	Finalize(ctx context.Context, id string, status models.BatchStatus) error
}

type batchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) BatchRepository {
	return &batchRepository{db: db}
}

const batchColumns = `
	id, owner, name, documents, models, system_prompt, user_prompt,
	output_shape, output_schema, status, total_documents, completed_documents,
	successful_runs, failed_runs, current_document, created_at, updated_at
`

func (r *batchRepository) Create(ctx context.Context, job models.BatchJob) (models.BatchJob, error) {
	documents, err := json.Marshal(job.Documents)
	if err != nil {
		return job, errors.Wrap(err, "marshal documents")
	}
	modelIDs, err := json.Marshal(job.Models)
	if err != nil {
		return job, errors.Wrap(err, "marshal models")
	}

	query := `
		INSERT INTO veridoc.batch_jobs
			(owner, name, documents, models, system_prompt, user_prompt, output_shape, output_schema, status, total_documents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
		RETURNING id, status, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		job.Owner,
		job.Name,
		documents,
		modelIDs,
		job.SystemPrompt,
		job.UserPrompt,
		job.OutputShape,
		[]byte(job.OutputSchema),
		len(job.Documents),
	).Scan(&job.ID, &job.Status, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return job, errors.Wrap(err, "insert batch job")
	}
	job.TotalDocuments = len(job.Documents)
	return job, nil
}

func (r *batchRepository) Get(ctx context.Context, id string) (models.BatchJob, error) {
	query := `SELECT ` + batchColumns + ` FROM veridoc.batch_jobs WHERE id = $1`
	job, err := scanBatchJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return job, ErrNotFound
		}
		return job, err
	}
	return job, nil
}

func (r *batchRepository) List(ctx context.Context, owner string) ([]models.BatchJob, error) {
	query := `SELECT ` + batchColumns + ` FROM veridoc.batch_jobs WHERE owner = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.BatchJob{}
	for rows.Next() {
		job, err := scanBatchJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *batchRepository) MarkProcessing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE veridoc.batch_jobs
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return errors.Wrap(err, "mark processing")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM veridoc.batch_jobs WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidState
	}
	return nil
}

func (r *batchRepository) SetCurrentDocument(ctx context.Context, id, documentRef string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE veridoc.batch_jobs
		SET current_document = $2, updated_at = NOW()
		WHERE id = $1
	`, id, documentRef)
	return err
}

func (r *batchRepository) RecordRunOutcome(ctx context.Context, id string, succeeded bool) error {
	column := "failed_runs"
	if succeeded {
		column = "successful_runs"
	}
	query := fmt.Sprintf(`
		UPDATE veridoc.batch_jobs
		SET %s = %s + 1, updated_at = NOW()
		WHERE id = $1
	`, column, column)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *batchRepository) IncrementCompletedDocuments(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE veridoc.batch_jobs
		SET completed_documents = completed_documents + 1, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (r *batchRepository) Finalize(ctx context.Context, id string, status models.BatchStatus) error {
	if status != models.BatchStatusCompleted && status != models.BatchStatusFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE veridoc.batch_jobs
		SET status = $2, current_document = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, status)
	if err != nil {
		return errors.Wrap(err, "finalize batch job")
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

func scanBatchJob(scanner interface {
	Scan(dest ...interface{}) error
}) (models.BatchJob, error) {
	var (
		job          models.BatchJob
		documentsRaw []byte
		modelsRaw    []byte
		schemaRaw    []byte
		currentDoc   sql.NullString
	)

	if err := scanner.Scan(
		&job.ID,
		&job.Owner,
		&job.Name,
		&documentsRaw,
		&modelsRaw,
		&job.SystemPrompt,
		&job.UserPrompt,
		&job.OutputShape,
		&schemaRaw,
		&job.Status,
		&job.TotalDocuments,
		&job.CompletedDocuments,
		&job.SuccessfulRuns,
		&job.FailedRuns,
		&currentDoc,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return job, err
	}

	if err := json.Unmarshal(documentsRaw, &job.Documents); err != nil {
		return job, errors.Wrap(err, "unmarshal documents")
	}
	if err := json.Unmarshal(modelsRaw, &job.Models); err != nil {
		return job, errors.Wrap(err, "unmarshal models")
	}
	job.OutputSchema = json.RawMessage(schemaRaw)
	if currentDoc.Valid {
		job.CurrentDocument = &currentDoc.String
	}
	return job, nil
}
