package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veridoc/veridoc-api/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, owner string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, owner, notificationID string) (models.Notification, error)
}

type notificationRepository struct {
	db *sql.DB
}

type CreateNotificationParams struct {
	Owner    *string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	const query = `
		INSERT INTO veridoc.notifications (owner, event_type, severity, title, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, owner, event_type, severity, title, message, metadata, created_at, read_at
	`

	var owner interface{}
	if params.Owner != nil && strings.TrimSpace(*params.Owner) != "" {
		owner = strings.TrimSpace(*params.Owner)
	}

	var metadata interface{}
	if len(params.Metadata) > 0 {
		bytes, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = bytes
	}

	row := r.db.QueryRowContext(ctx, query, owner, params.Event, params.Severity, params.Title, params.Message, metadata)
	return scanNotification(row)
}

func (r *notificationRepository) ListRecent(ctx context.Context, owner string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	const query = `
		SELECT id, owner, event_type, severity, title, message, metadata, created_at, read_at
		FROM veridoc.notifications
		WHERE owner IS NULL OR owner = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(owner), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, owner, notificationID string) (models.Notification, error) {
	const query = `
		UPDATE veridoc.notifications
		SET read_at = NOW()
		WHERE id = $1 AND (owner IS NULL OR owner = $2)
		RETURNING id, owner, event_type, severity, title, message, metadata, created_at, read_at
	`
	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(notificationID), strings.TrimSpace(owner))
	return scanNotification(row)
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Notification, error) {
	var (
		notif       models.Notification
		owner       sql.NullString
		metadataRaw []byte
		readAt      sql.NullTime
	)

	if err := scanner.Scan(
		&notif.ID,
		&owner,
		&notif.EventType,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&metadataRaw,
		&notif.CreatedAt,
		&readAt,
	); err != nil {
		return models.Notification{}, err
	}

	if owner.Valid {
		val := owner.String
		notif.Owner = &val
	}
	if len(metadataRaw) > 0 {
		notif.Metadata = metadataRaw
	}
	if readAt.Valid {
		t := readAt.Time
		notif.ReadAt = &t
	}
	return notif, nil
}
