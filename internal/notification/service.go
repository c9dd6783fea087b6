package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/veridoc/veridoc-api/internal/models"
	"github.com/veridoc/veridoc-api/internal/repository"
)

type Event struct {
	Owner    string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyBatchStarted(ctx context.Context, owner, batchJobID, batchName string, totalRuns int) error
	NotifyBatchCompleted(ctx context.Context, owner, batchJobID, batchName string, successfulRuns, failedRuns int) error
	NotifyBatchFailed(ctx context.Context, owner, batchJobID, batchName, reason string) error
	ListRecent(ctx context.Context, owner string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, owner, notificationID string) (models.Notification, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	message := strings.TrimSpace(evt.Message)
	if title == "" {
		title = string(evt.Event)
	}
	params := repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  message,
		Metadata: evt.Metadata,
	}
	if owner := strings.TrimSpace(evt.Owner); owner != "" {
		params.Owner = &owner
	}

	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) NotifyBatchStarted(ctx context.Context, owner, batchJobID, batchName string, totalRuns int) error {
	name := fallbackName(batchName, batchJobID)
	_, err := s.Publish(ctx, Event{
		Owner:    owner,
		Event:    models.NotificationEventBatchStarted,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Batch started: %s", name),
		Message:  fmt.Sprintf("Batch %s is processing %d runs.", name, totalRuns),
		Metadata: map[string]interface{}{
			"batch_job_id": batchJobID,
			"batch_name":   name,
			"total_runs":   totalRuns,
		},
	})
	return err
}

func (s *service) NotifyBatchCompleted(ctx context.Context, owner, batchJobID, batchName string, successfulRuns, failedRuns int) error {
	name := fallbackName(batchName, batchJobID)
	severity := models.NotificationSeverityInfo
	if failedRuns > 0 {
		severity = models.NotificationSeverityWarning
	}
	_, err := s.Publish(ctx, Event{
		Owner:    owner,
		Event:    models.NotificationEventBatchCompleted,
		Severity: severity,
		Title:    fmt.Sprintf("Batch completed: %s", name),
		Message:  fmt.Sprintf("Batch %s finished with %d successful and %d failed runs.", name, successfulRuns, failedRuns),
		Metadata: map[string]interface{}{
			"batch_job_id":    batchJobID,
			"batch_name":      name,
			"successful_runs": successfulRuns,
			"failed_runs":     failedRuns,
		},
	})
	return err
}

func (s *service) NotifyBatchFailed(ctx context.Context, owner, batchJobID, batchName, reason string) error {
	name := fallbackName(batchName, batchJobID)
	_, err := s.Publish(ctx, Event{
		Owner:    owner,
		Event:    models.NotificationEventBatchFailed,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Batch failed: %s", name),
		Message:  fmt.Sprintf("Batch %s failed: %s", name, reason),
		Metadata: map[string]interface{}{
			"batch_job_id": batchJobID,
			"batch_name":   name,
			"reason":       reason,
		},
	})
	return err
}

func (s *service) ListRecent(ctx context.Context, owner string, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, owner, limit)
}

func (s *service) MarkRead(ctx context.Context, owner, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, owner, notificationID)
}

func fallbackName(name, id string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return id
}
