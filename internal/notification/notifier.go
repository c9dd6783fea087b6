package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/veridoc/veridoc-api/internal/models"
)

// Notifier is an optional delivery channel on top of the persisted feed.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

func notifierChannelName(n Notifier) string {
	type named interface{ Name() string }
	if v, ok := n.(named); ok {
		return v.Name()
	}
	return fmt.Sprintf("%T", n)
}

func logNotifyError(logger zerolog.Logger, err error, channel string, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
