package notify

import (
	"context"
	"log/slog"
)

// Notification is a user-facing message about a bill. ID ties follow-up
// notifications for the same bill together so handled ones can be cleared.
type Notification struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Clear(ctx context.Context, id string) error
}

// LogNotifier writes notifications to the log. It is the default sink when
// no webhook is configured.
type LogNotifier struct{}

func NewLogNotifier() LogNotifier {
	return LogNotifier{}
}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	slog.Info("Notification", "id", n.ID, "title", n.Title, "message", n.Message)
	return nil
}

func (LogNotifier) Clear(_ context.Context, id string) error {
	slog.Info("Notification cleared", "id", id)
	return nil
}
