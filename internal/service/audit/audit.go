// Package audit funnels activity entries to the store, the event bus, and the
// process log in one call.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// publishTimeout bounds the best-effort fan-out to the event bus.
const publishTimeout = 5 * time.Second

// Logger appends activity entries durably and mirrors them to the optional
// event publisher. Publishing never blocks the caller.
type Logger struct {
	Repo      domain.ActivityRepository
	Publisher domain.EventPublisher
	Log       *slog.Logger
}

// New constructs an audit logger. Publisher may be nil.
func New(repo domain.ActivityRepository, pub domain.EventPublisher, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{Repo: repo, Publisher: pub, Log: log}
}

// Record appends the entry. Store failures are logged, not returned: audit
// must never fail the operation it documents.
func (l *Logger) Record(ctx context.Context, e domain.ActivityEntry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := l.Repo.Append(ctx, e); err != nil {
		l.Log.Error("activity append failed",
			slog.String("kind", e.Kind),
			slog.String("user_id", e.UserID),
			slog.Any("error", err))
	}
	if l.Publisher != nil {
		go func(e domain.ActivityEntry) {
			pctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := l.Publisher.Publish(pctx, e); err != nil {
				l.Log.Debug("activity publish failed",
					slog.String("kind", e.Kind),
					slog.Any("error", err))
			}
		}(e)
	}
}
