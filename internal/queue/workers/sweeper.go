package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/speechd/asr-gateway/internal/queue"
	"github.com/speechd/asr-gateway/internal/upload"
)

// SessionSweeper removes upload staging areas that have gone idle past the
// session TTL. Abandoned uploads would otherwise leak disk space forever.
type SessionSweeper struct {
	store *upload.Store
	queue *queue.Client
	ttl   time.Duration
}

func NewSessionSweeper(store *upload.Store, qc *queue.Client, ttl time.Duration) *SessionSweeper {
	return &SessionSweeper{store: store, queue: qc, ttl: ttl}
}

func (w *SessionSweeper) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal sweep payload: %w", err)
	}

	last, err := w.store.LastActivity(payload.ContentKey)
	if err != nil {
		if errors.Is(err, upload.ErrSessionNotFound) {
			// Merged and cleaned, or already swept.
			return nil
		}
		return fmt.Errorf("check session %s: %w", payload.ContentKey, err)
	}

	idle := time.Since(last)
	if idle < w.ttl {
		// Still active; look again once the TTL would elapse.
		if err := w.queue.EnqueueSessionSweep(payload, w.ttl-idle); err != nil {
			return fmt.Errorf("reschedule sweep for %s: %w", payload.ContentKey, err)
		}
		return nil
	}

	if err := w.store.Cleanup(payload.ContentKey); err != nil {
		var partial *upload.CleanupError
		if errors.As(err, &partial) {
			slog.Warn("sweep removed session partially", "content_key", payload.ContentKey, "remaining", partial.Failed)
			return nil
		}
		return fmt.Errorf("sweep session %s: %w", payload.ContentKey, err)
	}
	slog.Info("swept stale upload session", "content_key", payload.ContentKey, "idle", idle.Round(time.Second))
	return nil
}
