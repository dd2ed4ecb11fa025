package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fintrackhq/fintrack-linking/internal/models"
	"github.com/fintrackhq/fintrack-linking/internal/repository"
)

// ==============================================
// STATUS WATCHER
// ==============================================

// StatusUpdate is one observation of a session's effective state.
type StatusUpdate struct {
	Status      models.SessionStatus `json:"status"`
	ExternalRef string               `json:"external_ref,omitempty"`
}

// StatusWatcher is the client reconciliation loop for push-style channels:
// the initiating client cannot know when the external callback lands, so it
// polls the store until the session reaches a terminal state. The loop's
// lifetime is the caller's context, never the session TTL — cancelling the
// context stops the poll immediately and closes the stream.
type StatusWatcher struct {
	store       SessionStore
	interval    time.Duration
	readTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

const (
	defaultPollInterval = 3 * time.Second
	// Each tick's read must finish before the next tick fires so in-flight
	// requests never overlap.
	defaultReadTimeout = 2 * time.Second
)

func NewStatusWatcher(store SessionStore, logger *slog.Logger) *StatusWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusWatcher{
		store:       store,
		interval:    defaultPollInterval,
		readTimeout: defaultReadTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

// Watch polls the session until its status is terminal or ctx is cancelled.
// The returned channel emits on every observed status change and is always
// closed when the loop exits, so a leaked poller is impossible by
// construction.
func (w *StatusWatcher) Watch(ctx context.Context, userID string, channel models.Channel) <-chan StatusUpdate {
	updates := make(chan StatusUpdate, 1)

	go func() {
		defer close(updates)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		var lastStatus models.SessionStatus
		for {
			update, terminal, err := w.observe(ctx, userID, channel)
			if err != nil {
				if errors.Is(err, models.ErrNoPendingSession) {
					// Session torn down underneath us; nothing left to watch.
					return
				}
				// Transient store failure: keep ticking, the next read may
				// succeed.
				w.logger.Warn("status poll failed", "user_id", userID, "channel", channel, "error", err)
			} else if update.Status != lastStatus {
				lastStatus = update.Status
				select {
				case updates <- update:
				case <-ctx.Done():
					return
				}
				if terminal {
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates
}

func (w *StatusWatcher) observe(ctx context.Context, userID string, channel models.Channel) (StatusUpdate, bool, error) {
	readCtx, cancel := context.WithTimeout(ctx, w.readTimeout)
	defer cancel()

	session, err := w.store.Get(readCtx, userID, channel)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return StatusUpdate{}, false, models.ErrNoPendingSession
		}
		return StatusUpdate{}, false, err
	}

	status := session.EffectiveStatus(w.now())
	return StatusUpdate{
		Status:      status,
		ExternalRef: session.ExternalRef.String,
	}, status.IsTerminal(), nil
}
