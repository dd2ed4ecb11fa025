package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fintrackhq/fintrack-linking/internal/delivery"
	"github.com/fintrackhq/fintrack-linking/internal/linkcode"
	"github.com/fintrackhq/fintrack-linking/internal/metric"
	"github.com/fintrackhq/fintrack-linking/internal/models"
	"github.com/fintrackhq/fintrack-linking/internal/repository"
)

// ==============================================
// STORE INTERFACE (for testing)
// ==============================================

// SessionStore is the durable session record. Implementations must make
// Upsert and RecordAttempt atomic per (user_id, channel): RecordAttempt
// compare-and-sets on the session version so a successful verification is
// never silently overwritten by a concurrent regeneration.
type SessionStore interface {
	Upsert(ctx context.Context, userID string, channel models.Channel, code, destination string, ttl time.Duration) (*models.LinkingSession, error)
	Get(ctx context.Context, userID string, channel models.Channel) (*models.LinkingSession, error)
	GetByCode(ctx context.Context, channel models.Channel, code string) (*models.LinkingSession, error)
	GetByDestination(ctx context.Context, channel models.Channel, destination string) (*models.LinkingSession, error)
	RecordAttempt(ctx context.Context, userID string, channel models.Channel, version int64, success bool, externalRef string) (*models.LinkingSession, error)
	Delete(ctx context.Context, userID string, channel models.Channel) error
}

// ==============================================
// RESULTS
// ==============================================

type StartResult struct {
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
	DeepLink    string    `json:"deep_link,omitempty"`
	Destination string    `json:"destination,omitempty"`
}

type SubmitResult struct {
	Verified    bool   `json:"verified"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// ==============================================
// LINKING SERVICE
// ==============================================

// LinkingService owns the verification state machine shared by both
// channels; the adapters only supply delivery and proof collection.
type LinkingService struct {
	store              SessionStore
	adapters           map[models.Channel]delivery.Adapter
	ttl                time.Duration
	defaultCountryCode string
	now                func() time.Time
	logger             *slog.Logger
}

func NewLinkingService(store SessionStore, adapters map[models.Channel]delivery.Adapter, defaultCountryCode string, logger *slog.Logger) *LinkingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkingService{
		store:              store,
		adapters:           adapters,
		ttl:                models.LinkingCodeTTL,
		defaultCountryCode: defaultCountryCode,
		now:                time.Now,
		logger:             logger,
	}
}

// ==============================================
// START / REGENERATE
// ==============================================

// StartLinking begins or restarts a session. Regeneration supersedes any
// prior pending session for the same (user, channel): fresh code, attempts
// back to zero. Starting against an already verified channel is rejected
// so a bound external ref can never be clobbered by accident.
func (s *LinkingService) StartLinking(ctx context.Context, userID string, channel models.Channel, destination string) (*StartResult, error) {
	adapter, ok := s.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidChannel, channel)
	}

	if channel == models.ChannelWhatsApp {
		normalized, err := normalizePhone(destination, s.defaultCountryCode)
		if err != nil {
			return nil, err
		}
		destination = normalized
	} else {
		destination = ""
	}

	existing, err := s.store.Get(ctx, userID, channel)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, s.storeError("get session", err)
	}
	if existing != nil && existing.Status == models.StatusVerified {
		return nil, models.ErrAlreadyLinked
	}

	code, err := linkcode.Generate(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to generate linking code: %w", err)
	}

	session, err := s.store.Upsert(ctx, userID, channel, code, destination, s.ttl)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyVerified) {
			// The channel verified between our read and this write; the
			// store's status guard rejected us as the losing writer.
			return nil, models.ErrAlreadyLinked
		}
		return nil, s.storeError("upsert session", err)
	}

	handle, err := adapter.Prepare(ctx, session)
	if err != nil {
		// The session stays issued; the user can retry delivery unpenalized.
		s.logger.Warn("delivery preparation failed", "user_id", userID, "channel", channel, "error", err)
		metric.DeliveryFailures.WithLabelValues(string(channel)).Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}

	metric.LinkingStarted.WithLabelValues(string(channel)).Inc()
	s.logger.Info("linking session issued",
		"user_id", userID, "channel", channel, "expires_at", session.ExpiresAt)

	return &StartResult{
		Code:        session.Code,
		ExpiresAt:   session.ExpiresAt,
		DeepLink:    handle.DeepLink,
		Destination: session.Destination.String,
	}, nil
}

// ==============================================
// SUBMIT (pull-style verification, WhatsApp path)
// ==============================================

// SubmitCode evaluates one typed-code attempt against the pending session.
// Expiry is checked before the attempt bound, so an expired-but-not-
// exhausted session reports Expired rather than LockedOut. Wrong codes are
// recoverable until the bound; expiry and lockout require regeneration.
func (s *LinkingService) SubmitCode(ctx context.Context, userID string, channel models.Channel, code string) (*SubmitResult, error) {
	// Telegram verifies through the bot callback, which supplies the chat
	// identity to bind. A typed submission carries no external ref, so
	// verifying it would produce a link no notification can ever reach.
	if channel != models.ChannelWhatsApp {
		return nil, fmt.Errorf("%w: %q does not verify by typed code", models.ErrInvalidChannel, channel)
	}

	session, err := s.store.Get(ctx, userID, channel)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, models.ErrNoPendingSession
		}
		return nil, s.storeError("get session", err)
	}

	switch {
	case session.Status == models.StatusVerified:
		return nil, models.ErrAlreadyLinked
	case session.Status == models.StatusExpired || session.IsExpiredAt(s.now()):
		metric.VerificationResults.WithLabelValues(string(channel), metric.ResultExpired).Inc()
		return nil, models.ErrSessionExpired
	case session.Status == models.StatusLocked || int(session.Attempts) >= models.MaxVerifyAttempts:
		metric.VerificationResults.WithLabelValues(string(channel), metric.ResultLocked).Inc()
		return nil, models.ErrLockedOut
	}

	if code != session.Code {
		updated, err := s.store.RecordAttempt(ctx, userID, channel, session.Version, false, "")
		if err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// The session was superseded or resolved while we evaluated;
				// nothing was counted against the caller.
				return nil, models.ErrNoPendingSession
			}
			return nil, s.storeError("record attempt", err)
		}

		metric.VerificationResults.WithLabelValues(string(channel), metric.ResultMismatch).Inc()
		s.logger.Info("code mismatch",
			"user_id", userID, "channel", channel, "attempts", updated.Attempts)
		return nil, &models.CodeMismatchError{AttemptsRemaining: updated.AttemptsRemaining()}
	}

	externalRef := session.Destination.String
	updated, err := s.store.RecordAttempt(ctx, userID, channel, session.Version, true, externalRef)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, models.ErrNoPendingSession
		}
		return nil, s.storeError("record attempt", err)
	}

	metric.VerificationResults.WithLabelValues(string(channel), metric.ResultVerified).Inc()
	s.logger.Info("channel verified",
		"user_id", userID, "channel", channel, "external_ref", updated.ExternalRef.String)

	return &SubmitResult{
		Verified:    true,
		ExternalRef: updated.ExternalRef.String,
	}, nil
}

// ==============================================
// TELEGRAM CALLBACK (push-style verification)
// ==============================================

// CompleteTelegramLink resolves an inbound "/start <code>" callback from
// the bot. The proof is the code carried by the deep link plus the chat
// identity it arrived from. Unknown or stale codes do not consume attempts:
// in the push flow a wrong code is never a user guess, so push-style
// channels are exempt from attempt counting.
func (s *LinkingService) CompleteTelegramLink(ctx context.Context, code string, chatID int64) (*models.LinkingSession, error) {
	session, err := s.store.GetByCode(ctx, models.ChannelTelegram, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, models.ErrNoPendingSession
		}
		return nil, s.storeError("get session by code", err)
	}

	if session.IsExpiredAt(s.now()) {
		metric.VerificationResults.WithLabelValues(string(models.ChannelTelegram), metric.ResultExpired).Inc()
		return nil, models.ErrSessionExpired
	}

	updated, err := s.store.RecordAttempt(ctx, session.UserID, session.Channel, session.Version, true, strconv.FormatInt(chatID, 10))
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// A concurrent regeneration won the row; the code this callback
			// carries belongs to a superseded session.
			return nil, models.ErrNoPendingSession
		}
		return nil, s.storeError("record attempt", err)
	}

	metric.VerificationResults.WithLabelValues(string(models.ChannelTelegram), metric.ResultVerified).Inc()
	s.logger.Info("telegram chat linked",
		"user_id", updated.UserID, "chat_id", chatID)
	return updated, nil
}

// ==============================================
// WHATSAPP INBOUND TRIGGER
// ==============================================

// HandleWhatsAppTrigger reacts to the user's "authenticate me" message by
// sending the pending OTP back to the originating phone. Delivery failure
// leaves the session untouched; no attempt is consumed.
func (s *LinkingService) HandleWhatsAppTrigger(ctx context.Context, phone string) error {
	normalized, err := normalizePhone(phone, s.defaultCountryCode)
	if err != nil {
		return err
	}

	session, err := s.store.GetByDestination(ctx, models.ChannelWhatsApp, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return models.ErrNoPendingSession
		}
		return s.storeError("get session by destination", err)
	}

	if session.IsExpiredAt(s.now()) {
		return models.ErrSessionExpired
	}

	adapter, ok := s.adapters[models.ChannelWhatsApp]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrInvalidChannel, models.ChannelWhatsApp)
	}

	if err := adapter.Send(ctx, session); err != nil {
		metric.DeliveryFailures.WithLabelValues(string(models.ChannelWhatsApp)).Inc()
		if errors.Is(err, models.ErrDeliveryFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}
	return nil
}

// ==============================================
// STATUS / CANCEL
// ==============================================

// Status reports the session's effective state, mapping a time-expired
// issued session to expired without waiting for any sweep.
func (s *LinkingService) Status(ctx context.Context, userID string, channel models.Channel) (models.SessionStatus, string, error) {
	session, err := s.store.Get(ctx, userID, channel)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "", "", models.ErrNoPendingSession
		}
		return "", "", s.storeError("get session", err)
	}
	return session.EffectiveStatus(s.now()), session.ExternalRef.String, nil
}

// CancelLinking tears a pending session down before completion ("change
// number" / navigation away).
func (s *LinkingService) CancelLinking(ctx context.Context, userID string, channel models.Channel) error {
	if err := s.store.Delete(ctx, userID, channel); err != nil {
		return s.storeError("delete session", err)
	}
	s.logger.Info("linking session cancelled", "user_id", userID, "channel", channel)
	return nil
}

// ==============================================
// HELPERS
// ==============================================

func (s *LinkingService) storeError(op string, err error) error {
	s.logger.Error("session store error", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", models.ErrStoreUnavailable, op, err)
}

// normalizePhone reduces a typed phone number to E.164. Numbers without a
// country prefix get the configured default (the product launched in
// Colombia, so +57 out of the box). Messaging providers often strip the
// plus from an already-prefixed number, so a bare number that starts with
// the default country code and is longer than a local number keeps its
// prefix instead of getting a second one.
func normalizePhone(phone, defaultCountryCode string) (string, error) {
	trimmed := strings.TrimSpace(phone)
	hasPlus := strings.HasPrefix(trimmed, "+")

	var b strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) < 10 {
		return "", models.ErrInvalidDestination
	}

	if hasPlus {
		return "+" + digits, nil
	}

	countryDigits := strings.TrimPrefix(defaultCountryCode, "+")
	if strings.HasPrefix(digits, countryDigits) && len(digits) >= len(countryDigits)+10 {
		return "+" + digits, nil
	}
	return defaultCountryCode + digits, nil
}
