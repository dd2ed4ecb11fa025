package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ==============================================
// CHANNEL
// ==============================================

// Channel identifies the external messaging channel a user links.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
)

// ParseChannel validates a channel name coming from the API surface.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(s)) {
	case ChannelTelegram:
		return ChannelTelegram, nil
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
}

// ==============================================
// SESSION STATUS
// ==============================================

type SessionStatus string

const (
	StatusIssued   SessionStatus = "issued"
	StatusVerified SessionStatus = "verified"
	StatusExpired  SessionStatus = "expired"
	StatusLocked   SessionStatus = "locked"
)

// IsTerminal reports whether no further verification can happen on a
// session in this status.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusVerified || s == StatusExpired || s == StatusLocked
}

// ==============================================
// LINKING SESSION MODEL
// ==============================================

// LinkingSession is one pending or resolved channel verification.
// There is at most one row per (user_id, channel); a new request
// supersedes any prior pending session for that pair.
type LinkingSession struct {
	ID          int64            `db:"id"`
	UserID      string           `db:"user_id"`
	Channel     Channel          `db:"channel"`
	Code        string           `db:"code"`
	Destination pgtype.Text      `db:"destination"`  // phone number for WhatsApp, unused for Telegram
	CreatedAt   time.Time        `db:"created_at"`
	ExpiresAt   time.Time        `db:"expires_at"`
	Attempts    int32            `db:"attempts"`
	Status      SessionStatus    `db:"status"`
	ExternalRef pgtype.Text      `db:"external_ref"` // chat id or phone, set once on verification
	VerifiedAt  pgtype.Timestamp `db:"verified_at"`
	Version     int64            `db:"version"`      // optimistic concurrency token
}

// IsExpiredAt reports whether the session's TTL has elapsed. Expiry is
// evaluated lazily against the caller's clock, never against stored status.
func (s *LinkingSession) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// EffectiveStatus maps a time-expired but still-issued session to expired.
func (s *LinkingSession) EffectiveStatus(now time.Time) SessionStatus {
	if s.Status == StatusIssued && s.IsExpiredAt(now) {
		return StatusExpired
	}
	return s.Status
}

// AttemptsRemaining never goes below zero even if a stored counter drifts.
func (s *LinkingSession) AttemptsRemaining() int {
	remaining := MaxVerifyAttempts - int(s.Attempts)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ==============================================
// LINKING CONFIGURATION
// ==============================================

const (
	LinkingCodeLength = 6                // both channels use 6-symbol codes
	LinkingCodeTTL    = 10 * time.Minute // code validity window
	MaxVerifyAttempts = 3                // failed submissions before lockout
)
