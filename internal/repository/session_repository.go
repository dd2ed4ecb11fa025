package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fintrackhq/fintrack-linking/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ==============================================
// ERRORS
// ==============================================

var (
	ErrSessionNotFound = errors.New("linking session not found")
	// ErrVersionConflict means the compare-and-set lost against a concurrent
	// writer (regeneration vs. inbound verification racing on the same row).
	ErrVersionConflict = errors.New("session version conflict")
	// ErrAlreadyVerified means an upsert hit a row that finalized after the
	// caller last read it. The losing writer is rejected; the bound
	// external_ref survives.
	ErrAlreadyVerified = errors.New("session already verified")
)

// ==============================================
// SESSION REPOSITORY
// ==============================================

// SessionRepository is the durable store for linking sessions. It is the
// single source of truth: the UI process and the inbound-message handler
// both write through it, so every mutation is a single atomic statement
// guarded by the row's version.
type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, channel, code, destination, created_at, expires_at, attempts, status, external_ref, verified_at, version`

// ==============================================
// UPSERT
// ==============================================

// Upsert atomically replaces any existing non-verified session for
// (user_id, channel): fresh code, attempts reset to zero, status back to
// issued. The status guard rejects a regeneration racing a successful
// verification, so a verified row (and its bound external_ref) is never
// silently overwritten; the version bump invalidates any in-flight
// compare-and-set against the superseded row.
func (r *SessionRepository) Upsert(ctx context.Context, userID string, channel models.Channel, code, destination string, ttl time.Duration) (*models.LinkingSession, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO linking_sessions (user_id, channel, code, destination, created_at, expires_at, attempts, status, version)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, 0, 'issued', 1)
		ON CONFLICT (user_id, channel) DO UPDATE SET
			code         = EXCLUDED.code,
			destination  = EXCLUDED.destination,
			created_at   = EXCLUDED.created_at,
			expires_at   = EXCLUDED.expires_at,
			attempts     = 0,
			status       = 'issued',
			external_ref = NULL,
			verified_at  = NULL,
			version      = linking_sessions.version + 1
		WHERE linking_sessions.status <> 'verified'
		RETURNING %s
	`, sessionColumns)

	row := r.db.QueryRow(ctx, query, userID, channel, code, destination, now, now.Add(ttl))
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyVerified
		}
		return nil, fmt.Errorf("failed to upsert linking session: %w", err)
	}
	return session, nil
}

// ==============================================
// READS
// ==============================================

func (r *SessionRepository) Get(ctx context.Context, userID string, channel models.Channel) (*models.LinkingSession, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM linking_sessions
		WHERE user_id = $1 AND channel = $2
	`, sessionColumns)

	session, err := scanSession(r.db.QueryRow(ctx, query, userID, channel))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get linking session: %w", err)
	}
	return session, nil
}

// GetByCode correlates an inbound Telegram callback to its pending session.
// Only non-terminal sessions match, so a stale code from a superseded
// session can never resolve.
func (r *SessionRepository) GetByCode(ctx context.Context, channel models.Channel, code string) (*models.LinkingSession, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM linking_sessions
		WHERE channel = $1 AND code = $2 AND status = 'issued'
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionColumns)

	session, err := scanSession(r.db.QueryRow(ctx, query, channel, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session by code: %w", err)
	}
	return session, nil
}

// GetByDestination correlates an inbound WhatsApp trigger message to the
// pending session registered for the originating phone number.
func (r *SessionRepository) GetByDestination(ctx context.Context, channel models.Channel, destination string) (*models.LinkingSession, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM linking_sessions
		WHERE channel = $1 AND destination = $2 AND status = 'issued'
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionColumns)

	session, err := scanSession(r.db.QueryRow(ctx, query, channel, destination))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session by destination: %w", err)
	}
	return session, nil
}

// ==============================================
// RECORD ATTEMPT
// ==============================================

// RecordAttempt applies one verification outcome as a single compare-and-set
// statement. The version guard rejects the losing writer when a regeneration
// and an inbound verification race; the status guard makes a verified
// session immutable (external_ref is written exactly once).
func (r *SessionRepository) RecordAttempt(ctx context.Context, userID string, channel models.Channel, version int64, success bool, externalRef string) (*models.LinkingSession, error) {
	var query string
	var args []any

	if success {
		query = fmt.Sprintf(`
			UPDATE linking_sessions
			SET status = 'verified', external_ref = $4, verified_at = now(), version = version + 1
			WHERE user_id = $1 AND channel = $2 AND version = $3 AND status = 'issued'
			RETURNING %s
		`, sessionColumns)
		args = []any{userID, channel, version, externalRef}
	} else {
		query = fmt.Sprintf(`
			UPDATE linking_sessions
			SET attempts = attempts + 1,
			    status   = CASE WHEN attempts + 1 >= $4 THEN 'locked' ELSE status END,
			    version  = version + 1
			WHERE user_id = $1 AND channel = $2 AND version = $3 AND status = 'issued'
			RETURNING %s
		`, sessionColumns)
		args = []any{userID, channel, version, models.MaxVerifyAttempts}
	}

	session, err := scanSession(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to record verification attempt: %w", err)
	}
	return session, nil
}

// ==============================================
// DELETE
// ==============================================

func (r *SessionRepository) Delete(ctx context.Context, userID string, channel models.Channel) error {
	query := `
		DELETE FROM linking_sessions
		WHERE user_id = $1 AND channel = $2
	`

	_, err := r.db.Exec(ctx, query, userID, channel)
	if err != nil {
		return fmt.Errorf("failed to delete linking session: %w", err)
	}
	return nil
}

// DeleteExpired removes abandoned non-verified sessions. Purely hygiene:
// expiry is enforced lazily at verification time, never by this sweep.
func (r *SessionRepository) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM linking_sessions
		WHERE status <> 'verified' AND expires_at < $1
	`

	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ==============================================
// SCANNING
// ==============================================

func scanSession(row pgx.Row) (*models.LinkingSession, error) {
	var s models.LinkingSession
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Channel,
		&s.Code,
		&s.Destination,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.Attempts,
		&s.Status,
		&s.ExternalRef,
		&s.VerifiedAt,
		&s.Version,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
