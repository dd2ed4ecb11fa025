package services

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fintrackhq/fintrack-linking/internal/models"
	"github.com/fintrackhq/fintrack-linking/internal/repository"
)

// memorySessionStore mirrors the Postgres repository's atomicity contract:
// upserts supersede non-verified rows in place and RecordAttempt
// compare-and-sets on the version, rejecting the losing writer.
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.LinkingSession
	nextID   int64
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]*models.LinkingSession)}
}

func storeKey(userID string, channel models.Channel) string {
	return userID + "/" + string(channel)
}

func copySession(s *models.LinkingSession) *models.LinkingSession {
	c := *s
	return &c
}

func (m *memorySessionStore) Upsert(_ context.Context, userID string, channel models.Channel, code, destination string, ttl time.Duration) (*models.LinkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	version := int64(1)
	if existing, ok := m.sessions[storeKey(userID, channel)]; ok {
		if existing.Status == models.StatusVerified {
			return nil, repository.ErrAlreadyVerified
		}
		version = existing.Version + 1
	}

	m.nextID++
	session := &models.LinkingSession{
		ID:          m.nextID,
		UserID:      userID,
		Channel:     channel,
		Code:        code,
		Destination: pgtype.Text{String: destination, Valid: destination != ""},
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Attempts:    0,
		Status:      models.StatusIssued,
		Version:     version,
	}
	m.sessions[storeKey(userID, channel)] = session
	return copySession(session), nil
}

func (m *memorySessionStore) Get(_ context.Context, userID string, channel models.Channel) (*models.LinkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[storeKey(userID, channel)]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (m *memorySessionStore) GetByCode(_ context.Context, channel models.Channel, code string) (*models.LinkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range m.sessions {
		if session.Channel == channel && session.Code == code && session.Status == models.StatusIssued {
			return copySession(session), nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *memorySessionStore) GetByDestination(_ context.Context, channel models.Channel, destination string) (*models.LinkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range m.sessions {
		if session.Channel == channel && session.Destination.String == destination && session.Status == models.StatusIssued {
			return copySession(session), nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *memorySessionStore) RecordAttempt(_ context.Context, userID string, channel models.Channel, version int64, success bool, externalRef string) (*models.LinkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[storeKey(userID, channel)]
	if !ok || session.Version != version || session.Status != models.StatusIssued {
		return nil, repository.ErrVersionConflict
	}

	if success {
		session.Status = models.StatusVerified
		session.ExternalRef = pgtype.Text{String: externalRef, Valid: true}
		session.VerifiedAt = pgtype.Timestamp{Time: time.Now().UTC(), Valid: true}
	} else {
		session.Attempts++
		if int(session.Attempts) >= models.MaxVerifyAttempts {
			session.Status = models.StatusLocked
		}
	}
	session.Version++
	return copySession(session), nil
}

func (m *memorySessionStore) Delete(_ context.Context, userID string, channel models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, storeKey(userID, channel))
	return nil
}
