package delivery

import (
	"context"

	"github.com/fintrackhq/fintrack-linking/internal/models"
)

// Handle describes how a freshly issued code reaches the user.
type Handle struct {
	ID          string         `json:"id"`
	Channel     models.Channel `json:"channel"`
	DeepLink    string         `json:"deep_link,omitempty"`
	Destination string         `json:"destination,omitempty"`
}

// Adapter transports a linking code to one external channel. A failed
// delivery never consumes a verification attempt; the session stays issued
// and the user retries delivery without penalty.
type Adapter interface {
	// Prepare is called when a session is issued and returns the artifacts
	// the caller needs to surface (deep link, destination).
	Prepare(ctx context.Context, session *models.LinkingSession) (*Handle, error)
	// Send pushes the code out through the channel. For pull-style channels
	// where the user fetches the code themselves this is a no-op.
	Send(ctx context.Context, session *models.LinkingSession) error
}
