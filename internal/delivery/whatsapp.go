package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fintrackhq/fintrack-linking/internal/models"
)

// WhatsAppAdapter delivers OTP codes through the hosted messaging dispatch
// API. The user first messages the fixed system number from their device;
// the inbound trigger handler then calls Send to push the OTP back to the
// originating phone.
type WhatsAppAdapter struct {
	client   *http.Client
	baseURL  string
	apiToken string
	timeout  time.Duration
	logger   *slog.Logger
}

type whatsAppSendRequest struct {
	To             string `json:"to"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotency_key"`
}

func NewWhatsAppAdapter(baseURL, apiToken string, timeout time.Duration, logger *slog.Logger) *WhatsAppAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppAdapter{
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		apiToken: apiToken,
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *WhatsAppAdapter) Prepare(_ context.Context, session *models.LinkingSession) (*Handle, error) {
	return &Handle{
		ID:          uuid.NewString(),
		Channel:     models.ChannelWhatsApp,
		Destination: session.Destination.String,
	}, nil
}

// Send pushes the OTP to the session's registered phone number. The
// idempotency key is derived from the session row and its version, so a
// retried Send after a network timeout deduplicates at the dispatch API
// instead of producing a second message; a regenerated code gets a new key.
func (a *WhatsAppAdapter) Send(ctx context.Context, session *models.LinkingSession) error {
	if !session.Destination.Valid || session.Destination.String == "" {
		return fmt.Errorf("%w: session has no destination phone", models.ErrDeliveryFailed)
	}

	payload := whatsAppSendRequest{
		To:             session.Destination.String,
		Body:           fmt.Sprintf("Tu código de verificación de FinTrack es %s. Expira en 10 minutos.", session.Code),
		IdempotencyKey: fmt.Sprintf("linking-otp-%d-%d", session.ID, session.Version),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode send request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiToken)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("whatsapp dispatch unreachable", "destination", session.Destination.String, "error", err)
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("whatsapp dispatch rejected message", "destination", session.Destination.String, "status", resp.StatusCode)
		return fmt.Errorf("%w: dispatch API returned %d", models.ErrDeliveryFailed, resp.StatusCode)
	}

	a.logger.Info("otp delivered", "channel", models.ChannelWhatsApp, "destination", session.Destination.String)
	return nil
}
