package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fintrackhq/fintrack-linking/internal/models"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// ==============================================
// SERVICE INTERFACES (for testing)
// ==============================================

type CallbackService interface {
	CompleteTelegramLink(ctx context.Context, code string, chatID int64) (*models.LinkingSession, error)
	HandleWhatsAppTrigger(ctx context.Context, phone string) error
}

// TelegramNotifier answers the chat that sent an inbound /start.
type TelegramNotifier interface {
	ConfirmLinked(ctx context.Context, chatID int64) error
	Reject(ctx context.Context, chatID int64) error
}

// ==============================================
// WEBHOOK HANDLER
// ==============================================

// WebhookHandler receives the inbound proof from both channels: the bot
// callback carrying "/start <code>" for Telegram, and the "authenticate me"
// trigger message for WhatsApp.
type WebhookHandler struct {
	service       CallbackService
	notifier      TelegramNotifier
	webhookSecret string
	logger        *slog.Logger
}

func NewWebhookHandler(service CallbackService, notifier TelegramNotifier, webhookSecret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		service:       service,
		notifier:      notifier,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// ==============================================
// TELEGRAM
// ==============================================

// TelegramWebhook handles POST /webhooks/telegram. It always answers 200 to
// non-transport errors so Telegram does not redeliver updates we have
// already judged.
func (h *WebhookHandler) TelegramWebhook(c *gin.Context) {
	if h.webhookSecret != "" {
		got := c.GetHeader(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			c.Status(http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("malformed telegram update", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}

	if update.Message == nil {
		c.Status(http.StatusOK)
		return
	}

	chatID := update.Message.Chat.ID
	code, ok := parseStartCommand(update.Message.Text)
	if !ok {
		c.Status(http.StatusOK)
		return
	}

	ctx := c.Request.Context()
	session, err := h.service.CompleteTelegramLink(ctx, code, chatID)
	if err != nil {
		h.logger.Info("telegram link rejected", "chat_id", chatID, "error", err)
		if nerr := h.notifier.Reject(ctx, chatID); nerr != nil {
			h.logger.Warn("failed to answer rejected /start", "chat_id", chatID, "error", nerr)
		}
		c.Status(http.StatusOK)
		return
	}

	if nerr := h.notifier.ConfirmLinked(ctx, chatID); nerr != nil {
		// The link is bound; the confirmation message is best-effort.
		h.logger.Warn("failed to confirm link", "chat_id", chatID, "error", nerr)
	}

	h.logger.Info("telegram webhook linked chat", "user_id", session.UserID, "chat_id", chatID)
	c.Status(http.StatusOK)
}

// parseStartCommand extracts the linking code from "/start <code>".
func parseStartCommand(text string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) != 2 || fields[0] != "/start" {
		return "", false
	}
	return fields[1], true
}

// ==============================================
// WHATSAPP
// ==============================================

type whatsAppInbound struct {
	From string `json:"from" binding:"required"`
	Body string `json:"body"`
}

// WhatsAppWebhook handles POST /webhooks/whatsapp: the dispatch provider
// forwards the user's trigger message and we answer with the pending OTP.
// Provider retries are driven by the status code, so only transport-level
// problems return non-2xx.
func (h *WebhookHandler) WhatsAppWebhook(c *gin.Context) {
	var inbound whatsAppInbound
	if err := c.ShouldBindJSON(&inbound); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	err := h.service.HandleWhatsAppTrigger(c.Request.Context(), inbound.From)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case models.IsRetryable(err):
		// Let the provider redeliver the trigger once the dispatch API or
		// the store is back.
		h.logger.Warn("whatsapp trigger failed, provider will retry", "error", err)
		c.Status(http.StatusServiceUnavailable)
	default:
		// No pending session, expired code, bad number: answering non-2xx
		// would only cause pointless redelivery.
		h.logger.Info("whatsapp trigger ignored", "error", err)
		c.Status(http.StatusOK)
	}
}

// ==============================================
// ROUTE REGISTRATION
// ==============================================

func (h *WebhookHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/webhooks/telegram", h.TelegramWebhook)
	router.POST("/webhooks/whatsapp", h.WhatsAppWebhook)
}
