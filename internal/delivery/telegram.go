package delivery

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/fintrackhq/fintrack-linking/internal/models"
)

// BotSender is the slice of tgbotapi.BotAPI the adapter needs.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAdapter exposes linking codes through a deep link into the bot.
// The user opens t.me/<bot>?start=<code>; Telegram turns that into a
// "/start <code>" message which arrives back through the webhook, so
// there is nothing to push at issue time.
type TelegramAdapter struct {
	bot         BotSender
	botUsername string
	logger      *slog.Logger
}

func NewTelegramAdapter(bot BotSender, botUsername string, logger *slog.Logger) *TelegramAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramAdapter{
		bot:         bot,
		botUsername: botUsername,
		logger:      logger,
	}
}

func (a *TelegramAdapter) Prepare(_ context.Context, session *models.LinkingSession) (*Handle, error) {
	return &Handle{
		ID:       uuid.NewString(),
		Channel:  models.ChannelTelegram,
		DeepLink: fmt.Sprintf("https://t.me/%s?start=%s", a.botUsername, session.Code),
	}, nil
}

// Send is a no-op: the code travels inside the deep link the user opens.
func (a *TelegramAdapter) Send(_ context.Context, _ *models.LinkingSession) error {
	return nil
}

// ConfirmLinked tells the freshly linked chat that verification succeeded.
// A failed confirmation is logged and swallowed: the link is already bound
// and must not be rolled back over a cosmetic message.
func (a *TelegramAdapter) ConfirmLinked(_ context.Context, chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "✅ ¡Tu cuenta de FinTrack quedó vinculada! Recibirás notificaciones de cada transacción aquí.")
	if _, err := a.bot.Send(msg); err != nil {
		a.logger.Warn("failed to send link confirmation", "chat_id", chatID, "error", err)
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}
	return nil
}

// Reject answers an inbound /start that carried an invalid or expired code.
func (a *TelegramAdapter) Reject(_ context.Context, chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "El código no es válido o expiró. Genera uno nuevo desde la aplicación e inténtalo otra vez.")
	if _, err := a.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}
	return nil
}
