package delivery

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrackhq/fintrack-linking/internal/models"
)

type mockBot struct {
	SendFunc func(c tgbotapi.Chattable) (tgbotapi.Message, error)
	sent     []tgbotapi.Chattable
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.sent = append(m.sent, c)
	if m.SendFunc != nil {
		return m.SendFunc(c)
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramPrepare_BuildsDeepLink(t *testing.T) {
	adapter := NewTelegramAdapter(&mockBot{}, "FinTrackBot", nil)

	handle, err := adapter.Prepare(context.Background(), &models.LinkingSession{
		Channel: models.ChannelTelegram,
		Code:    "AB12CD",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://t.me/FinTrackBot?start=AB12CD", handle.DeepLink)
	assert.NotEmpty(t, handle.ID)
}

func TestTelegramConfirmLinked_SendsToChat(t *testing.T) {
	bot := &mockBot{}
	adapter := NewTelegramAdapter(bot, "FinTrackBot", nil)

	err := adapter.ConfirmLinked(context.Background(), 424242)

	require.NoError(t, err)
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(424242), msg.ChatID)
}

func TestTelegramConfirmLinked_SendFailure(t *testing.T) {
	bot := &mockBot{
		SendFunc: func(tgbotapi.Chattable) (tgbotapi.Message, error) {
			return tgbotapi.Message{}, errors.New("telegram api down")
		},
	}
	adapter := NewTelegramAdapter(bot, "FinTrackBot", nil)

	err := adapter.ConfirmLinked(context.Background(), 424242)

	assert.ErrorIs(t, err, models.ErrDeliveryFailed)
}
