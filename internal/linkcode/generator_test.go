package linkcode

import (
	"testing"

	"github.com/fintrackhq/fintrack-linking/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_TelegramFormat(t *testing.T) {
	code, err := Generate(models.ChannelTelegram)

	require.NoError(t, err)
	assert.Len(t, code, models.LinkingCodeLength)
	for _, r := range code {
		assert.Contains(t, telegramAlphabet, string(r))
	}
}

func TestGenerate_WhatsAppFormat(t *testing.T) {
	code, err := Generate(models.ChannelWhatsApp)

	require.NoError(t, err)
	assert.Len(t, code, models.LinkingCodeLength)
	for _, r := range code {
		assert.GreaterOrEqual(t, r, '0')
		assert.LessOrEqual(t, r, '9')
	}
	// Leading digit is never zero
	assert.NotEqual(t, byte('0'), code[0])
}

func TestGenerate_UnknownChannel(t *testing.T) {
	_, err := Generate(models.Channel("carrier-pigeon"))

	assert.ErrorIs(t, err, models.ErrInvalidChannel)
}

func TestGenerate_SuccessiveCodesDiffer(t *testing.T) {
	// A regenerated code must differ from the prior one with overwhelming
	// probability. 20 draws colliding pairwise would mean a broken RNG.
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := Generate(models.ChannelTelegram)
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code %s generated", code)
		seen[code] = true
	}
}
