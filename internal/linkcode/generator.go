package linkcode

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/fintrackhq/fintrack-linking/internal/models"
)

// Telegram codes are typed (or deep-linked) into the bot, so they use the
// full 36-symbol alphabet. WhatsApp codes are entered digit by digit in the
// app, so they stay numeric. Both spaces are large enough that guessing
// within the 3-attempt lockout is impractical.
const telegramAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate produces a fresh linking code for the given channel.
func Generate(channel models.Channel) (string, error) {
	switch channel {
	case models.ChannelTelegram:
		return randomFromAlphabet(telegramAlphabet, models.LinkingCodeLength)
	case models.ChannelWhatsApp:
		return randomDigits()
	default:
		return "", fmt.Errorf("%w: %q", models.ErrInvalidChannel, channel)
	}
}

// randomDigits generates a 6-digit OTP between 100000 and 999999.
func randomDigits() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func randomFromAlphabet(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}
