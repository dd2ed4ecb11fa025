package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBUrl    string `mapstructure:"DB_URL"`
	RedisURL string `mapstructure:"REDIS_URL"`
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	TelegramBotToken      string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramBotUsername   string `mapstructure:"TELEGRAM_BOT_USERNAME"`
	TelegramWebhookSecret string `mapstructure:"TELEGRAM_WEBHOOK_SECRET"`

	WhatsAppAPIURL      string        `mapstructure:"WHATSAPP_API_URL"`
	WhatsAppAPIToken    string        `mapstructure:"WHATSAPP_API_TOKEN"`
	WhatsAppSendTimeout time.Duration `mapstructure:"WHATSAPP_SEND_TIMEOUT"`

	DefaultCountryCode string `mapstructure:"DEFAULT_COUNTRY_CODE"`

	StartRateLimitPerMin  int           `mapstructure:"START_RATE_LIMIT_PER_MIN"`
	VerifyRateLimitPerMin int           `mapstructure:"VERIFY_RATE_LIMIT_PER_MIN"`
	SweepInterval         time.Duration `mapstructure:"SWEEP_INTERVAL"`
}

func LoadConfig() Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("TELEGRAM_BOT_USERNAME", "FinTrackBot")
	viper.SetDefault("WHATSAPP_SEND_TIMEOUT", 5*time.Second)
	viper.SetDefault("DEFAULT_COUNTRY_CODE", "+57")
	viper.SetDefault("START_RATE_LIMIT_PER_MIN", 5)
	viper.SetDefault("VERIFY_RATE_LIMIT_PER_MIN", 10)
	viper.SetDefault("SWEEP_INTERVAL", 15*time.Minute)
	viper.SetDefault("DB_URL", "")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("TELEGRAM_BOT_TOKEN", "")
	viper.SetDefault("TELEGRAM_WEBHOOK_SECRET", "")
	viper.SetDefault("WHATSAPP_API_URL", "")
	viper.SetDefault("WHATSAPP_API_TOKEN", "")

	if err := viper.ReadInConfig(); err != nil {
		slog.Info("no .env file found, using env variables only")
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		slog.Error("config unmarshal error", "error", err)
		os.Exit(1)
	}

	return c
}
