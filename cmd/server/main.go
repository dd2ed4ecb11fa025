package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fintrackhq/fintrack-linking/internal/cache"
	"github.com/fintrackhq/fintrack-linking/internal/config"
	"github.com/fintrackhq/fintrack-linking/internal/db"
	"github.com/fintrackhq/fintrack-linking/internal/delivery"
	"github.com/fintrackhq/fintrack-linking/internal/handlers"
	"github.com/fintrackhq/fintrack-linking/internal/metric"
	"github.com/fintrackhq/fintrack-linking/internal/middleware"
	"github.com/fintrackhq/fintrack-linking/internal/models"
	"github.com/fintrackhq/fintrack-linking/internal/repository"
	"github.com/fintrackhq/fintrack-linking/internal/services"
)

func init() {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

func main() {
	// 1. Load configuration
	cfg := config.LoadConfig()
	slog.Info("configuration loaded")

	// 2. Initialize database connection and schema
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DBUrl)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DBUrl); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// 3. Redis-backed rate limiter (optional: limiter fails open without it)
	var limiter *middleware.RedisLimiter
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		limiter = middleware.NewRedisLimiter(redisClient)
	} else {
		slog.Warn("REDIS_URL not set, rate limiting disabled")
	}

	// 4. Telegram bot client
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		slog.Error("failed to initialize telegram bot", "error", err)
		os.Exit(1)
	}

	// 5. Initialize layers
	sessionRepo := repository.NewSessionRepository(pool)

	telegramAdapter := delivery.NewTelegramAdapter(bot, cfg.TelegramBotUsername, slog.Default())
	whatsAppAdapter := delivery.NewWhatsAppAdapter(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIToken, cfg.WhatsAppSendTimeout, slog.Default())
	adapters := map[models.Channel]delivery.Adapter{
		models.ChannelTelegram: telegramAdapter,
		models.ChannelWhatsApp: whatsAppAdapter,
	}

	linkingService := services.NewLinkingService(sessionRepo, adapters, cfg.DefaultCountryCode, slog.Default())
	statusWatcher := services.NewStatusWatcher(sessionRepo, slog.Default())

	linkingHandler := handlers.NewLinkingHandler(linkingService, statusWatcher)
	webhookHandler := handlers.NewWebhookHandler(linkingService, telegramAdapter, cfg.TelegramWebhookSecret, slog.Default())
	healthHandler := handlers.NewHealthHandler(pool)

	// 6. Setup Gin router
	router := gin.Default()

	startLimit := middleware.RateLimit(limiter, "linking:start", cfg.StartRateLimitPerMin, time.Minute)
	verifyLimit := middleware.RateLimit(limiter, "linking:verify", cfg.VerifyRateLimitPerMin, time.Minute)

	linkingHandler.RegisterRoutes(router, startLimit, verifyLimit)
	webhookHandler.RegisterRoutes(router)
	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 7. Run server and background sweep until shutdown
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Expired-session sweep. Hygiene only: expiry is enforced lazily at
	// verification time whether or not this loop runs.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := sessionRepo.DeleteExpired(gctx, time.Hour)
				if err != nil {
					slog.Warn("expired session sweep failed", "error", err)
					continue
				}
				if n > 0 {
					metric.ExpiredSessionsSwept.Add(float64(n))
					slog.Info("swept expired sessions", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited")
}
