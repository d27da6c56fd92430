package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/courseloop/platform/internal/api/router"
	"github.com/courseloop/platform/internal/appointments"
	"github.com/courseloop/platform/internal/availability"
	"github.com/courseloop/platform/internal/booking"
	appconfig "github.com/courseloop/platform/internal/config"
	"github.com/courseloop/platform/internal/events"
	"github.com/courseloop/platform/internal/notify"
	"github.com/courseloop/platform/internal/observability/metrics"
	"github.com/courseloop/platform/internal/payments"
	"github.com/courseloop/platform/internal/rates"
	"github.com/courseloop/platform/internal/reschedule"
	"github.com/courseloop/platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting courseloop API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Quote cache is optional; without Redis checkout simply skips the
	// price-drift check.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}
	quotes := rates.NewQuoteStore(redisClient, cfg.QuoteTTL, logger)

	bookingMetrics := metrics.NewBookingMetrics(nil)

	repo := appointments.NewRepository(pool)
	rateProvider := rates.NewPostgresProvider(pool)
	hours := availability.Hours{Open: cfg.BusinessOpenHour, Close: cfg.BusinessCloseHour}
	calc := availability.NewCalculator(repo, rateProvider, hours, cfg.BookingLeadTime, logger.Named("availability"))

	gateway := payments.NewStripeGateway(
		cfg.StripeSecretKey,
		cfg.StripeSuccessURL,
		cfg.StripeCancelURL,
		cfg.PaymentCurrency,
		logger.Named("stripe"),
	).WithDryRun(cfg.StripeDryRun)

	outbox := events.NewOutboxStore(pool)
	processed := events.NewProcessedStore(pool)
	reconciler := payments.NewReconciler(repo, outbox, logger.Named("reconciler"))

	bookingService := booking.NewService(repo, calc, rateProvider, gateway, logger.Named("booking")).
		WithQuoteStore(quotes).
		WithMetrics(bookingMetrics)
	rescheduleEngine := reschedule.NewEngine(repo, calc, cfg.RescheduleLeadTime, cfg.RescheduleMinReason, logger.Named("reschedule")).
		WithMetrics(bookingMetrics)

	// Confirmation emails ride the outbox; SendGrid falls back to a
	// log-only stub when no API key is configured.
	var sender notify.EmailSender = notify.NewStubEmailSender(logger.Named("notify"))
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger.Named("notify")); sg != nil {
		sender = sg
	}
	notifier := notify.NewConfirmationNotifier(notify.NewPostgresDirectory(pool), sender, logger.Named("notify"))
	deliverer := events.NewDeliverer(outbox, notifier, logger.Named("outbox")).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval)
	go deliverer.Start(ctx)

	routerCfg := &router.Config{
		Logger:              logger,
		AvailabilityHandler: availability.NewHandler(calc, quotes, logger.Named("availability")),
		BookingHandler: booking.NewHandler(bookingService, gateway, reconciler, logger.Named("booking")).
			WithMetrics(bookingMetrics),
		RescheduleHandler: reschedule.NewHandler(rescheduleEngine, logger.Named("reschedule")),
		StripeWebhook:     payments.NewStripeWebhookHandler(cfg.StripeWebhookSecret, reconciler, processed, logger.Named("webhook")),
		MetricsHandler:    promhttp.Handler(),
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
