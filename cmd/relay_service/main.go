package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/relaymask/golang_services/internal/platform/config"
	"github.com/relaymask/golang_services/internal/platform/database"
	"github.com/relaymask/golang_services/internal/platform/logger"
	"github.com/relaymask/golang_services/internal/platform/messagebroker"
	webhookhttp "github.com/relaymask/golang_services/internal/relay_service/adapters/http"
	"github.com/relaymask/golang_services/internal/relay_service/adapters/twilio"
	"github.com/relaymask/golang_services/internal/relay_service/app"
	repoimpl "github.com/relaymask/golang_services/internal/relay_service/repository/postgres"
)

const serviceName = "relay_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Relay service starting...", "port", cfg.ServerPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL database")

	// NATS carries operational relay events only; the service stays up
	// without it.
	var events app.EventPublisher
	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Warn("Failed to connect to NATS; relay events disabled", "error", err)
	} else {
		defer natsClient.Close()
		events = natsClient
		appLogger.Info("Connected to NATS")
	}

	twilioClient := twilio.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, nil, appLogger)
	sigValidator := twilio.NewRequestValidator(cfg.TwilioAuthToken)

	relayNumberRepo := repoimpl.NewPgRelayNumberRepository(dbPool, appLogger)
	realPhoneRepo := repoimpl.NewPgRealPhoneRepository(dbPool, appLogger)
	profileRepo := repoimpl.NewPgProfileRepository(dbPool, appLogger)
	inboundContactRepo := repoimpl.NewPgInboundContactRepository(dbPool, appLogger)

	smsStatusCallbackURL := strings.TrimRight(cfg.PublicBaseURL, "/") + cfg.SMSStatusCallbackPath
	engine := app.NewRelaySessionService(
		relayNumberRepo,
		realPhoneRepo,
		profileRepo,
		inboundContactRepo,
		twilioClient,
		events,
		appLogger,
		smsStatusCallbackURL,
		cfg.SiteOrigin,
	)

	validate := validator.New()
	webhookHandler := webhookhttp.NewWebhookHandler(engine, sigValidator, validate, appLogger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "Relay service is healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(api chi.Router) {
		webhookHandler.RegisterRoutes(api)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ServerPort), Handler: r}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		appLogger.Info("Shutdown signal received, shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Relay service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Relay service shut down gracefully.")
}
