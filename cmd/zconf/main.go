package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/zconf/internal/api"
	"github.com/navikt/zconf/internal/appointment"
	"github.com/navikt/zconf/internal/config"
	"github.com/navikt/zconf/internal/ident"
	"github.com/navikt/zconf/internal/logging"
	"github.com/navikt/zconf/internal/metrics"
	"github.com/navikt/zconf/internal/repository"
	"github.com/navikt/zconf/internal/rtc"
	"github.com/navikt/zconf/internal/rtc/loopback"
	"github.com/navikt/zconf/internal/service"
	"github.com/navikt/zconf/internal/session"
	"github.com/navikt/zconf/internal/web"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize the repository using the factory
	repo, err := repository.NewRepository(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize repository", zap.Error(err))
	}

	// Close the Redis connection on exit
	if redisRepo, ok := repo.(interface{ Close() error }); ok {
		defer func() {
			if err := redisRepo.Close(); err != nil {
				logger.Error("Error closing Redis connection", zap.Error(err))
			}
		}()
	}

	var readiness []api.ReadinessCheck
	if pinger, ok := repo.(interface{ Ping(context.Context) error }); ok {
		readiness = append(readiness, pinger.Ping)
	}

	var hubOpts []loopback.Option
	if cfg.Session.KeyTTL > 0 {
		hubOpts = append(hubOpts, loopback.WithKeyTTL(cfg.Session.KeyTTL))
	}
	hub := loopback.NewHub(logger, hubOpts...)

	ids := ident.NewRandomGenerator()
	collector := metrics.NewCollector()
	appointments := appointment.NewService(ids)

	conferences := service.NewConferenceService(repo, service.Options{
		Session: session.Config{
			PlaybackDelay: cfg.Session.PlaybackDelay,
			RenewalToken:  cfg.Session.RenewalToken,
			CallTimeout:   cfg.Session.CallTimeout,
			Client:        rtc.ClientConfig{Mode: cfg.Session.Mode, Codec: cfg.Session.Codec},
		},
		NewClient: hub.Factory(),
		IDs:       ids,
		Logger:    logger,
		Metrics:   collector,
	})

	// Sessions opened by page views nobody joins from are closed after a while
	if cfg.Session.IdleTimeout > 0 {
		sweep := max(min(cfg.Session.IdleTimeout/2, time.Minute), time.Second)
		go conferences.RunIdleReaper(context.Background(), sweep, cfg.Session.IdleTimeout)
	}

	webHandler, err := web.NewHandler(web.Options{
		Appointments:         appointments,
		Conferences:          conferences,
		SSE:                  web.NewSSEManager(logger),
XX, zap.Error(err))
	}

	// Push every session change to its event stream
	conferences.RegisterUpdateCallback(webHandler.NotifySessionUpdate)
	conferences.RegisterCloseCallback(webHandler.SessionClosed)

	mux := api.SetupRoutes(api.Dependencies{
		Appointments:         appointments,
		Conferences:          conferences,
		PublicURL:            cfg.Server.PublicURL,
		RateLimit:            cfg.RateLimit,
		Logger:               logger,
		Metrics:              collector,
		MetricsHandler:       collector.Handler(),
		OnAppointmentCreated: collector.RecordAppointmentCreated,
		ReadinessChecks:      readiness,
	})
	webHandler.SetupRoutes(mux)

	adminHandler, err := web.NewAdminHandler(conferences, web.NewAuthMiddleware(cfg.Admin, logger), logger)
	if err != nil {
		logger.Fatal("Failed to initialize admin handler", zap.Error(err))
	}
	adminHandler.SetupAdminRoutes(mux)

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     web.WrapMuxWithMiddleware(mux),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No write timeout, event streams stay open
		WriteTimeout: 0,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Starting zconf server",
			zap.String("port", cfg.Server.Port),
			zap.Bool("redis", cfg.Redis.Enabled))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Error starting server", zap.Error(err))
		}

	case sig := <-shutdown:
		logger.Info("Shutting down server", zap.Stringer("signal", sig))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Leave every joined meeting before the event streams go away
		if err := conferences.Shutdown(ctx); err != nil {
			logger.Error("Error stopping conference sessions", zap.Error(err))
		}
		webHandler.Shutdown()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			logger.Error("Error shutting down server", zap.Error(err))
			return
		}

		logger.Info("Server gracefully stopped")
	}
}
