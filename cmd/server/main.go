package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofamint/content-sync/internal/api"
	"github.com/gofamint/content-sync/internal/cache"
	"github.com/gofamint/content-sync/internal/config"
	"github.com/gofamint/content-sync/internal/database"
	"github.com/gofamint/content-sync/internal/email"
	"github.com/gofamint/content-sync/internal/repository"
	"github.com/gofamint/content-sync/internal/service"
	"github.com/gofamint/content-sync/internal/webhook"
	"github.com/gofamint/content-sync/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	// Initialize logger
	log := logger.New()
	log.Info().Msg("Starting content-sync server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && level != zerolog.NoLevel {
		log = log.Level(level)
	}

	verifier, err := webhook.NewVerifier(cfg.Webhook.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize signature verifier")
	}

	// Initialize database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Cache invalidation target
	invalidator, err := cache.NewRedisInvalidator(&cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Redis configuration")
	}
	defer invalidator.Close()

	// Initialize services
	services := service.NewServices(service.Deps{
		Repos:       repository.New(db),
		Verifier:    verifier,
		Invalidator: invalidator,
		Mailer:      email.NewClient(&cfg.Email, log),
		Health:      db,
		CacheHealth: invalidator,
	}, cfg, log)

	// Initialize router
	router := api.NewRouter(services, cfg, log)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}
