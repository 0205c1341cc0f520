package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eventhub/server/internal/auth"
	"github.com/eventhub/server/internal/config"
	"github.com/eventhub/server/internal/db"
	httpserver "github.com/eventhub/server/internal/http"
	"github.com/eventhub/server/internal/http/handlers"
	"github.com/eventhub/server/internal/logging"
	"github.com/eventhub/server/internal/repo"
	"github.com/eventhub/server/internal/sms"
)

func main() {
	// Load .env from CWD if present (env vars override)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	userRepo := repo.NewUserRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	sessionRepo := repo.NewSessionRepo(database)

	tokenService := auth.NewTokenService(
		cfg.JWTAccessSecret, cfg.JWTRefreshSecret,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL,
	)
	dispatcher := sms.NewDispatcher(cfg, logger)
	authService := auth.NewAuthService(otpRepo, sessionRepo, userRepo, tokenService, dispatcher, auth.Options{
		OtpLength:      cfg.OtpLength,
		OtpExpiry:      cfg.OtpExpiry,
		OtpMaxAttempts: cfg.OtpMaxAttempts,
		ResendCooldown: cfg.OtpResendCooldown,
	}, logger)

	authHandler := handlers.NewAuthHandler(authService, logger)
	router := httpserver.NewRouter(cfg, authHandler, tokenService, userRepo)

	// Hourly sweep of expired OTPs and sessions.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := authService.CleanupExpired(sweepCtx); err != nil {
			logger.Error("cleanup failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("failed to schedule cleanup", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
