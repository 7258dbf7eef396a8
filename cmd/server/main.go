// Command server runs the recovery API.
//
//	@title						Recovery API
//	@version					1.0
//	@description				Cash-recovery declarations, receipts and driver directory.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-recovery-backend/internal/config"
	"github.com/tbourn/go-recovery-backend/internal/events"
	httpapi "github.com/tbourn/go-recovery-backend/internal/http"
	"github.com/tbourn/go-recovery-backend/internal/observability"
	"github.com/tbourn/go-recovery-backend/internal/repo"
	"github.com/tbourn/go-recovery-backend/internal/storage"
	"github.com/tbourn/go-recovery-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger("info", false, nil)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(cfg.Log.Level, cfg.Log.Pretty, nil)
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	db, err := repo.Open(repo.Options{
		Driver:      cfg.Store.Driver,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresDSN: cfg.Store.PostgresDSN,
		Tracing:     cfg.OTEL.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	var broker events.Broker = events.NewMemoryBroker()
	if cfg.Store.RedisURL != "" {
		rb, err := events.NewRedisBroker(cfg.Store.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect change feed")
		}
		broker = rb
	}

	up, err := storage.NewDiskUploader(cfg.Upload.Dir, cfg.Upload.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Upload.Dir).Msg("failed to prepare upload directory")
	}

	r := gin.New()
	httpapi.RegisterRoutes(ctx, r, db, broker, up, cfg)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("db", cfg.Store.Driver).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Streams hold connections open; closing the broker ends them.
	if err := broker.Close(); err != nil {
		log.Warn().Err(err).Msg("broker close")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
