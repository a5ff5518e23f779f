package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rawblock/mule-engine/internal/api"
	"github.com/rawblock/mule-engine/internal/audit"
	"github.com/rawblock/mule-engine/internal/config"
	"github.com/rawblock/mule-engine/internal/db"
	"github.com/rawblock/mule-engine/internal/flags"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/internal/sar"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and dashboard stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("port", "", "listen port (overrides server.port)")
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger.Info("starting mule-engine",
		zap.String("port", cfg.Server.Port),
		zap.String("flagsBackend", cfg.Flags.Backend),
		zap.String("auditBackend", cfg.Audit.Backend),
	)

	flagStore, closeFlags, err := openFlagStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFlags()

	var (
		auditLog    audit.Log
		pinger      api.Pinger
		submissions api.SubmissionReader
	)
	if cfg.Database.URL != "" {
		store, err := db.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			if cfg.Audit.Backend == "postgres" {
				return err
			}
			logger.Warn("PostgreSQL unavailable, continuing without it", zap.Error(err))
		} else {
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				return err
			}
			pinger = store
			submissions = store
			if cfg.Audit.Backend == "postgres" {
				auditLog = store
			}
		}
	}
	if auditLog == nil {
		auditLog = audit.NewFileLog(cfg.Audit.FilePath)
		logger.Info("SAR submissions will be appended to file", zap.String("path", cfg.Audit.FilePath))
	}

	engine := heuristics.NewEngine(cfg.Detection.Engine(), flags.Lookup{Store: flagStore, Logger: logger}, logger)
	defer engine.Close()

	hub := api.NewHub(logger)
	go hub.Run()

	alerts := heuristics.NewAlertManager(cfg.Alerts.MinRisk, api.BroadcastRingAlert(hub), logger)
	if cfg.Alerts.WebhookURL != "" {
		alerts.RegisterWebhook("default", cfg.Alerts.WebhookURL, cfg.Alerts.WebhookMinSeverity, nil)
	}

	drafter := sar.New(sar.Config{
		APIKey:      cfg.SAR.APIKey,
		BaseURL:     cfg.SAR.BaseURL,
		Model:       cfg.SAR.Model,
		Temperature: cfg.SAR.Temperature,
		MaxTokens:   cfg.SAR.MaxTokens,
		Timeout:     cfg.SAR.Timeout,
	}, logger)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router, limiter := api.SetupRouter(api.Deps{
		Engine:      engine,
		Drafter:     drafter,
		Flags:       flagStore,
		Audit:       auditLog,
		Alerts:      alerts,
		Hub:         hub,
		DB:          pinger,
		Submissions: submissions,
		Logger:      logger,
	}, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AuthToken:      cfg.Server.AuthToken,
		FilingToken:    cfg.Server.FilingToken,
		RatePerMinute:  cfg.Server.RatePerMinute,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	})
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engine listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	hub.Stop()
	return nil
}

// openFlagStore returns the configured store and its release func
func openFlagStore(ctx context.Context, cfg *config.Config) (flags.Store, func(), error) {
	if cfg.Flags.Backend != "redis" {
		return flags.NewMemoryStore(), func() {}, nil
	}
	store, err := flags.NewRedisStore(ctx, flags.RedisOptions{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Flags.TTL,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing redis flag store", zap.Error(err))
		}
	}, nil
}
