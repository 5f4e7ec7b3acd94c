package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertextoedge/download-orchestrator/internal/config"
	"github.com/vertextoedge/download-orchestrator/internal/logger"
	"github.com/vertextoedge/download-orchestrator/internal/service/maintenance"
	"github.com/vertextoedge/download-orchestrator/internal/service/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator with its HTTP control server",
		Long: `Run the orchestrator as a long-lived service.

Downloads are submitted through the HTTP control API. When --config names a
file, changes to downloads.policy, downloads.retry_budget and logging.level
are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	var (
		cfg     *config.Config
		err     error
		current atomic.Pointer[app]
	)

	if configPath != "" {
		cfg, err = config.Watch(configPath,
			func(next *config.Config) {
				if a := current.Load(); a != nil {
					a.apply(next)
				}
			},
			func(err error) {
				logger.GetZapLogger().Warn("ignoring invalid configuration", zap.Error(err))
			},
		)
	} else {
		cfg, err = config.Load("")
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting download-orchestrator",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	a, err := newApp(cfg, zapLogger)
	if err != nil {
		return err
	}
	defer a.Close()
	current.Store(a)

	maintenanceCfg := &maintenance.Config{
		StallCheckInterval: cfg.Maintenance.GetStallCheckInterval(),
		StallThreshold:     cfg.Maintenance.GetStallThreshold(),
		StallWarnInterval:  cfg.Maintenance.GetStallWarnInterval(),
		CleanupInterval:    cfg.Maintenance.GetCleanupInterval(),
		HistoryRetention:   cfg.Database.GetHistoryRetention(),
		MinFreeSpace:       cfg.Maintenance.GetMinFreeSpace(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, a.historyRepo(), a.orch, a.fs, zapLogger.Named("maintenance"))

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.orch.Start(gctx)
	})

	g.Go(func() error {
		if err := maintenanceService.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("maintenance service: %w", err)
		}
		return nil
	})

	if cfg.HTTP.Enabled {
		serverCfg := &server.Config{
			BindAddr:      cfg.HTTP.BindAddr,
			AdminUsername: cfg.HTTP.AdminUsername,
			AdminPassword: cfg.HTTP.AdminPassword,
			EnableBrowser: cfg.HTTP.EnableBrowser,
			DownloadDir:   cfg.Downloads.Dir,
			ReadTimeout:   cfg.HTTP.GetReadTimeout(),
			WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
			IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
		}
		httpServer := server.New(serverCfg, a.orch, a.statsStore(), a.metrics, zapLogger.Named("http"))

		g.Go(func() error {
			if err := httpServer.Start(); err != nil {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
			}
			return nil
		})
	}

	zapLogger.Info("application started successfully",
		zap.Bool("http", cfg.HTTP.Enabled),
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("download_dir", cfg.Downloads.Dir),
		zap.Bool("history", a.store != nil),
	)

	err = g.Wait()
	zapLogger.Info("shutdown complete", zap.Any("events", a.metrics.GetMetrics()))
	return err
}
