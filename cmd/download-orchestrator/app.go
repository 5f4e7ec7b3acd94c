package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/adapter/filesystem"
	"github.com/vertextoedge/download-orchestrator/internal/adapter/httpengine"
	"github.com/vertextoedge/download-orchestrator/internal/adapter/sqlite"
	"github.com/vertextoedge/download-orchestrator/internal/config"
	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
	"github.com/vertextoedge/download-orchestrator/internal/port"
	"github.com/vertextoedge/download-orchestrator/internal/service/destination"
	"github.com/vertextoedge/download-orchestrator/internal/service/history"
	"github.com/vertextoedge/download-orchestrator/internal/service/orchestrator"
)

// app holds the components shared by serve and get
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	fs         *filesystem.Manager
	engine     *httpengine.Engine
	dispatcher *event.InMemoryDispatcher
	metrics    *event.MetricsHandler
	orch       *orchestrator.Orchestrator

	// store is nil when database.path is empty
	store *sqlite.Store
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	fsManager, err := filesystem.NewManagerWithBufferSize(cfg.Downloads.Dir, cfg.Engine.BufferSizeMB*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem manager: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		fs:     fsManager,
	}

	if cfg.Database.Path != "" {
		a.store, err = sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
		}
	}

	// Handlers run on the orchestrator goroutine, in event order
	a.dispatcher = event.NewInMemoryDispatcher(false, logger.Named("events"))
	a.metrics = event.NewMetricsHandler()
	a.dispatcher.Subscribe(a.metrics)
	a.dispatcher.Subscribe(event.NewLoggingHandler(logger.Named("events")))
	if a.store != nil {
		a.dispatcher.Subscribe(history.NewRecorder(a.store, logger.Named("history")))
	}

	engineCfg := &httpengine.Config{
		UserAgent:             cfg.Engine.UserAgent,
		ResponseHeaderTimeout: cfg.Engine.GetResponseHeaderTimeout(),
		RetryMax:              cfg.Engine.RetryMax,
		RetryWaitMin:          cfg.Engine.GetRetryWaitMin(),
		RetryWaitMax:          cfg.Engine.GetRetryWaitMax(),
		ProgressInterval:      cfg.Engine.GetProgressInterval(),
		BufferSizeMB:          cfg.Engine.BufferSizeMB,
		SkipTLSVerify:         cfg.Engine.SkipTLSVerify,
		DownloadMIMETypes:     cfg.Engine.DownloadMIMETypes,
	}
	a.engine = httpengine.New(engineCfg, fsManager, logger.Named("engine"))

	orchCfg := &orchestrator.Config{
		Policy:                cfg.Downloads.GetPolicy(),
		RetryBudget:           cfg.Downloads.RetryBudget,
		AckTimeout:            cfg.Downloads.GetAckTimeout(),
		MaxRetryDelay:         cfg.Downloads.GetMaxRetryDelay(),
		ProgressEventInterval: cfg.Downloads.GetProgressEventInterval(),
		ProgressAge:           cfg.Downloads.ProgressAge,
	}
	resolver := destination.NewResolver(fsManager, logger.Named("destination"))
	a.orch = orchestrator.New(orchCfg, a.engine, resolver, a.dispatcher, logger.Named("orchestrator"))

	return a, nil
}

// historyRepo returns the history repository, or a nil interface without a database
func (a *app) historyRepo() port.TransferHistoryRepository {
	if a.store == nil {
		return nil
	}
	return a.store
}

// statsStore returns the store, or a nil interface without a database
func (a *app) statsStore() port.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

// apply hot-applies the settings that can change without a restart
func (a *app) apply(next *config.Config) {
	if err := a.orch.SetPolicy(next.Downloads.GetPolicy()); err != nil {
		a.logger.Warn("failed to apply policy", zap.Error(err))
	}
	if err := a.orch.SetRetryBudget(next.Downloads.RetryBudget); err != nil {
		a.logger.Warn("failed to apply retry budget", zap.Error(err))
	}
	if err := setLogLevel(next.Logging.Level); err != nil {
		a.logger.Warn("failed to apply log level", zap.Error(err))
	}
	a.logger.Info("configuration reloaded",
		zap.String("policy", next.Downloads.Policy),
		zap.Int("retry_budget", next.Downloads.RetryBudget),
		zap.String("log_level", next.Logging.Level),
	)
}

// Close stops the engine and closes the database
func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("failed to close engine", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close database", zap.Error(err))
		}
	}
}
