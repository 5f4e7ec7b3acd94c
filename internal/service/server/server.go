package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
	"github.com/vertextoedge/download-orchestrator/internal/port"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	EnableBrowser bool
	DownloadDir   string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server represents the HTTP control server
type Server struct {
	config        *Config
	store         port.Store
	logger        *zap.Logger
	server        *http.Server
	handler       http.Handler
	control       *ControlHandler
	browseHandler *BrowseHandler
	debugHandler  *DebugHandler
}

// New creates a new HTTP server. store and metrics may be nil.
func New(cfg *Config, ctrl Controller, store port.Store, metrics *event.MetricsHandler, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		store:  store,
		logger: logger,
	}

	s.control = NewControlHandler(ctrl, store, logger)
	s.debugHandler = NewDebugHandler(ctrl, store, metrics, logger)

	// control endpoints are open unless a password is configured
	protect := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if cfg.AdminPassword != "" {
		protect = BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Control endpoints
	mux.HandleFunc("/navigate", protect(s.control.HandleNavigate))
	mux.HandleFunc("/downloads", protect(s.control.HandleDownloads))
	mux.HandleFunc("/downloads/", protect(s.control.HandleTransfer))
	mux.HandleFunc("/progress", protect(s.control.HandleProgress))
	mux.HandleFunc("/history", protect(s.control.HandleHistory))

	// Download directory browser, only behind credentials
	if cfg.EnableBrowser && cfg.DownloadDir != "" {
		if cfg.AdminPassword == "" {
			logger.Warn("file browser disabled: no admin password configured")
		} else {
			s.browseHandler = NewBrowseHandler(cfg.DownloadDir, logger)
			mux.HandleFunc("/files", protect(s.browseHandler.HandleBrowse))
			mux.HandleFunc("/files/", protect(s.browseHandler.HandleBrowse))
			mux.HandleFunc("/files/logout", s.browseHandler.HandleLogout)
		}
	}

	// Debug endpoints
	mux.HandleFunc("/debug/stats", protect(s.debugHandler.HandleStats))

	s.handler = Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
	)
	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
