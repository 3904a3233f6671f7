// Package webui is the HTTP and WebSocket controller for the generation
// service. It exposes the queue operations as a JSON API, streams queue,
// state, preview and result events over /ws, and serves the embedded
// dashboard. Authentication is optional and plugged in through
// AuthProvider.
package webui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mochi_backend/db"
	"mochi_backend/gallery"
	"mochi_backend/generation"
	"mochi_backend/imagerepo"
	"mochi_backend/metrics"
)

// AuthProvider wraps handlers with authentication. It is implemented by
// auth.AuthMiddleware; the interface keeps this package free of an import
// cycle with auth.
type AuthProvider interface {
	Middleware(next http.Handler) http.Handler
	LoginHandler() http.HandlerFunc
	LogoutHandler() http.HandlerFunc
}

// GenerationService is the queue the controller drives.
type GenerationService interface {
	Enqueue(req generation.Request) error
	RemoveQueued(id string)
	StopCurrentGeneration()
	Snapshot() generation.Snapshot
	Updates(ctx context.Context) <-chan generation.Snapshot
	Results(ctx context.Context) <-chan generation.Result
	State() *generation.State
}

// ModelSource rescans the model directories.
type ModelSource interface {
	Load(ctx context.Context, modelDir, controlNetDir string) ([]generation.Model, error)
}

// ImageGallery is the in-memory image collection.
type ImageGallery interface {
	Count() int
	Images() []imagerepo.Record
	Remove(path string) bool
	CurrentGenerating() gallery.Preview
	Previews(ctx context.Context) <-chan gallery.Preview
}

// ImageDeleter removes image files.
type ImageDeleter interface {
	Delete(path string) error
}

// HistorySource reads persisted request history.
type HistorySource interface {
	RecentRequests(ctx context.Context, limit int) ([]db.RequestRecord, error)
	Request(ctx context.Context, id string) (db.RequestRecord, error)
}

// MetricsSource summarizes generation metrics.
type MetricsSource interface {
	Summary(recent int) metrics.Summary
}

// RequestTracker runs fn as tracked in-flight work and refuses new work
// once shutdown has begun.
type RequestTracker interface {
	Track(ctx context.Context, name string, fn func(context.Context) error) error
}

// Dependencies are the collaborators behind the API. Service and Models
// are required; the rest disable their endpoints when nil.
type Dependencies struct {
	Service GenerationService
	Models  ModelSource
	Gallery ImageGallery
	Images  ImageDeleter
	History HistorySource
	Metrics MetricsSource
	Tracker RequestTracker
}

// ServerConfig configures the Server.
type ServerConfig struct {
	// Addr is the listen address (default: ":8085")
	Addr string

	// ReadTimeout for HTTP requests (default: 30s)
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses (default: 60s)
	WriteTimeout time.Duration

	// IdleTimeout for keep-alive connections (default: 120s)
	IdleTimeout time.Duration

	// MaxBodyBytes caps generate request bodies, which carry base64 images (default: 64 MiB)
	MaxBodyBytes int64

	// PreviewEdge bounds streamed preview images (default: 512)
	PreviewEdge int

	// LogSkipPaths are not request-logged
	LogSkipPaths []string

	// Version is reported by /health and the initial WebSocket message
	Version string

	// Defaults fill fields a generate request leaves empty
	Defaults GenerateDefaults

	Broadcaster BroadcasterConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8085",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		MaxBodyBytes: 64 << 20,
		PreviewEdge:  DefaultPreviewEdge,
		LogSkipPaths: []string{"/health"},
		Broadcaster:  DefaultBroadcasterConfig(),
	}
}

// Server wires routes, middleware and the event stream together.
type Server struct {
	httpServer  *http.Server
	mux         *http.ServeMux
	config      ServerConfig
	deps        Dependencies
	auth        AuthProvider
	loggingMw   *LoggingMiddleware
	broadcaster *Broadcaster
	static      *dashboardAssets
	startedAt   time.Time
	logger      *zap.Logger
}

// NewServer creates a Server. auth may be nil for an open controller.
func NewServer(config ServerConfig, deps Dependencies, auth AuthProvider, logger *zap.Logger) (*Server, error) {
	if deps.Service == nil {
		return nil, errors.New("webui: generation service is required")
	}
	if deps.Models == nil {
		return nil, errors.New("webui: model source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultServerConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}
	if config.PreviewEdge <= 0 {
		config.PreviewEdge = def.PreviewEdge
	}
	logger = logger.Named("webui")

	s := &Server{
		mux:         http.NewServeMux(),
		config:      config,
		deps:        deps,
		auth:        auth,
		loggingMw:   NewLoggingMiddleware(logger, config.LogSkipPaths...),
		broadcaster: NewBroadcaster(config.Broadcaster, logger),
		static:      newDashboardAssets(nil),
		startedAt:   time.Now(),
		logger:      logger,
	}
	s.broadcaster.SetInitial(s.initialMessage)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	logger.Info("Controller created",
		zap.String("addr", config.Addr),
		zap.Bool("auth_enabled", auth != nil),
	)
	return s, nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	if s.auth != nil {
		s.mux.HandleFunc("/login", s.auth.LoginHandler())
		s.mux.HandleFunc("/logout", s.auth.LogoutHandler())
	}

	s.handle("POST /api/generate", s.handleGenerate)
	s.handle("GET /api/queue", s.handleQueue)
	s.handle("DELETE /api/queue/{id}", s.handleRemoveQueued)
	s.handle("POST /api/stop", s.handleStop)
	s.handle("GET /api/state", s.handleState)
	s.handle("GET /api/models", s.handleModels)
	s.handle("GET /api/images", s.handleImages)
	s.handle("GET /api/images/{name}", s.handleImageFile)
	s.handle("DELETE /api/images/{name}", s.handleDeleteImage)
	s.handle("GET /api/history", s.handleHistory)
	s.handle("GET /api/history/{id}", s.handleHistoryRequest)
	s.handle("GET /api/metrics", s.handleMetrics)
	s.handle("GET /ws", s.broadcaster.HandleConnection)

	s.mux.Handle("GET "+s.static.prefix+"/", s.protect(s.static.files()))
	s.handle("GET /{$}", s.static.page())
}

func (s *Server) handle(pattern string, fn http.HandlerFunc) {
	s.mux.Handle(pattern, s.protect(fn))
}

func (s *Server) protect(h http.Handler) http.Handler {
	if s.auth != nil {
		return s.auth.Middleware(h)
	}
	return h
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.loggingMw.Handler(s.mux)
}

// HTTPServer exposes the underlying server for graceful shutdown.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Broadcaster returns the WebSocket broadcaster; it doubles as a
// notification sink.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Run starts the event pump and the broadcaster. It blocks until ctx is
// done.
func (s *Server) Run(ctx context.Context) {
	go s.broadcaster.Start(ctx)
	s.pumpEvents(ctx)
	<-ctx.Done()
}

// ListenAndServe starts the event stream and serves HTTP until the server
// is shut down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.Run(ctx)

	s.logger.Info("Controller listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webui: http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("webui: shutdown: %w", err)
	}
	s.logger.Info("Controller stopped")
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// HasAuth reports whether authentication is enabled.
func (s *Server) HasAuth() bool {
	return s.auth != nil
}
