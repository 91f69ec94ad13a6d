package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-nvr/internal/protect"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ProtectClient is the part of *protect.Client the API serves.
type ProtectClient interface {
	View() cache.View
	Stats() protect.Stats
	WSStats() *protect.WSStats
	RequestResync(reason string) error
}

// HealthHistory lists recorded link health transitions. *store.HealthHistory
// satisfies it.
type HealthHistory interface {
	History(ctx context.Context, limit int) ([]store.HealthEntry, error)
}

var (
	_ ProtectClient = (*protect.Client)(nil)
	_ HealthHistory = (*store.HealthHistory)(nil)
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Client  ProtectClient
	History HealthHistory // optional; /history returns 404 without it
	Metrics http.Handler  // optional; /metrics returns 404 without it
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	client    ProtectClient
	history   HealthHistory
	metrics   http.Handler
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("protect client is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		client:    deps.Client,
		history:   deps.History,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger, deps.Client.View()),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, begins forwarding cache notifications to it,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.forwardNotifications(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
