package gateway

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/militapp/militapp/go/internal/docstore"
)

// Service exposes a document store to devices: unary document calls over
// connect, watch streams over websocket and the timer HTTP API
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	documents         *DocumentService
	timerHandler      *TimerHandler
	startLimiter      *RateLimiter
	requestLimiter    *RateLimiter
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	Timer            TimerConfig

	// Per-user limits on start requests and on document calls
	StartRatePerSec   float64
	StartBurst        int
	RequestRatePerSec float64
	RequestBurst      int
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig:  DefaultConnectionConfig(),
		Timer:             DefaultTimerConfig(),
		StartRatePerSec:   0.2,
		StartBurst:        2,
		RequestRatePerSec: 20,
		RequestBurst:      40,
	}
}

// Dependencies are the application services the gateway fronts
type Dependencies struct {
	Store     docstore.Store
	Profiles  Profiles
	Channel   StartChannel
	Durations DurationTable
	Lists     Lists
	Clock     clockwork.Clock
}

// NewService creates a new gateway service
func NewService(config Config, deps Dependencies) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	rules := NewAccessRules(deps.Profiles, deps.Clock)
	connectionManager := NewConnectionManager(deps.Store, config.ConnectionConfig)
	startLimiter := NewRateLimiter(config.StartRatePerSec, config.StartBurst, deps.Clock)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, rules),
		documents:         NewDocumentService(deps.Store, rules),
		timerHandler: NewTimerHandler(
			deps.Profiles,
			deps.Channel,
			deps.Durations,
			deps.Lists,
			startLimiter,
			deps.Clock,
			config.Timer,
		),
		startLimiter:   startLimiter,
		requestLimiter: NewRateLimiter(config.RequestRatePerSec, config.RequestBurst, deps.Clock),
	}
}

// Start runs the broadcast loop and the rate limiter sweeps until ctx is
// cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")

	go s.startLimiter.Run(ctx)
	go s.requestLimiter.Run(ctx)
	s.connectionManager.Start(ctx)

	log.Info().Msg("gateway service shutting down")
	return s.Stop()
}

// Stop disconnects every watcher
func (s *Service) Stop() error {
	s.connectionManager.Close()
	log.Info().Msg("gateway service stopped")
	return nil
}

// RegisterRoutes registers every gateway route on mux
func (s *Service) RegisterRoutes(mux *http.ServeMux, opts ...connect.HandlerOption) {
	path, handler := s.documents.Handler(opts...)
	mux.Handle(path, UserRateLimit(s.requestLimiter)(handler))

	s.wsHandler.RegisterRoutes(mux)
	s.timerHandler.RegisterRoutes(mux)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
