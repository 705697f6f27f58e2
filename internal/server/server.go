// Package server is the HTTP and WebSocket surface of agentd.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/server/handler"
	"github.com/alanyoungcy/agentvault/internal/server/middleware"
	"github.com/alanyoungcy/agentvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards /api/admin; empty disables the check
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Tx and Admin are optional: read-only deployments leave them nil.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Agents    *handler.AgentHandler
	Portfolio *handler.PortfolioHandler
	Chain     *handler.ChainHandler
	Tx        *handler.TxHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, CORS and
// rate limiting. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Mirror reads.
	if handlers.Markets != nil {
		mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
		mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	}
	if handlers.Agents != nil {
		mux.HandleFunc("GET /api/agents", handlers.Agents.ListAgents)
		mux.HandleFunc("GET /api/agents/{address}", handlers.Agents.GetAgent)
		mux.HandleFunc("GET /api/agents/{address}/positions", handlers.Agents.ListPositions)
		mux.HandleFunc("GET /api/agents/{address}/trades", handlers.Agents.ListTrades)
	}
	if handlers.Portfolio != nil {
		mux.HandleFunc("GET /api/portfolio/stats", handlers.Portfolio.Stats)
		mux.HandleFunc("GET /api/portfolio/trades", handlers.Portfolio.Trades)
	}

	// Authoritative reads.
	if handlers.Chain != nil {
		mux.HandleFunc("GET /api/chain/agents/{address}", handlers.Chain.GetAgent)
		mux.HandleFunc("GET /api/chain/constraints", handlers.Chain.GetConstraints)
		mux.HandleFunc("GET /api/chain/markets", handlers.Chain.ListMarkets)
		mux.HandleFunc("GET /api/chain/info", handlers.Chain.GetInfo)
	}

	if handlers.Tx != nil {
		mux.HandleFunc("POST /api/tx", handlers.Tx.Submit)
	}

	if handlers.Admin != nil {
		mux.Handle("GET /api/admin/audit", admin(http.HandlerFunc(handlers.Admin.ListAudit)))
		mux.Handle("POST /api/admin/archive", admin(http.HandlerFunc(handlers.Admin.TriggerArchive)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
