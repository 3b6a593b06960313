package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/server/handler"
	"github.com/lnp2pbot/escrowd/internal/server/middleware"
	"github.com/lnp2pbot/escrowd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit requests per RateWindow per user; zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Orders      *handler.OrderHandler
	Disputes    *handler.DisputeHandler
	Communities *handler.CommunityHandler
	Admin       *handler.AdminHandler
}

// Deps are the stores and caches the middleware chain needs.
type Deps struct {
	Users   domain.UserStore
	Limiter domain.RateLimiter // nil disables rate limiting
}

// Server is the HTTP + WebSocket front end adapter for the escrow engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, auth, actor, rate limit) and
// attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, deps, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Order lifecycle.
	mux.HandleFunc("POST /api/orders", handlers.Orders.CreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/take", handlers.Orders.TakeOrder)
	mux.HandleFunc("POST /api/orders/{id}/invoice", handlers.Orders.AddInvoice)
	mux.HandleFunc("POST /api/orders/{id}/fiat-sent", handlers.Orders.FiatSent)
	mux.HandleFunc("POST /api/orders/{id}/release", handlers.Orders.Release)
	mux.HandleFunc("POST /api/orders/{id}/cancel", handlers.Orders.Cancel)
	mux.HandleFunc("POST /api/orders/{id}/dispute", handlers.Orders.Dispute)

	// Disputes.
	mux.HandleFunc("POST /api/disputes/{order_id}/take", handlers.Disputes.TakeDispute)
	mux.HandleFunc("POST /api/disputes/{order_id}/resolve", handlers.Disputes.ResolveDispute)

	// Communities.
	mux.HandleFunc("POST /api/communities/{id}/withdraw", handlers.Communities.Withdraw)

	// Operator endpoints.
	if handlers.Admin != nil {
		mux.HandleFunc("GET /api/admin/disputes", handlers.Admin.ListDisputes)
		mux.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)
		mux.HandleFunc("GET /api/admin/orders/{id}/audit", handlers.Admin.OrderHistory)
		mux.HandleFunc("GET /api/admin/reports", handlers.Admin.ListReports)
		mux.HandleFunc("GET /api/admin/reports/{path...}", handlers.Admin.GetReport)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Actor(deps.Users, logger)(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
