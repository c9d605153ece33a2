package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
	"github.com/simplifi-protocol/simplifi-core/internal/server/handler"
	"github.com/simplifi-protocol/simplifi-core/internal/server/middleware"
	"github.com/simplifi-protocol/simplifi-core/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Rate limiting applies per client IP when a limiter is set.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit and Archive may be nil when their backing stores are not configured.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Token       *handler.TokenHandler
	Roles       *handler.RoleHandler
	Strategy    *handler.StrategyHandler
	Positions   *handler.PositionHandler
	Fees        *handler.FeeHandler
	Marketplace *handler.MarketplaceHandler
	NFT         *handler.NFTHandler
	Audit       *handler.AuditHandler
	Archive     *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server for the protocol.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (caller identity, auth, rate limiting, logging,
// CORS) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Stable token endpoints.
	mux.HandleFunc("GET /api/token", handlers.Token.Info)
	mux.HandleFunc("GET /api/token/balance/{address}", handlers.Token.Balance)
	mux.HandleFunc("GET /api/token/allowance", handlers.Token.AllowanceOf)
	mux.HandleFunc("POST /api/token/approve", handlers.Token.Approve)
	mux.HandleFunc("POST /api/token/transfer", handlers.Token.Transfer)
	mux.HandleFunc("POST /api/token/mint", handlers.Token.Mint)

	// Role management endpoints.
	mux.HandleFunc("GET /api/roles/admins", handlers.Roles.Admins)
	mux.HandleFunc("POST /api/roles/admins", handlers.Roles.AddAdmin)
	mux.HandleFunc("DELETE /api/roles/admins", handlers.Roles.RemoveAdmin)
	mux.HandleFunc("GET /api/roles/cgps", handlers.Roles.CGPs)
	mux.HandleFunc("POST /api/roles/cgps", handlers.Roles.AddCGP)
	mux.HandleFunc("DELETE /api/roles/cgps", handlers.Roles.RemoveCGP)
	mux.HandleFunc("GET /api/roles/cgps/{address}/clients", handlers.Roles.CGPClients)
	mux.HandleFunc("GET /api/roles/cgps/{address}/stats", handlers.Roles.CGPStats)
	mux.HandleFunc("GET /api/roles/clients", handlers.Roles.Clients)
	mux.HandleFunc("POST /api/roles/clients", handlers.Roles.AddClient)
	mux.HandleFunc("DELETE /api/roles/clients", handlers.Roles.RemoveClient)
	mux.HandleFunc("GET /api/roles/clients/{address}", handlers.Roles.ClientInfo)
	mux.HandleFunc("GET /api/roles/{address}", handlers.Roles.Roles)

	// Strategy endpoints.
	mux.HandleFunc("GET /api/strategy/details", handlers.Strategy.Details)
	mux.HandleFunc("POST /api/strategy/enter", handlers.Strategy.Enter)
	mux.HandleFunc("POST /api/strategy/{id}/exit", handlers.Strategy.Exit)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListByOwner)
	mux.HandleFunc("GET /api/positions/count", handlers.Positions.Count)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.Get)

	// Fee endpoints.
	mux.HandleFunc("GET /api/fees/protocol", handlers.Fees.Protocol)
	mux.HandleFunc("POST /api/fees/protocol/withdraw", handlers.Fees.WithdrawProtocol)
	mux.HandleFunc("POST /api/fees/cgp/withdraw", handlers.Fees.WithdrawCGP)
	mux.HandleFunc("GET /api/fees/cgp/{address}", handlers.Fees.CGP)
	mux.HandleFunc("GET /api/fees/points", handlers.Fees.Points)
	mux.HandleFunc("PUT /api/fees/points", handlers.Fees.UpdatePoints)

	// Marketplace endpoints.
	mux.HandleFunc("GET /api/marketplace/listings", handlers.Marketplace.Listings)
	mux.HandleFunc("GET /api/marketplace/listings/{id}", handlers.Marketplace.Listing)
	mux.HandleFunc("POST /api/marketplace/listings/{id}", handlers.Marketplace.List)
	mux.HandleFunc("DELETE /api/marketplace/listings/{id}", handlers.Marketplace.Cancel)
	mux.HandleFunc("POST /api/marketplace/listings/{id}/buy", handlers.Marketplace.Buy)

	// NFT collection endpoints.
	mux.HandleFunc("GET /api/nft", handlers.NFT.Collection)
	mux.HandleFunc("GET /api/nft/owner/{address}", handlers.NFT.TokensOfOwner)
	mux.HandleFunc("GET /api/nft/{id}", handlers.NFT.Token)
	mux.HandleFunc("POST /api/nft/{id}/approve", handlers.NFT.Approve)
	mux.HandleFunc("POST /api/nft/{id}/transfer", handlers.NFT.Transfer)

	// Audit log (requires Postgres).
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}

	// Cold-storage archive (requires S3).
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.List)
		mux.HandleFunc("POST /api/archive/trigger", handlers.Archive.Trigger)
		mux.HandleFunc("GET /api/archive/{path...}", handlers.Archive.Download)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Resolve the caller identity header before handlers run.
	h = middleware.Caller()(h)

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply rate limiting when a limiter is configured.
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
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
