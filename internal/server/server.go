package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hephyrius/selfmarket/internal/crypto"
	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/server/handler"
	"github.com/hephyrius/selfmarket/internal/server/middleware"
	"github.com/hephyrius/selfmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	OperatorAuth    *crypto.HMACAuth // if nil, operator endpoints are open
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Trades  *handler.TradeHandler
	Tokens  *handler.TokenHandler
}

// Server is the HTTP + WebSocket API server for the market daemon.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Read endpoints are public. Write endpoints that act on behalf of a trader
// require an EIP-191 body signature; phase transitions and market creation
// require operator HMAC credentials.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	trader := middleware.TraderAuth()
	operator := middleware.OperatorAuth(cfg.OperatorAuth)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market read endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/contributions", handlers.Markets.ListContributions)
	mux.HandleFunc("GET /api/markets/{id}/criteria", handlers.Markets.ListCriteria)
	mux.HandleFunc("GET /api/markets/{id}/prices", handlers.Trades.Prices)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/markets/{id}/balances", handlers.Tokens.Balances)
	mux.HandleFunc("GET /api/markets/{id}/archive", handlers.Markets.GetArchive)
	mux.HandleFunc("GET /api/tokens/{address}/market", handlers.Tokens.MarketByToken)

	// Trader endpoints (EIP-191 signed).
	mux.Handle("POST /api/markets/{id}/seed", trader(http.HandlerFunc(handlers.Markets.Seed)))
	mux.Handle("POST /api/markets/{id}/propose", trader(http.HandlerFunc(handlers.Markets.ProposeCriteria)))
	mux.Handle("POST /api/markets/{id}/vote", trader(http.HandlerFunc(handlers.Markets.VoteOnCriteria)))
	mux.Handle("POST /api/markets/{id}/buy", trader(http.HandlerFunc(handlers.Trades.Buy)))
	mux.Handle("POST /api/markets/{id}/sell", trader(http.HandlerFunc(handlers.Trades.Sell)))
	mux.Handle("POST /api/markets/{id}/approve", trader(http.HandlerFunc(handlers.Tokens.Approve)))
	mux.Handle("POST /api/tokens/faucet", trader(http.HandlerFunc(handlers.Tokens.Faucet)))

	// Operator endpoints (HMAC authenticated).
	mux.Handle("POST /api/markets", operator(http.HandlerFunc(handlers.Markets.CreateMarket)))
	mux.Handle("POST /api/markets/{id}/start-voting", operator(http.HandlerFunc(handlers.Markets.StartVoting)))
	mux.Handle("POST /api/markets/{id}/start-trading", operator(http.HandlerFunc(handlers.Markets.StartTrading)))
	mux.Handle("POST /api/markets/{id}/end", operator(http.HandlerFunc(handlers.Markets.End)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}
	h = middleware.Logging(logger)(h)
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
