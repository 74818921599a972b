// Package server exposes the launchpad's settlement operations over HTTP and
// WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
	"github.com/curvelabs/launchpad/internal/server/handler"
	"github.com/curvelabs/launchpad/internal/server/middleware"
	"github.com/curvelabs/launchpad/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per window per client IP; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Agents     *handler.AgentHandler
	Trades     *handler.TradeHandler
	Graduation *handler.GraduationHandler
	Revenue    *handler.RevenueHandler
}

// Server is the headless HTTP + WebSocket API for the launchpad settlement
// core.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. The limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Agent lifecycle.
	mux.HandleFunc("POST /api/agents", handlers.Agents.CreateAgent)
	mux.HandleFunc("GET /api/agents", handlers.Agents.ListAgents)
	mux.HandleFunc("GET /api/agents/{id}", handlers.Agents.GetAgent)
	mux.HandleFunc("GET /api/agents/{id}/holdings/{address}", handlers.Agents.GetHolding)

	// Trading.
	mux.HandleFunc("GET /api/agents/{id}/quote", handlers.Trades.Quote)
	mux.HandleFunc("POST /api/agents/{id}/buy", handlers.Trades.Buy)
	mux.HandleFunc("POST /api/agents/{id}/sell", handlers.Trades.Sell)
	mux.HandleFunc("GET /api/agents/{id}/trades", handlers.Trades.ListTrades)

	// Graduation orchestration.
	mux.HandleFunc("GET /api/agents/{id}/graduation", handlers.Graduation.GetStatus)
	mux.HandleFunc("POST /api/agents/{id}/graduation", handlers.Graduation.Trigger)
	mux.HandleFunc("POST /api/agents/{id}/graduation/reset", handlers.Graduation.Reset)

	// Revenue distributions and payout retries.
	mux.HandleFunc("GET /api/revenue/distributions/{id}", handlers.Revenue.GetDistribution)
	mux.HandleFunc("GET /api/revenue/failures", handlers.Revenue.ListFailures)
	mux.HandleFunc("POST /api/revenue/failures/retry", handlers.Revenue.RetryAll)
	mux.HandleFunc("POST /api/revenue/failures/{id}/retry", handlers.Revenue.RetryFailure)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window == 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
