// Package http serves the JSON API over the ledger engine and the recurring
// scheduler.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"

	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/services"
)

// Deps are the services the API is served from.
type Deps struct {
	Accounts     *services.AccountService
	Transactions *services.TransactionService
	Engine       *ledger.Engine
	Processor    *services.RecurringProcessor
	// Ready reports whether the backing store is reachable.
	Ready  func(ctx context.Context) error
	Logger *log.Logger
}

// Options tune the request guards.
type Options struct {
	RateLimitRPS   int
	RateLimitBurst int
	IdempotencyTTL time.Duration
	RequestTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		IdempotencyTTL: 24 * time.Hour,
		RequestTimeout: 30 * time.Second,
	}
}

type Server struct {
	http.Server

	accounts     *services.AccountService
	transactions *services.TransactionService
	engine       *ledger.Engine
	processor    *services.RecurringProcessor
	ready        func(ctx context.Context) error
	logger       *log.Logger

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	idempotency      *gocache.Cache
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, opts Options) *Server {
	defaults := DefaultOptions()
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaults.RequestTimeout
	}
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	if deps.Ready == nil {
		deps.Ready = func(context.Context) error { return nil }
	}

	s := &Server{
		accounts:         deps.Accounts,
		transactions:     deps.Transactions,
		engine:           deps.Engine,
		processor:        deps.Processor,
		ready:            deps.Ready,
		logger:           deps.Logger.WithComponent(log.ComponentHTTP),
		securityDetector: security.NewDetector(),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: opts.RateLimitRPS,
			Burst:             opts.RateLimitBurst,
		}),
		idempotency: gocache.New(opts.IdempotencyTTL, 10*time.Minute),
		appMetrics:  &appMetrics{uptime: time.Now()},
	}
	s.traceMiddleware = trace.NewMiddleware(deps.Logger, s.securityDetector.ExtractClientIP)

	r := chi.NewRouter()
	r.Use(s.traceMiddleware.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(s.securityDetector.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.handleRateLimited,
			http.MethodPost, http.MethodDelete))
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Get("/{id}", s.handleGetAccount)
			r.Get("/{id}/ledger-balance", s.handleLedgerBalance)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleListTransactions)
			r.With(s.idempotent).Post("/", s.handleCreateTransaction)
			r.Get("/{id}", s.handleGetTransaction)
			r.Delete("/{id}", s.handleDeleteTransaction)
			r.Get("/{id}/entries", s.handleTransactionEntries)
			r.Get("/{id}/validate", s.handleValidateTransaction)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{id}", s.handleGetRule)
			r.Post("/{id}/run", s.handleRunRule)
			r.Post("/{id}/pause", s.handlePauseRule)
			r.Post("/{id}/resume", s.handleResumeRule)
		})

		r.Post("/recurring/process", s.handleProcessDue)
		r.Get("/audit", s.handleAudit)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
