// Package server exposes the admin audit API over the ledger.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lendledger/core/ledger"
)

// Ledger is the read and audit surface of the chain engine.
type Ledger interface {
	Blocks(ctx context.Context, from uint64, limit int) ([]ledger.Block, error)
	Block(ctx context.Context, index uint64) (ledger.Block, error)
	Tail(ctx context.Context) (ledger.Block, bool, error)
	Validate(ctx context.Context) (ledger.Report, error)
	Stats(ctx context.Context) (ledger.Stats, error)
}

// Directory resolves participant ids to display names. The ledger itself
// stores identifiers only.
type Directory interface {
	Name(id ledger.PartyID) (string, bool)
}

// StaticDirectory is a Directory backed by a fixed map.
type StaticDirectory map[string]string

// Name implements Directory.
func (d StaticDirectory) Name(id ledger.PartyID) (string, bool) {
	name, ok := d[string(id)]
	return name, ok
}

// Config wires the server dependencies.
type Config struct {
	Ledger        Ledger
	Directory     Directory
	Auth          AuthConfig
	ValidateLimit RateLimit
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable it only behind a proxy that overwrites those headers;
	// otherwise clients can pick their own rate limit key.
	TrustProxyHeaders bool
	Logger            *slog.Logger
	ServiceName       string
}

// Server serves the audit API.
type Server struct {
	ledger    Ledger
	directory Directory
	auth      *Authenticator
	limiter   *RateLimiter
	obs       *Observability
	logger    *slog.Logger
	router    http.Handler

	trustProxyHeaders bool
}

// New constructs the server and its router.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("auditd: ledger required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "auditd"))
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	directory := cfg.Directory
	if directory == nil {
		directory = StaticDirectory{}
	}
	srv := &Server{
		ledger:    cfg.Ledger,
		directory: directory,
		auth:      auth,
		limiter:   NewRateLimiter(cfg.ValidateLimit),
		obs:       NewObservability(cfg.ServiceName),
		logger:    logger,

		trustProxyHeaders: cfg.TrustProxyHeaders,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.trustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(s.obs.Middleware)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/api/v1/ledger", func(api chi.Router) {
		api.Use(s.auth.RequireAdmin)
		api.With(s.limiter.Middleware).Get("/", s.Overview)
		api.Get("/blocks", s.ListBlocks)
		api.Get("/blocks/{index}", s.GetBlock)
		api.With(s.limiter.Middleware).Get("/validate", s.Validate)
		api.Get("/stats", s.Stats)
	})
	return s.obs.Trace(r)
}
