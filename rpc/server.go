package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakepool/native/staking"
	"stakepool/observability/metrics"
	"stakepool/rpc/middleware"
)

// ScopeStakingAdmin is the token scope required for the rate-update endpoint.
const ScopeStakingAdmin = "staking:admin"

// Server exposes the staking engine over HTTP.
type Server struct {
	engine  *staking.Engine
	logger  *slog.Logger
	metrics *metrics.StakingMetrics
	now     func() int64
}

// ServerOption customises server construction.
type ServerOption func(*Server)

// WithClock overrides the server time source. Used by tests to pin timestamps.
func WithClock(now func() int64) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer builds a server around a fully wired engine.
func NewServer(engine *staking.Engine, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		logger:  logger,
		metrics: metrics.Staking(),
		now:     func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the HTTP routes with logging, rate limiting and auth
// middleware. The admin rate endpoint additionally requires the staking:admin
// scope when auth is enabled.
func (s *Server) Router(auth *middleware.Authenticator, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger))
	if limiter != nil {
		r.Use(limiter.Middleware())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/staking", func(sr chi.Router) {
		sr.Post("/stake", s.handleStake)
		sr.Post("/withdraw", s.handleWithdraw)
		sr.Post("/claim", s.handleClaim)
		sr.Post("/emergency", s.handleEmergencyWithdraw)
		sr.Get("/position/{address}", s.handlePosition)
		sr.Get("/pool", s.handlePool)

		if auth != nil {
			sr.With(auth.Middleware(ScopeStakingAdmin)).Put("/rate", s.handleSetRate)
		} else {
			sr.Put("/rate", s.handleSetRate)
		}
	})

	return r
}
