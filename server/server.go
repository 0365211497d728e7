// Package server exposes the query surface of the running engine over HTTP.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/ingest"
	"github.com/metachris/mevguard/metrics"
	"github.com/metachris/mevguard/relay"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// AttackSource is the ingestion pipeline's query surface
type AttackSource interface {
	GetRecentAttacks(limit int) []*common.AttackRecord
	GetAttackStatistics() common.AttackStatistics
	Status() *ingest.Status
	IsActive() bool
}

// OpportunitySource is the feed client's query surface
type OpportunitySource interface {
	GetRecentOpportunities(limit int) []*common.OpportunityRecord
	IsConnected() bool
	IsRunning() bool
}

// BundleService is the subset of the relay client served over HTTP
type BundleService interface {
	SimulateBundle(ctx context.Context, req relay.SimulationRequest) *relay.BundleSimulationResult
	OptimizeBundle(ctx context.Context, req relay.OptimizationRequest) *relay.BundleOptimizationResult
	SubmitPrivateTransaction(ctx context.Context, rawTx string, opts relay.PrivateTxOptions) *relay.PrivateTxResult
}

type Server struct {
	addr          string
	attacks       AttackSource
	opportunities OpportunitySource
	bundles       BundleService
	metrics       *metrics.Metrics
	gatherer      prometheus.Gatherer
	logger        *slog.Logger
	server        *http.Server
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithAttacks(a AttackSource) Option {
	return func(s *Server) { s.attacks = a }
}

func WithOpportunities(o OpportunitySource) Option {
	return func(s *Server) { s.opportunities = o }
}

func WithBundles(b BundleService) Option {
	return func(s *Server) { s.bundles = b }
}

// WithMetrics records request metrics into m and serves g on /metrics
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// New creates a server. Routes whose backing component was not provided answer 503.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
