package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-translation-cache/cache"
	"github.com/saiset-co/sai-translation-cache/types"
	"github.com/saiset-co/sai-translation-cache/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// OpsServer exposes the operational endpoints: /health, /stats and /metrics.
// It serves introspection only; cache reads and writes go through the library
// API, not HTTP.
type OpsServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.ServerConfig
	health          types.HealthManager
	metrics         types.MetricsManager
	hierarchy       *cache.Hierarchy
	server          *fasthttp.Server
	listener        net.Listener
	metricsHandler  fasthttp.RequestHandler
	state           atomic.Value
	shutdownTimeout time.Duration
}

type statsPayload struct {
	Aggregate types.TierMetrics            `json:"aggregate"`
	Tiers     map[string]types.TierMetrics `json:"tiers"`
	Storage   *types.StorageStats          `json:"storage,omitempty"`
	Pool      *cache.PoolStats             `json:"pool,omitempty"`
}

type poolStatsProvider interface {
	PoolStats() cache.PoolStats
}

func NewOpsServer(
	ctx context.Context,
	config *types.ServerConfig,
	logger types.Logger,
	health types.HealthManager,
	metrics types.MetricsManager,
	hierarchy *cache.Hierarchy) (*OpsServer, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	serverCtx, cancel := context.WithCancel(ctx)

	shutdownTimeout := 5 * time.Second
	if config.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(config.ShutdownTimeout) * time.Second
	}

	server := &OpsServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		config:          config,
		health:          health,
		metrics:         metrics,
		hierarchy:       hierarchy,
		shutdownTimeout: shutdownTimeout,
	}

	if metrics != nil {
		server.metricsHandler = metrics.Handler()
	}

	server.state.Store(StateStopped)
	return server, nil
}

func (s *OpsServer) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	readTimeout := 10 * time.Second
	if s.config.ReadTimeout > 0 {
		readTimeout = time.Duration(s.config.ReadTimeout) * time.Second
	}
	writeTimeout := 10 * time.Second
	if s.config.WriteTimeout > 0 {
		writeTimeout = time.Duration(s.config.WriteTimeout) * time.Second
	}

	s.server = &fasthttp.Server{
		Handler:         s.mainHandler(),
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		CloseOnShutdown: true,
	}

	host := s.config.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.config.Port
	if port == 0 {
		port = 8091
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "ops listener failed")
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(s.listener); err != nil {
			if s.logger != nil {
				s.logger.Error("Ops server failed", zap.Error(err))
			}
			s.setState(StateStopped)
		}
	}()

	if s.logger != nil {
		s.logger.Info("Ops server started successfully", zap.String("address", addr))
	}
	return nil
}

func (s *OpsServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if s.server != nil {
			if s.listener != nil {
				if err := s.listener.Close(); err != nil && s.logger != nil {
					s.logger.Error("Failed to close listener", zap.Error(err))
				}
			}
			if err := s.server.ShutdownWithContext(ctx); err != nil {
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			if s.logger != nil {
				s.logger.Warn("Ops server stop timeout, some connections may not have drained")
			}
		default:
			if s.logger != nil {
				s.logger.Error("Error during ops server shutdown", zap.Error(err))
			}
		}
	} else if s.logger != nil {
		s.logger.Info("Ops server stopped gracefully")
	}

	return nil
}

func (s *OpsServer) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *OpsServer) getState() State {
	return s.state.Load().(State)
}

func (s *OpsServer) setState(newState State) {
	s.state.Store(newState)
}

func (s *OpsServer) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *OpsServer) mainHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !ctx.IsGet() {
			ctx.Error("Method not allowed", fasthttp.StatusMethodNotAllowed)
			return
		}

		switch utils.BytesToString(ctx.Path()) {
		case "/health":
			s.handleHealth(ctx)
		case "/stats":
			s.handleStats(ctx)
		case "/metrics":
			s.handleMetrics(ctx)
		default:
			ctx.Error("Not found", fasthttp.StatusNotFound)
		}
	}
}

func (s *OpsServer) handleHealth(ctx *fasthttp.RequestCtx) {
	if s.health == nil {
		ctx.Error("Health checks disabled", fasthttp.StatusNotFound)
		return
	}

	report := s.health.Check(s.ctx)

	body, err := utils.Marshal(report)
	if err != nil {
		ctx.Error("Failed to encode health report", fasthttp.StatusInternalServerError)
		return
	}

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (s *OpsServer) handleStats(ctx *fasthttp.RequestCtx) {
	if s.hierarchy == nil {
		ctx.Error("Cache disabled", fasthttp.StatusNotFound)
		return
	}

	payload := statsPayload{
		Aggregate: s.hierarchy.Cache.Metrics(),
		Tiers:     s.hierarchy.Cache.TierMetrics(),
	}

	if s.hierarchy.Persistent != nil {
		stats := s.hierarchy.Persistent.Stats()
		payload.Storage = &stats
	}

	if provider, ok := s.hierarchy.Remote.(poolStatsProvider); ok {
		stats := provider.PoolStats()
		payload.Pool = &stats
	}

	body, err := utils.Marshal(payload)
	if err != nil {
		ctx.Error("Failed to encode stats", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (s *OpsServer) handleMetrics(ctx *fasthttp.RequestCtx) {
	if s.metricsHandler == nil {
		ctx.Error("Metrics disabled", fasthttp.StatusNotFound)
		return
	}
	s.metricsHandler(ctx)
}
