package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"copytrade-engine/internal/api"
	"copytrade-engine/internal/config"
	"copytrade-engine/internal/copytrade"
	"copytrade-engine/internal/execution"
	"copytrade-engine/internal/filter"
	"copytrade-engine/internal/lifecycle"
	"copytrade-engine/internal/monitor"
	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/queue"
	"copytrade-engine/internal/ranking"
	"copytrade-engine/internal/refresh"
)

const httpShutdownTimeout = 5 * time.Second

// Server holds all components of the engine.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	stores   *allStores
	gateways *collaborators
	producer queue.Producer
	consumer queue.Consumer
	mode     *execution.ModeSwitch

	monitor    *monitor.Monitor
	pool       *execution.Pool
	reconciler *execution.Reconciler
	refresh    *refresh.Job
	apiServer  *http.Server

	cleanup   func()
	startedAt time.Time
	sup       *lifecycle.Supervisor
}

// newServer builds stores, collaborators and every loop.
func newServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create stores: %w", err)
	}
	gw, err := createCollaborators(ctx, cfg.Gateway, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create collaborators: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		stores:   stores,
		gateways: gw,
		mode:     execution.NewModeSwitch(cfg.Mode),
		cleanup:  cleanup,
	}

	switch cfg.Queue.Backend {
	case config.BackendKafka:
		kcfg := queue.KafkaConfig{Brokers: cfg.Queue.Brokers, Topic: cfg.Queue.Topic, GroupID: cfg.Queue.GroupID}
		s.producer = queue.NewKafkaProducer(kcfg)
		s.consumer = queue.NewKafkaConsumer(kcfg, logger)
	default:
		q := queue.NewMemoryQueue(cfg.Queue.BufferSize)
		s.producer = q
		s.consumer = q
	}

	// Trade filter -> queue
	f := filter.New(filter.Options{
		Regime:          gw.regime,
		Equity:          gw.equity,
		Limiter:         stores.limiter,
		RejectRedRegime: cfg.Filter.RejectRedRegime,
		Logger:          logger,
	})
	stage := filter.NewStage(f, stores.configs, s.producer, logger)

	s.monitor = monitor.New(monitor.Options{
		Follows:      stores.follows,
		Checkpoints:  stores.checkpoints,
		Source:       gw.source,
		Sink:         stage,
		Events:       stores.events,
		Interval:     cfg.Monitor.Interval,
		Concurrency:  cfg.Monitor.Concurrency,
		FetchTimeout: cfg.Monitor.FetchTimeout,
		Logger:       logger,
	})

	// Queue -> workers
	worker := execution.NewWorker(execution.Options{
		Positions:    stores.positions,
		Fills:        stores.fills,
		Oracle:       gw.oracle,
		Live:         gw.live,
		Simulated:    execution.NewSimulatedExecutor(gw.oracle),
		Notifier:     gw.notifier,
		Mode:         s.mode,
		PriceTimeout: cfg.Execution.PriceTimeout,
		OrderTimeout: cfg.Execution.SubmitTimeout,
		Retry: execution.RetryPolicy{
			MaxAttempts: cfg.Execution.MaxAttempts,
			BaseDelay:   cfg.Execution.RetryDelay,
			MaxDelay:    cfg.Execution.MaxRetryDelay,
		},
		Logger: logger,
	})
	s.pool = execution.NewPool(worker, s.consumer, cfg.Execution.Workers, logger)

	s.reconciler = execution.NewReconciler(execution.ReconcilerOptions{
		Positions: stores.positions,
		Fills:     stores.fills,
		Checker:   gw.checker,
		Oracle:    gw.oracle,
		Notifier:  gw.notifier,
		Logger:    logger,
	})

	// Stats and leaderboard
	engine := ranking.NewEngine(stores.stats, gw.archetypes, rankingOptions(cfg.Ranking), logger)
	s.refresh = refresh.New(refresh.Options{
		Events:    stores.events,
		Stats:     stores.stats,
		Directory: gw.directory,
		Source:    gw.source,
		Ranking:   engine,
		Window:    cfg.Ranking.StatsWindow,
		Logger:    logger,
	})

	svc := copytrade.NewService(copytrade.Options{
		Configs:     stores.configs,
		Follows:     stores.follows,
		Positions:   stores.positions,
		Events:      stores.events,
		Ranking:     engine,
		Mode:        s.mode,
		StatsWindow: cfg.Ranking.StatsWindow,
		Logger:      logger,
	})
	_, s.apiServer = api.NewServer(api.Options{
		Addr:       cfg.HTTP.Addr,
		Service:    svc,
		AdminToken: cfg.HTTP.AdminToken,
		Logger:     logger,
	})

	return s, nil
}

func rankingOptions(cfg config.RankingConfig) ranking.Options {
	opts := ranking.DefaultOptions()
	opts.Gates = ranking.Gates{
		MinTrades:     cfg.MinTrades,
		MinVolumeUsd:  decimal.NewFromFloat(cfg.MinVolumeUsd),
		RecencyWindow: cfg.RecencyWindow,
		MaxMakerRatio: cfg.MaxMakerRatio,
		MinSymbols:    cfg.MinSymbols,
	}
	opts.VolumeCeiling = cfg.VolumeCeiling
	opts.CacheTTL = cfg.CacheTTL
	if cfg.ArchetypeBonus != nil {
		opts.ArchetypeBonus = cfg.ArchetypeBonus
	}
	return opts
}

// run starts every loop and blocks until ctx is done, then shuts down in
// dependency order: monitor first so nothing new is queued, then workers,
// then everything else.
func (s *Server) run(ctx context.Context) error {
	s.startedAt = time.Now()
	// Loops outlive ctx so shutdown can stop them in order.
	runCtx := context.WithoutCancel(ctx)
	s.sup = lifecycle.New(runCtx, s.logger)

	s.logger.Info("starting copy trading engine",
		zap.String("mode", s.mode.Mode().String()),
		zap.String("storage", s.cfg.Storage.Backend),
		zap.String("queue", s.cfg.Queue.Backend),
		zap.Int("workers", s.cfg.Execution.Workers),
	)

	s.pool.Start(runCtx)

	routines := []struct {
		name string
		fn   lifecycle.Routine
	}{
		{"monitor", s.monitor.Run},
		{"reconciler", func(ctx context.Context) error { return s.reconciler.Run(ctx, s.cfg.Execution.ReconcileInterval) }},
		{"refresh", func(ctx context.Context) error { return s.refresh.Run(ctx, s.cfg.Ranking.RefreshInterval) }},
		{"api", serveHTTP(s.apiServer)},
		{"metrics", serveHTTP(s.metricsServer())},
	}
	for _, r := range routines {
		if err := s.sup.Go(r.name, r.fn); err != nil {
			return fmt.Errorf("start %s: %w", r.name, err)
		}
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Execution.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.sup.Stop(shutdownCtx, "monitor"); err != nil && !errors.Is(err, lifecycle.ErrNotFound) {
		errs = append(errs, fmt.Errorf("stop monitor: %w", err))
	}
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain workers: %w", err))
	}
	if err := s.sup.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) close() {
	if err := s.producer.Close(); err != nil {
		s.logger.Warn("close producer", zap.Error(err))
	}
	if s.cfg.Queue.Backend == config.BackendKafka {
		if err := s.consumer.Close(); err != nil {
			s.logger.Warn("close consumer", zap.Error(err))
		}
	}
	s.gateways.close()
	s.cleanup()
}

// serveHTTP runs srv until ctx is done.
func serveHTTP(srv *http.Server) lifecycle.Routine {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}

// metricsServer serves health, metrics and status on the metrics address.
func (s *Server) metricsServer() *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	return &http.Server{
		Addr:              s.cfg.HTTP.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: httpShutdownTimeout,
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status         string             `json:"status"`
	Mode           string             `json:"mode"`
	StartedAt      time.Time          `json:"started_at"`
	Uptime         string             `json:"uptime"`
	Routines       []string           `json:"routines"`
	MonitorRunning bool               `json:"monitor_running"`
	LastTick       *time.Time         `json:"last_tick,omitempty"`
	LastRefresh    *refresh.RunResult `json:"last_refresh,omitempty"`
}

// handleStatus returns scheduler state as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:         "running",
		Mode:           s.mode.Mode().String(),
		StartedAt:      s.startedAt,
		Uptime:         time.Since(s.startedAt).Round(time.Second).String(),
		Routines:       s.sup.Running(),
		MonitorRunning: s.monitor.Running(),
		LastRefresh:    s.refresh.LastRun(),
	}
	if t := s.monitor.LastTick(); !t.IsZero() {
		resp.LastTick = &t
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode status", zap.Error(err))
	}
}
