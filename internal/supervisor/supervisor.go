// Package supervisor implements the Core Engine: it owns the bus
// connection and the scheduler, wires the Capital Manager and Exchange
// Connector, and spawns/restarts one Strategy Worker per active
// domain.Strategy. Grounded on cmd/server/main.go's original
// registerJobs/server bootstrap, generalized from a single HTTP-server
// process into the always-on trading pipeline's process supervisor.
package supervisor

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradecore/internal/bus"
	"github.com/aristath/tradecore/internal/capital"
	"github.com/aristath/tradecore/internal/config"
	"github.com/aristath/tradecore/internal/database/repositories"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/events"
	"github.com/aristath/tradecore/internal/exchange"
	"github.com/aristath/tradecore/internal/reconciler"
	"github.com/aristath/tradecore/internal/scheduler"
	"github.com/aristath/tradecore/internal/worker"
)

// Engine is the Core Engine (spec §4 overview): the always-on process
// that keeps the message bus, Capital Manager, Exchange Connector,
// State Reconciliation Loop, and every active Strategy Worker alive,
// retrying workers that fail to start; a worker halted by its
// consecutive-failure budget is not restarted.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	bus        *bus.Client
	sched      *scheduler.Scheduler
	capitalMgr *capital.Manager
	connector  *exchange.Connector
	reconciler *reconciler.Reconciler
	eventsMgr  *events.Manager

	strategies *repositories.StrategyRepository
	states     *repositories.StrategyStateRepository
	registry   *worker.Registry

	restartBackoff time.Duration
	maxFailures    int
	fingerprintTTL time.Duration

	mu      sync.Mutex
	workers map[string]*worker.Worker
	cancels map[string]context.CancelFunc
}

// New wires every component from a live *sql.DB and a concrete
// exchange.Adapter. adapter is the one out-of-scope exchange-SDK
// binding (spec §1); registry holds whatever BaseStrategy factories a
// deployment has registered (also out of scope — spec §1 "only the
// BaseStrategy contract").
func New(cfg *config.Config, sqlDB *sql.DB, adapter exchange.Adapter, registry *worker.Registry, log zerolog.Logger) *Engine {
	log = log.With().Str("component", "core_engine").Logger()

	portfolios := repositories.NewPortfolioRepository(sqlDB, log)
	trades := repositories.NewTradeRepository(sqlDB, log)
	positions := repositories.NewPositionRepository(sqlDB, log)
	rules := repositories.NewPortfolioRuleRepository(sqlDB, log)
	strategies := repositories.NewStrategyRepository(sqlDB, log)
	states := repositories.NewStrategyStateRepository(sqlDB, log)

	busCfg := bus.Config{
		URL:                cfg.BusURL,
		Source:             "core_engine",
		PrefetchCommands:   cfg.BusPrefetchCommands,
		PrefetchMarketData: cfg.BusPrefetchMarketData,
		MaxRetries:         cfg.BusMaxRetries,
		RetryBackoff:       cfg.BusRetryBackoff,
		PublishBuffer:      cfg.BusPublishBuffer,
		RequestTimeout:     cfg.BusRequestTimeout,
		MaxReconnectWait:   cfg.BusMaxReconnectWait,
	}
	busClient := bus.New(busCfg, log)
	eventsMgr := events.NewManager(busClient, log)

	feeBuffer := decimal.NewFromFloat(0.001)
	minAvailable := decimal.Zero
	capitalMgr := capital.New(portfolios, trades, positions, rules, strategies, busClient, eventsMgr, minAvailable, feeBuffer, log)

	connector := exchange.NewConnector(
		adapter, trades, positions, strategies, capitalMgr, busClient, eventsMgr,
		cfg.RateLimitOrdersPerSec, cfg.RateLimitQueriesPerSec,
		cfg.CircuitBreakerTrips, cfg.CircuitBreakerCooldown,
		log,
	)

	recon := reconciler.New(
		portfolios, strategies, trades, positions, connector, capitalMgr, eventsMgr,
		cfg.ReconcileAutoCancel, cfg.ReconcilePositionEpsilon, log,
	)

	return &Engine{
		cfg:            cfg,
		log:            log,
		bus:            busClient,
		sched:          scheduler.New(log),
		capitalMgr:     capitalMgr,
		connector:      connector,
		reconciler:     recon,
		eventsMgr:      eventsMgr,
		strategies:     strategies,
		states:         states,
		registry:       registry,
		restartBackoff: cfg.WorkerRestartBackoff,
		maxFailures:    cfg.WorkerMaxConsecutiveFailures,
		fingerprintTTL: cfg.FingerprintTTL,
		workers:        make(map[string]*worker.Worker),
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Start connects the bus, subscribes the Capital Manager and Exchange
// Connector, schedules the reconciler and circuit-breaker probe, and
// spawns a Worker per active strategy.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.bus.Connect(ctx); err != nil {
		return err
	}
	if err := e.capitalMgr.Subscribe(ctx); err != nil {
		return err
	}
	if err := e.connector.Subscribe(ctx); err != nil {
		return err
	}

	if err := e.sched.AddJob("@every 60s", e.reconciler); err != nil {
		return err
	}
	if err := e.sched.AddJob("@every 30s", exchange.NewBreakerProbeJob(e.connector)); err != nil {
		return err
	}
	e.sched.Start()

	strategies, err := e.strategies.ListActive()
	if err != nil {
		return err
	}
	for _, s := range strategies {
		e.spawn(ctx, s)
	}
	return nil
}

// spawn starts one Worker and a supervising goroutine that restarts it
// with backoff if its Start fails (distinct from the Worker's own
// internal halt-after-consecutive-failures circuit, which requires an
// operator to re-activate the strategy).
func (e *Engine) spawn(ctx context.Context, s domain.Strategy) {
	impl, err := e.registry.Build(s)
	if err != nil {
		e.log.Error().Err(err).Str("strategy_id", s.ID).Msg("no strategy implementation registered, skipping")
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[s.ID] = cancel
	e.mu.Unlock()

	go e.runWithRestart(workerCtx, s, impl)
}

func (e *Engine) runWithRestart(ctx context.Context, s domain.Strategy, impl worker.BaseStrategy) {
	for {
		w := worker.New(s, impl, e.bus, e.states, e.eventsMgr, e.maxFailures, e.fingerprintTTL, e.log)
		e.mu.Lock()
		e.workers[s.ID] = w
		e.mu.Unlock()

		err := w.Start(ctx)
		if err != nil {
			e.log.Error().Err(err).Str("strategy_id", s.ID).Msg("worker start failed")
		} else {
			// Start returns once the subscriptions are registered; the
			// worker then runs until ctx is canceled.
			<-ctx.Done()
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.Halted() {
			e.log.Warn().Str("strategy_id", s.ID).Msg("worker halted after consecutive failures, not restarting")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.restartBackoff):
		}
	}
}

// Shutdown stops every worker, the scheduler, and the bus connection.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for id, cancel := range e.cancels {
		cancel()
		if w, ok := e.workers[id]; ok {
			_ = w.Stop(ctx)
		}
	}
	e.mu.Unlock()

	e.sched.Stop()
	return e.bus.Close()
}
