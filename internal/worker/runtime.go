package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradecore/internal/bus"
	"github.com/aristath/tradecore/internal/capital"
	"github.com/aristath/tradecore/internal/database/repositories"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/events"
)

// maxFrameLen bounds the in-memory rolling OHLCV window kept per Worker.
const maxFrameLen = 500

// marketDataQueueDepth bounds each Worker's per-subscriber market_data
// buffer (spec §5 backpressure); once full, the oldest buffered tick is
// dropped in favor of the newest rather than stalling the AMQP channel.
const marketDataQueueDepth = 256

// Worker drives one domain.Strategy against its live market-data feed.
// Grounded on internal/scheduler/health_check.go's Job pattern for the
// Start/Stop lifecycle, generalized from a cron-invoked check into a
// bus-subscribed long-running consumer.
type Worker struct {
	strategy      domain.Strategy
	impl          BaseStrategy
	bus           *bus.Client
	states        *repositories.StrategyStateRepository
	eventsMgr     *events.Manager
	log           zerolog.Logger
	maxFailures   int
	fingerprintTTL time.Duration

	mu            sync.Mutex
	frame         []Bar
	seen          map[string]time.Time // fingerprint -> seen-at, for TTL-based dedupe
	consecutiveFailures int
	halted        bool
}

// New constructs a Worker for strategy, wired to its BaseStrategy impl.
func New(
	strategy domain.Strategy,
	impl BaseStrategy,
	busClient *bus.Client,
	states *repositories.StrategyStateRepository,
	eventsMgr *events.Manager,
	maxFailures int,
	fingerprintTTL time.Duration,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		strategy:       strategy,
		impl:           impl,
		bus:            busClient,
		states:         states,
		eventsMgr:      eventsMgr,
		log:            log.With().Str("component", "strategy_worker").Str("strategy_id", strategy.ID).Logger(),
		maxFailures:    maxFailures,
		fingerprintTTL: fingerprintTTL,
		seen:           make(map[string]time.Time),
	}
}

// Start loads restart-resume state, calls OnStart, and subscribes to
// every routing key the strategy requires (spec §4.B "Restart
// backfill/resume gating").
func (w *Worker) Start(ctx context.Context) error {
	if err := w.resume(ctx); err != nil {
		return err
	}
	if err := w.impl.OnStart(ctx); err != nil {
		return err
	}
	for _, routingKey := range w.impl.RequiredSubscriptions() {
		err := w.bus.Subscribe(ctx, bus.SubscribeOpts{
			Queue:         "worker." + w.strategy.ID + "." + routingKey,
			Exchange:      bus.ExchangeMarketData,
			RoutingKey:    routingKey,
			Prefetch:      100,
			MaxQueueDepth: marketDataQueueDepth,
			OnDrop:        w.onMarketDataDrop,
		}, w.handleTick)
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop calls OnStop.
func (w *Worker) Stop(ctx context.Context) error {
	return w.impl.OnStop(ctx)
}

func (w *Worker) resume(ctx context.Context) error {
	state, err := w.states.GetByStrategyID(w.strategy.ID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	w.mu.Lock()
	if state.LastFingerprint != "" {
		w.seen[state.LastFingerprint] = time.Now()
	}
	w.mu.Unlock()
	return nil
}

// MarketTick is the payload carried on market_data.* (spec §4.D).
type MarketTick struct {
	Symbol  string          `json:"symbol"`
	CloseTS time.Time       `json:"close_ts"`
	Open    decimal.Decimal `json:"open"`
	High    decimal.Decimal `json:"high"`
	Low     decimal.Decimal `json:"low"`
	Close   decimal.Decimal `json:"close"`
	Volume  decimal.Decimal `json:"volume"`
}

func (w *Worker) handleTick(ctx context.Context, env bus.Envelope) error {
	w.mu.Lock()
	if w.halted {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	var tick MarketTick
	if err := env.Decode(&tick); err != nil {
		return err
	}

	bar := Bar{CloseTS: tick.CloseTS, Open: tick.Open, High: tick.High, Low: tick.Low, Close: tick.Close, Volume: tick.Volume}

	w.mu.Lock()
	w.frame = append(w.frame, bar)
	if len(w.frame) > maxFrameLen {
		w.frame = w.frame[len(w.frame)-maxFrameLen:]
	}
	frame := append([]Bar(nil), w.frame...)
	w.mu.Unlock()

	indicators := w.impl.PopulateIndicators(frame)
	signal := w.impl.OnData(ctx, frame, indicators)
	if signal == nil {
		w.recordSuccess()
		return nil
	}

	fp := domain.Fingerprint(w.strategy.ID, w.strategy.Symbol, signal.Intent, bar.CloseTS)
	if w.alreadySeen(fp) {
		w.recordSuccess()
		return nil
	}

	if err := w.propose(ctx, signal, bar, fp); err != nil {
		w.recordFailure(ctx, err)
		return err
	}
	w.markSeen(fp)
	w.recordSuccess()
	return nil
}

func (w *Worker) alreadySeen(fp string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictExpired()
	_, ok := w.seen[fp]
	return ok
}

func (w *Worker) markSeen(fp string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[fp] = time.Now()
}

// evictExpired drops fingerprints older than fingerprintTTL. Caller
// holds w.mu.
func (w *Worker) evictExpired() {
	cutoff := time.Now().Add(-w.fingerprintTTL)
	for fp, at := range w.seen {
		if at.Before(cutoff) {
			delete(w.seen, fp)
		}
	}
}

func (w *Worker) propose(ctx context.Context, signal *Signal, bar Bar, fingerprint string) error {
	proposal := capital.Proposal{
		StrategyID:  w.strategy.ID,
		PortfolioID: w.strategy.PortfolioID,
		Symbol:      w.strategy.Symbol,
		Side:        signal.Side,
		Intent:      signal.Intent,
		SignalPrice: bar.Close,
		StopLoss:    signal.StopLoss,
		TakeProfit:  signal.TakeProfit,
		BarCloseTS:  bar.CloseTS,
		Timestamp:   time.Now(),
		Fingerprint: fingerprint,
	}

	route := bus.CapitalRequestRoutingKey(w.strategy.ID)
	reply, err := w.bus.Request(ctx, route, proposal)
	if err != nil {
		return err
	}

	var result capital.Result
	if err := reply.Decode(&result); err != nil {
		return err
	}

	if err := w.states.Upsert(domain.StrategyState{
		StrategyID:         w.strategy.ID,
		LastProcessedBarTS: bar.CloseTS,
		LastFingerprint:    fingerprint,
	}); err != nil {
		w.log.Warn().Err(err).Msg("failed to persist strategy state")
	}
	return nil
}

// recordSuccess resets the consecutive-failure counter.
func (w *Worker) recordSuccess() {
	w.mu.Lock()
	w.consecutiveFailures = 0
	w.mu.Unlock()
}

// recordFailure increments the consecutive-failure counter and halts
// the Worker once maxFailures is reached, emitting
// events.system.strategy_halted (spec §4.B).
func (w *Worker) recordFailure(ctx context.Context, cause error) {
	w.mu.Lock()
	w.consecutiveFailures++
	n := w.consecutiveFailures
	if n >= w.maxFailures {
		w.halted = true
	}
	w.mu.Unlock()

	if n >= w.maxFailures {
		w.log.Error().Err(cause).Int("consecutive_failures", n).Msg("strategy halted after repeated failures")
		if w.eventsMgr != nil {
			w.eventsMgr.Emit(events.StrategyHalted, "worker", map[string]interface{}{
				"strategy_id": w.strategy.ID,
				"reason":      cause.Error(),
				"failures":    n,
			})
		}
	}
}

// onMarketDataDrop emits events.system.market_data_drop when the bus's
// bounded per-subscriber queue discards a stale tick under load (spec
// §5 backpressure).
func (w *Worker) onMarketDataDrop(routingKey string) {
	w.log.Warn().Str("routing_key", routingKey).Msg("market data tick dropped under backpressure")
	if w.eventsMgr != nil {
		w.eventsMgr.Emit(events.MarketDataDrop, "worker", map[string]interface{}{
			"strategy_id": w.strategy.ID,
			"routing_key": routingKey,
		})
	}
}

// Halted reports whether the worker has stopped proposing trades after
// exceeding its consecutive-failure budget.
func (w *Worker) Halted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halted
}
