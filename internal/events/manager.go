package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/bus"
)

// EventType names a system event published on the events exchange under
// events.system.<type> (spec §4.A, §6).
type EventType string

const (
	StrategyHalted      EventType = "strategy_halted"
	WSReconnected       EventType = "ws_reconnected"
	WSBackfillGap       EventType = "ws_backfill_gap"
	CircuitBreakerOpen  EventType = "exchange_circuit_open"
	CircuitBreakerClose EventType = "exchange_circuit_close"
	ReconciliationAlert EventType = "reconciliation_alert"
	TradeExecuted       EventType = "trade_executed"
	ErrorOccurred       EventType = "error_occurred"
	MarketDataDrop      EventType = "market_data_drop"
)

// Event is the payload carried inside a bus.Envelope for every
// events.system.* message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

// Manager emits system events onto the bus, logging alongside so every
// emission is visible without a subscriber attached (matches the
// teacher's original log-only Emit, now also fanning out over the bus
// fabric built in internal/bus).
type Manager struct {
	bus *bus.Client
	log zerolog.Logger
}

func NewManager(busClient *bus.Client, log zerolog.Logger) *Manager {
	return &Manager{
		bus: busClient,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Emit publishes eventType on events.system.<type> and logs locally.
// Bus unavailability never blocks the caller's trading-critical path;
// a failed publish is logged and dropped rather than retried inline.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		Interface("data", data).
		Msg("event emitted")

	if m.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	routingKey := bus.SystemEventRoutingKey(string(eventType))
	if err := m.bus.Publish(ctx, bus.ExchangeEvents, routingKey, "", event); err != nil {
		m.log.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish system event")
	}
}

// EmitError emits an error_occurred event with the error and context.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
