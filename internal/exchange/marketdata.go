package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"

	"github.com/aristath/tradecore/internal/bus"
	"github.com/aristath/tradecore/internal/events"
)

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// reconnect tuning, grounded on
// internal/clients/tradernet/websocket_client.go's baseReconnectDelay /
// maxReconnectDelay / maxReconnectAttempts constants.
const (
	wsDialTimeout      = 30 * time.Second
	wsBaseReconnectGap = 5 * time.Second
	wsMaxReconnectGap  = 5 * time.Minute
)

// WSStream is a WebSocket-backed market-data feed implementing the
// SubscribeMarketData half of Adapter. Reconnects with capped backoff
// and flags a backfill gap (there is no in-stream replay) by emitting
// events.system.ws_backfill_gap before resubscribing.
type WSStream struct {
	url       string
	busClient *bus.Client
	eventsMgr *events.Manager
	cache     *PriceCache
	log       zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopped  bool
	stopChan chan struct{}
}

func NewWSStream(url string, busClient *bus.Client, eventsMgr *events.Manager, cache *PriceCache, log zerolog.Logger) *WSStream {
	return &WSStream{
		url:       url,
		busClient: busClient,
		eventsMgr: eventsMgr,
		cache:     cache,
		log:       log.With().Str("component", "ws_stream").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// wireTick is the wire shape of one inbound tick message.
type wireTick struct {
	Symbol string  `json:"symbol"`
	Price  string  `json:"price"`
	Volume string  `json:"volume"`
	TS     int64   `json:"ts"` // unix millis
}

// Start dials the feed and subscribes symbols, invoking handler for
// every tick and publishing market_data.<exchange>.<symbol> on the bus.
func (w *WSStream) Start(ctx context.Context, exchangeName string, symbols []string, handler TickHandler) error {
	if err := w.connect(ctx, symbols); err != nil {
		go w.reconnectLoop(ctx, exchangeName, symbols, handler, true, time.Now())
		return err
	}
	go w.readLoop(ctx, exchangeName, symbols, handler)
	return nil
}

func (w *WSStream) connect(ctx context.Context, symbols []string) error {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, w.url, nil)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	sub, err := json.Marshal(symbols)
	if err == nil {
		writeCtx, wcancel := context.WithTimeout(ctx, 10*time.Second)
		_ = conn.Write(writeCtx, websocket.MessageText, sub)
		wcancel()
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return nil
}

func (w *WSStream) readLoop(ctx context.Context, exchangeName string, symbols []string, handler TickHandler) {
	for {
		w.mu.Lock()
		conn := w.conn
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			w.log.Warn().Err(err).Msg("ws read failed, reconnecting")
			go w.reconnectLoop(ctx, exchangeName, symbols, handler, false, time.Now())
			return
		}

		var t wireTick
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		w.emit(ctx, exchangeName, t, handler)
	}
}

func (w *WSStream) emit(ctx context.Context, exchangeName string, t wireTick, handler TickHandler) {
	price, err := parseDecimal(t.Price)
	if err != nil {
		return
	}
	volume, _ := parseDecimal(t.Volume)

	tick := Tick{Symbol: t.Symbol, CloseTS: time.UnixMilli(t.TS), Price: price, Volume: volume}
	w.cache.Set(t.Symbol, price)
	handler(ctx, tick)

	if w.busClient != nil {
		routingKey := bus.MarketDataRoutingKey(exchangeName, t.Symbol)
		_ = w.busClient.Publish(ctx, bus.ExchangeMarketData, routingKey, "", tick)
	}
}

// reconnectLoop retries with capped exponential backoff. gapAlreadySignaled
// is true when Start's initial dial failed, where no stream was ever up,
// so no backfill-gap event is emitted. gapStart is when the disconnect
// was first observed, carried through to the eventual
// events.system.ws_reconnected emission so its payload holds the gap
// interval (spec §4.D). No Worker or Reconciler subscribes to that event.
func (w *WSStream) reconnectLoop(ctx context.Context, exchangeName string, symbols []string, handler TickHandler, gapAlreadySignaled bool, gapStart time.Time) {
	if !gapAlreadySignaled && w.eventsMgr != nil {
		w.eventsMgr.Emit(events.WSBackfillGap, "exchange_connector", map[string]interface{}{"exchange": exchangeName})
	}

	delay := wsBaseReconnectGap
	for {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := w.connect(ctx, symbols); err != nil {
			delay *= 2
			if delay > wsMaxReconnectGap {
				delay = wsMaxReconnectGap
			}
			continue
		}
		if w.eventsMgr != nil {
			gapEnd := time.Now()
			w.eventsMgr.Emit(events.WSReconnected, "exchange_connector", map[string]interface{}{
				"exchange":     exchangeName,
				"gap_start":    gapStart,
				"gap_end":      gapEnd,
				"gap_duration": gapEnd.Sub(gapStart).String(),
			})
		}
		go w.readLoop(ctx, exchangeName, symbols, handler)
		return
	}
}

// Stop closes the connection and halts reconnection.
func (w *WSStream) Stop() error {
	w.mu.Lock()
	w.stopped = true
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}
