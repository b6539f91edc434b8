package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/errs"
)

// Config mirrors the bus.* options enumerated in spec §6.
type Config struct {
	URL                string
	Source             string // this component's tag, stamped into every Envelope
	PrefetchCommands   int
	PrefetchMarketData int
	MaxRetries         int
	RetryBackoff       []time.Duration
	PublishBuffer      int
	RequestTimeout     time.Duration
	MaxReconnectWait   time.Duration
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig(url, source string) Config {
	return Config{
		URL:                url,
		Source:             source,
		PrefetchCommands:   10,
		PrefetchMarketData: 100,
		MaxRetries:         3,
		RetryBackoff:       []time.Duration{100 * time.Millisecond, time.Second, 5 * time.Second},
		PublishBuffer:      10000,
		RequestTimeout:     5 * time.Second,
		MaxReconnectWait:   30 * time.Second,
	}
}

// Client is the typed pub/sub and request/response front door described
// in spec §4.A. It owns one AMQP connection, reconnects transparently on
// disconnect, re-declares topology, and resumes subscriptions. Grounded
// on other_examples/.../Tim275-oms__common-broker-broker.go.go's
// Connect/createExchanges/createDLQAndDLX, generalized into a long-lived
// client that survives reconnects instead of a one-shot helper.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	publishQueue chan pendingPublish
	subs         []subscription
	replyQueue   string
	replyWaiters map[string]chan Envelope
	replyMu      sync.Mutex
	notifyClose  chan *amqp.Error
}

type pendingPublish struct {
	exchange   string
	routingKey string
	body       []byte
	done       chan error
}

type subscription struct {
	exchange      string
	routingKey    string
	queue         string
	prefetch      int
	handler       Handler
	maxQueueDepth int
	onDrop        func(routingKey string)
}

// Handler processes one delivered Envelope. Returning a nil error acks
// the message; returning an error triggers the retry/DLQ policy.
type Handler func(ctx context.Context, env Envelope) error

// New constructs a Client. Connect must be called before Publish/Subscribe.
func New(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:          cfg,
		log:          log.With().Str("component", "bus").Str("source", cfg.Source).Logger(),
		publishQueue: make(chan pendingPublish, cfg.PublishBuffer),
		replyWaiters: make(map[string]chan Envelope),
	}
}

// Connect dials the broker, declares topology, and starts the background
// publish-buffer drainer and reconnect watcher.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(); err != nil {
		return err
	}
	go c.watchConnection()
	go c.drainPublishQueue()
	return nil
}

func (c *Client) dial() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("bus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("bus: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bus: enable publisher confirms: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bus: declare topology: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.Unlock()

	c.log.Info().Msg("connected to broker")
	return nil
}

// watchConnection reconnects with exponential backoff (capped at
// MaxReconnectWait) on disconnect, re-declaring topology and resuming
// every previously registered subscription (spec §4.A "Failure modes").
func (c *Client) watchConnection() {
	for {
		c.mu.Lock()
		notify := c.notifyClose
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		err, ok := <-notify
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if !ok {
			continue
		}
		c.log.Warn().Err(err).Msg("broker connection lost, reconnecting")

		backoff := 100 * time.Millisecond
		for {
			if err := c.dial(); err == nil {
				break
			}
			time.Sleep(backoff)
			backoff *= 2
			if backoff > c.cfg.MaxReconnectWait {
				backoff = c.cfg.MaxReconnectWait
			}
		}
		c.resubscribeAll()
	}
}

func (c *Client) resubscribeAll() {
	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()
	for _, s := range subs {
		if err := c.startConsuming(s); err != nil {
			c.log.Error().Err(err).Str("queue", s.queue).Msg("failed to resume subscription")
		}
	}
}

// Close shuts down the client, draining no further publishes.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// channelSnapshot returns the current channel, or errs.KindBusUnavailable
// if not connected.
func (c *Client) channelSnapshot() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, errs.New(errs.KindBusUnavailable, "not connected")
	}
	return c.channel, nil
}
