package bus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SubscribeOpts configures one subscription.
type SubscribeOpts struct {
	Queue      string // durable queue name; one per subscriber keeps per-stream ordering (spec §4.A)
	Exchange   string
	RoutingKey string
	Prefetch   int // defaults to cfg.PrefetchCommands if zero

	// MaxQueueDepth bounds an application-level buffer sitting in front
	// of handler. Zero (the default, used by commands/requests/events)
	// means deliveries are handled directly off the AMQP channel with no
	// extra buffering. A positive value enables drop-oldest-on-overflow
	// backpressure (spec §5): once the buffer is full, the oldest
	// buffered delivery is acked and discarded to admit the newest,
	// instead of blocking and starving the channel's prefetch window.
	// Intended for market_data subscribers, where a stale tick is worth
	// less than falling behind.
	MaxQueueDepth int
	// OnDrop, if set, is invoked with the routing key of every delivery
	// discarded by the MaxQueueDepth buffer above.
	OnDrop func(routingKey string)
}

// Subscribe registers handler against a durable queue bound to
// exchange/routingKey. On handler failure the message is retried with
// exponential backoff up to cfg.MaxRetries; once exhausted it is routed
// to the DLX carrying x-first-death-reason / x-death-count /
// x-original-routing-key (spec §4.A "Retry and DLQ policy"). Grounded on
// other_examples/.../Tim275-oms__common-broker-broker.go.go's
// HandleRetry, reworked to publish the dead-lettered copy directly
// (rather than relying on RabbitMQ's native x-death) so the spec's exact
// header names are guaranteed present.
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOpts, handler Handler) error {
	prefetch := opts.Prefetch
	if prefetch == 0 {
		prefetch = c.cfg.PrefetchCommands
	}
	sub := subscription{
		exchange:      opts.Exchange,
		routingKey:    opts.RoutingKey,
		queue:         opts.Queue,
		prefetch:      prefetch,
		handler:       handler,
		maxQueueDepth: opts.MaxQueueDepth,
		onDrop:        opts.OnDrop,
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	return c.startConsuming(sub)
}

func (c *Client) startConsuming(sub subscription) error {
	ch, err := c.channelSnapshot()
	if err != nil {
		return err
	}

	if _, err := declareQueue(ch, sub.queue, sub.exchange, sub.routingKey); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", sub.queue, err)
	}
	if err := declareDLQ(ch, sub.queue, sub.routingKey); err != nil {
		return fmt.Errorf("bus: declare dlq for %s: %w", sub.queue, err)
	}
	if err := ch.Qos(sub.prefetch, 0, false); err != nil {
		return fmt.Errorf("bus: set qos: %w", err)
	}

	deliveries, err := ch.Consume(sub.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: consume %s: %w", sub.queue, err)
	}

	go c.consumeLoop(sub, deliveries)
	return nil
}

func (c *Client) consumeLoop(sub subscription, deliveries <-chan amqp.Delivery) {
	if sub.maxQueueDepth <= 0 {
		for d := range deliveries {
			c.handleDelivery(sub, d)
		}
		return
	}

	buf := make(chan amqp.Delivery, sub.maxQueueDepth)
	go func() {
		for d := range buf {
			c.handleDelivery(sub, d)
		}
	}()
	for d := range deliveries {
		c.enqueueOrDropOldest(sub, buf, d)
	}
	close(buf)
}

// enqueueOrDropOldest buffers d, or, if buf is already at MaxQueueDepth,
// acks and discards the oldest buffered delivery to make room for d
// (spec §5 "bounded per-subscriber queue, drop-oldest-on-overflow").
func (c *Client) enqueueOrDropOldest(sub subscription, buf chan amqp.Delivery, d amqp.Delivery) {
	select {
	case buf <- d:
		return
	default:
	}

	select {
	case old := <-buf:
		old.Ack(false)
		c.log.Warn().Str("queue", sub.queue).Str("routing_key", old.RoutingKey).Msg("market data queue full, dropping oldest")
		if sub.onDrop != nil {
			sub.onDrop(old.RoutingKey)
		}
	default:
	}

	select {
	case buf <- d:
	default:
		// buf refilled between the drain above and here; drop d itself
		// rather than block the AMQP delivery channel.
		d.Ack(false)
		if sub.onDrop != nil {
			sub.onDrop(d.RoutingKey)
		}
	}
}

func (c *Client) handleDelivery(sub subscription, d amqp.Delivery) {
	env, err := Unmarshal(d.Body)
	if err != nil {
		c.log.Error().Err(err).Str("queue", sub.queue).Msg("malformed envelope, routing to DLQ")
		c.deadLetter(sub, d, "malformed_envelope")
		return
	}

	ctx := context.Background()
	if env.Expired(time.Now()) {
		d.Ack(false)
		return
	}

	if err := sub.handler(ctx, env); err != nil {
		c.retryOrDeadLetter(sub, d, err)
		return
	}
	d.Ack(false)
}

func (c *Client) retryOrDeadLetter(sub subscription, d amqp.Delivery, handlerErr error) {
	retryCount := headerInt(d.Headers, "x-retry-count")
	retryCount++

	if retryCount > c.cfg.MaxRetries {
		c.log.Warn().Str("queue", sub.queue).Int("retries", retryCount-1).Err(handlerErr).Msg("retry budget exhausted, dead-lettering")
		c.deadLetter(sub, d, handlerErr.Error())
		d.Ack(false)
		return
	}

	backoff := c.backoffFor(retryCount)
	time.Sleep(backoff)

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-retry-count"] = int64(retryCount)

	ch, err := c.channelSnapshot()
	if err == nil {
		_ = ch.PublishWithContext(context.Background(), d.Exchange, d.RoutingKey, false, false, amqp.Publishing{
			ContentType:  d.ContentType,
			Headers:      headers,
			Body:         d.Body,
			DeliveryMode: amqp.Persistent,
		})
	}
	d.Ack(false)
}

func (c *Client) backoffFor(attempt int) time.Duration {
	if attempt-1 < len(c.cfg.RetryBackoff) {
		return c.cfg.RetryBackoff[attempt-1]
	}
	if len(c.cfg.RetryBackoff) > 0 {
		return c.cfg.RetryBackoff[len(c.cfg.RetryBackoff)-1]
	}
	return time.Second
}

// deadLetter republishes d to the DLX carrying the spec §4.A diagnostic
// headers, independent of RabbitMQ's native x-death bookkeeping.
func (c *Client) deadLetter(sub subscription, d amqp.Delivery, reason string) {
	ch, err := c.channelSnapshot()
	if err != nil {
		c.log.Error().Err(err).Msg("cannot reach dlx, message dropped")
		return
	}
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-first-death-reason"] = reason
	headers["x-death-count"] = int64(headerInt(d.Headers, "x-retry-count") + 1)
	headers["x-original-routing-key"] = d.RoutingKey

	_ = ch.PublishWithContext(context.Background(), ExchangeDLX, d.RoutingKey, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		Headers:      headers,
		Body:         d.Body,
		DeliveryMode: amqp.Persistent,
	})
}

func headerInt(t amqp.Table, key string) int {
	if t == nil {
		return 0
	}
	switch v := t[key].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
