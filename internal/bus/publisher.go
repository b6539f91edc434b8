package bus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aristath/tradecore/internal/errs"
)

// Publish sends payload to exchange with routingKey, wrapped in an
// Envelope carrying correlationID. Commands and requests require
// publisher confirms (spec §4.A); this call blocks for the confirm.
//
// If the broker is unreachable, the publish is buffered (bounded,
// default 10000 per spec §6) and flushed on reconnect in original
// per-topic order; overflow fails fast with errs.KindBusUnavailable.
func (c *Client) Publish(ctx context.Context, exchange, routingKey, correlationID string, payload any) error {
	env, err := NewEnvelope(c.cfg.Source, correlationID, payload)
	if err != nil {
		return fmt.Errorf("bus: encode envelope: %w", err)
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	if len(body) > MaxPayloadBytes {
		return errs.Newf(errs.KindSchemaViolation, "payload %d bytes exceeds %d byte cap", len(body), MaxPayloadBytes)
	}

	ch, err := c.channelSnapshot()
	if err != nil {
		return c.bufferPublish(ctx, exchange, routingKey, body)
	}

	if pubErr := c.publishNow(ctx, ch, exchange, routingKey, body); pubErr != nil {
		return c.bufferPublish(ctx, exchange, routingKey, body)
	}
	return nil
}

func (c *Client) publishNow(ctx context.Context, ch *amqp.Channel, exchange, routingKey string, body []byte) error {
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	if confirm == nil {
		return nil
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("bus: await confirm: %w", err)
	}
	if !ok {
		return errs.New(errs.KindBusUnavailable, "publisher confirm returned nack")
	}
	return nil
}

// bufferPublish enqueues a publish for later delivery when the broker is
// unreachable. Overflow of the bounded buffer fails the publish.
func (c *Client) bufferPublish(ctx context.Context, exchange, routingKey string, body []byte) error {
	done := make(chan error, 1)
	select {
	case c.publishQueue <- pendingPublish{exchange: exchange, routingKey: routingKey, body: body, done: done}:
		return nil
	default:
		return errs.New(errs.KindBusUnavailable, "publish buffer full")
	}
}

// drainPublishQueue flushes buffered publishes once the broker is back,
// preserving per-topic order (spec §8 scenario 4).
func (c *Client) drainPublishQueue() {
	for p := range c.publishQueue {
		for {
			ch, err := c.channelSnapshot()
			if err != nil {
				time.Sleep(200 * time.Millisecond)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = c.publishNow(ctx, ch, p.exchange, p.routingKey, p.body)
			cancel()
			if err == nil {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if p.done != nil {
			close(p.done)
		}
	}
}
