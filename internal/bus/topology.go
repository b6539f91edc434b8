package bus

import amqp "github.com/rabbitmq/amqp091-go"

// Exchange names — the logical namespaces of spec §4.A.
const (
	ExchangeEvents     = "events"
	ExchangeCommands   = "commands"
	ExchangeRequests   = "requests"
	ExchangeResponses  = "responses"
	ExchangeMarketData = "market_data"
	ExchangeDLX        = "dlx"
)

// Routing keys — dotted lowercase hierarchy from spec §6.
const (
	RoutingTradeExecuted = "commands.execute_trade"
	RoutingCancelOrder   = "commands.cancel_order"
	RoutingTradeEvent    = "events.trade_executed"
	RoutingError         = "events.error"
)

// MarketDataRoutingKey builds market_data.<exchange>.<symbol_lower>.
func MarketDataRoutingKey(exchange, symbol string) string {
	return "market_data." + exchange + "." + lower(symbol)
}

// SystemEventRoutingKey builds events.system.<event_type>.
func SystemEventRoutingKey(eventType string) string {
	return "events.system." + eventType
}

// CapitalRequestRoutingKey builds request.capital.allocation.<strategy_id>.
func CapitalRequestRoutingKey(strategyID string) string {
	return "request.capital.allocation." + strategyID
}

// CapitalResponseRoutingKey builds response.capital.allocation.<correlation_id>.
func CapitalResponseRoutingKey(correlationID string) string {
	return "response.capital.allocation." + correlationID
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// declareTopology declares every exchange the core routes through, plus
// the dead-letter exchange. Grounded on
// other_examples/.../Tim275-oms__common-broker-broker.go.go's
// createExchanges/createDLQAndDLX, generalized from OMS's fixed event
// names to the spec's exchange-per-namespace topology.
func declareTopology(ch *amqp.Channel) error {
	topics := []struct {
		name string
		kind string
	}{
		{ExchangeEvents, "topic"},
		{ExchangeCommands, "topic"},
		{ExchangeRequests, "topic"},
		{ExchangeResponses, "topic"},
		{ExchangeMarketData, "topic"},
	}
	for _, t := range topics {
		if err := ch.ExchangeDeclare(t.name, t.kind, true, false, false, false, nil); err != nil {
			return err
		}
	}
	return ch.ExchangeDeclare(ExchangeDLX, "topic", true, false, false, false, nil)
}

// declareQueue declares a durable queue bound to exchange with routingKey,
// with the DLX set as its dead-letter exchange. Exhausted-retry messages
// are republished to the DLX explicitly by Client.deadLetter
// (spec §4.A "Retry and DLQ policy").
func declareQueue(ch *amqp.Channel, queue, exchange, routingKey string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ExchangeDLX,
		"x-dead-letter-routing-key": routingKey,
	})
	if err != nil {
		return amqp.Queue{}, err
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return amqp.Queue{}, err
	}
	return q, nil
}

// declareDLQ declares and binds the queue-specific dead-letter queue that
// mirrors queue, carrying x-death diagnostics (spec §4.A).
func declareDLQ(ch *amqp.Channel, queue, routingKey string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return err
	}
	return ch.QueueBind(dlq, routingKey, ExchangeDLX, false, nil)
}
