package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarketDataRoutingKeyLowercasesSymbol(t *testing.T) {
	assert.Equal(t, "market_data.tradernet.btc/usdt", MarketDataRoutingKey("tradernet", "BTC/USDT"))
}

func TestSystemEventRoutingKey(t *testing.T) {
	assert.Equal(t, "events.system.strategy_halted", SystemEventRoutingKey("strategy_halted"))
}

func TestCapitalRequestAndResponseRoutingKeys(t *testing.T) {
	assert.Equal(t, "request.capital.allocation.strat-1", CapitalRequestRoutingKey("strat-1"))
	assert.Equal(t, "response.capital.allocation.corr-1", CapitalResponseRoutingKey("corr-1"))
}
