package events

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestEmitWithoutBusDoesNotPanic(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	m.Emit(StrategyHalted, "worker", map[string]interface{}{"strategy_id": "strat-1"})
}

func TestEmitErrorWrapsErrAndContext(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	m.EmitError("connector", errors.New("boom"), map[string]interface{}{"trade_id": "trade-1"})
}
