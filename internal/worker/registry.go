package worker

import (
	"fmt"

	"github.com/aristath/tradecore/internal/domain"
)

// Factory builds a BaseStrategy implementation for one configured
// domain.Strategy row. Concrete strategies are out of scope here (spec
// §1) — a Factory is how a deployment plugs its own BaseStrategy
// implementations into the Core Engine without this package knowing
// about them.
type Factory func(strategy domain.Strategy) (BaseStrategy, error)

// Registry maps domain.StrategyKind to the Factory that builds it.
// Empty by default; a deployment registers its own strategies before
// starting the supervisor.
type Registry struct {
	factories map[domain.StrategyKind]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.StrategyKind]Factory)}
}

func (r *Registry) Register(kind domain.StrategyKind, f Factory) {
	r.factories[kind] = f
}

func (r *Registry) Build(strategy domain.Strategy) (BaseStrategy, error) {
	f, ok := r.factories[strategy.Kind]
	if !ok {
		return nil, fmt.Errorf("worker: no strategy factory registered for kind %q", strategy.Kind)
	}
	return f(strategy)
}
