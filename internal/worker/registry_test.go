package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/domain"
)

type stubStrategy struct{}

func (stubStrategy) RequiredSubscriptions() []string                   { return nil }
func (stubStrategy) PopulateIndicators(frame []Bar) map[string]float64 { return nil }
func (stubStrategy) OnData(ctx context.Context, frame []Bar, indicators map[string]float64) *Signal {
	return nil
}
func (stubStrategy) OnStart(ctx context.Context) error { return nil }
func (stubStrategy) OnStop(ctx context.Context) error  { return nil }

func TestRegistryBuildsRegisteredKind(t *testing.T) {
	r := NewRegistry()
	r.Register("dummy", func(s domain.Strategy) (BaseStrategy, error) {
		return stubStrategy{}, nil
	})

	impl, err := r.Build(domain.Strategy{Kind: "dummy"})
	require.NoError(t, err)
	_, ok := impl.(stubStrategy)
	assert.True(t, ok, "Build() returned %T, want stubStrategy", impl)
}

func TestRegistryBuildUnknownKindErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build(domain.Strategy{Kind: "unregistered"})
	assert.Error(t, err, "expected an error building an unregistered strategy kind")
}
