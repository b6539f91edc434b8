package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickPayload struct {
	Symbol string `json:"symbol"`
	Price  int    `json:"price"`
}

func TestNewEnvelopeRoundTrips(t *testing.T) {
	env, err := NewEnvelope("worker-1", "corr-1", tickPayload{Symbol: "BTC/USDT", Price: 50000})
	require.NoError(t, err)
	assert.NotEmpty(t, env.MessageID, "expected a generated message id")
	assert.Equal(t, "worker-1", env.Source)
	assert.Equal(t, "corr-1", env.CorrelationID)

	wire, err := env.Marshal()
	require.NoError(t, err)
	decoded, err := Unmarshal(wire)
	require.NoError(t, err)

	var payload tickPayload
	require.NoError(t, decoded.Decode(&payload))
	assert.Equal(t, tickPayload{Symbol: "BTC/USDT", Price: 50000}, payload)
}

func TestEnvelopeExpired(t *testing.T) {
	now := time.Now()
	env, err := NewEnvelope("x", "", tickPayload{})
	require.NoError(t, err)

	assert.False(t, env.Expired(now), "envelope with no deadline should never expire")

	env = env.WithDeadline(now.Add(-time.Second))
	assert.True(t, env.Expired(now), "expected envelope past its deadline to be expired")

	env = env.WithDeadline(now.Add(time.Second))
	assert.False(t, env.Expired(now), "expected envelope before its deadline to not be expired")
}
