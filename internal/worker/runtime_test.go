package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/domain"
)

func newTestWorker(maxFailures int, ttl time.Duration) *Worker {
	return &Worker{
		strategy:       domain.Strategy{ID: "strat-1", Symbol: "BTC/USDT"},
		log:            zerolog.Nop(),
		maxFailures:    maxFailures,
		fingerprintTTL: ttl,
		seen:           make(map[string]time.Time),
	}
}

func TestAlreadySeenDedupesFingerprint(t *testing.T) {
	w := newTestWorker(5, time.Minute)

	require.False(t, w.alreadySeen("fp-1"), "expected first sighting to be unseen")
	w.markSeen("fp-1")
	require.True(t, w.alreadySeen("fp-1"), "expected fingerprint to be seen after markSeen")
}

func TestAlreadySeenEvictsExpiredFingerprints(t *testing.T) {
	w := newTestWorker(5, time.Millisecond)
	w.markSeen("fp-1")

	time.Sleep(5 * time.Millisecond)
	assert.False(t, w.alreadySeen("fp-1"), "expected fingerprint to have expired past its TTL")
}

func TestRecordFailureHaltsAfterMaxConsecutiveFailures(t *testing.T) {
	w := newTestWorker(3, time.Minute)

	for i := 0; i < 2; i++ {
		w.recordFailure(context.Background(), errors.New("boom"))
		require.False(t, w.Halted(), "worker halted early after %d failures", i+1)
	}

	w.recordFailure(context.Background(), errors.New("boom"))
	assert.True(t, w.Halted(), "expected worker to halt after reaching maxFailures")
}

func TestRecordSuccessResetsFailureCount(t *testing.T) {
	w := newTestWorker(2, time.Minute)

	w.recordFailure(context.Background(), errors.New("boom"))
	w.recordSuccess()
	w.recordFailure(context.Background(), errors.New("boom"))

	assert.False(t, w.Halted(), "expected recordSuccess to reset the consecutive-failure counter")
}
