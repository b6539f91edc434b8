package exchange

import (
	"context"
	"time"
)

// BreakerProbeJob implements internal/scheduler.Job, driving the circuit
// breaker's half-open recovery check on a cron schedule rather than
// inline polling (spec §4.D "circuit breaker ... scheduled probes").
type BreakerProbeJob struct {
	connector *Connector
}

func NewBreakerProbeJob(connector *Connector) *BreakerProbeJob {
	return &BreakerProbeJob{connector: connector}
}

func (j *BreakerProbeJob) Name() string { return "exchange_circuit_breaker_probe" }

func (j *BreakerProbeJob) Run() error {
	if j.connector.Breaker().State() != CircuitOpen {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !j.connector.Breaker().Allow() {
		return nil
	}
	_, err := j.connector.Adapter().GetBalance(ctx)
	if err != nil {
		j.connector.emitBreakerOpen(j.connector.Breaker().RecordFailure())
		return err
	}
	j.connector.emitBreakerClose(j.connector.Breaker().RecordSuccess())
	return nil
}
