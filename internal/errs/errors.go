// Package errs defines the error taxonomy from spec §7. Errors never
// cross the bus as opaque exceptions: every outbound message that could
// carry an error carries a typed Result discriminator instead (see
// internal/capital's denial responses).
package errs

import "fmt"

// Kind is one of the reason codes named in spec §7.
type Kind string

const (
	// Transient — recovered locally via retry with backoff; surfaced only
	// if the retry budget is exhausted.
	KindBusUnavailable Kind = "bus_unavailable"
	KindExchangeTimeout Kind = "exchange_timeout"
	KindRateLimited     Kind = "rate_limited"

	// Domain denial — returned to the caller, never retried without new input.
	KindInsufficientCapital Kind = "insufficient_capital"
	KindRiskLimitExceeded   Kind = "risk_limit_exceeded"
	KindStaleProposal       Kind = "stale_proposal"
	KindDeadlineExceeded    Kind = "deadline_exceeded"
	KindDuplicateProposal   Kind = "duplicate_proposal"
	KindInternalError       Kind = "internal_error"

	// Fatal per-message — routed directly to the DLQ, not retried.
	KindMalformedEnvelope Kind = "malformed_envelope"
	KindUnknownRoutingKey Kind = "unknown_routing_key"
	KindSchemaViolation   Kind = "schema_violation"

	// System-level — emitted as events.system.*; require operator attention.
	KindExchangeUnavailable  Kind = "exchange_unavailable"
	KindStrategyHalted       Kind = "strategy_halted"
	KindReconciliationAlert  Kind = "reconciliation_alert"
)

// Error is a tagged value carrying a reason code and context. It is the
// only form in which failures propagate across module boundaries inside
// a component; it never itself crosses the bus (the bus carries Result
// discriminators built from its Kind — see internal/capital.Result).
type Error struct {
	Kind    Kind
	Message string
	Context map[string]string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// New builds an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithContext attaches diagnostic context and returns the receiver.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether Kind belongs to the Transient category.
func (k Kind) Retryable() bool {
	switch k {
	case KindBusUnavailable, KindExchangeTimeout, KindRateLimited:
		return true
	}
	return false
}

// Fatal reports whether Kind belongs to the Fatal-per-message category
// (routed directly to the DLQ, never retried).
func (k Kind) Fatal() bool {
	switch k {
	case KindMalformedEnvelope, KindUnknownRoutingKey, KindSchemaViolation:
		return true
	}
	return false
}

// SystemLevel reports whether Kind requires an events.system.* emission.
func (k Kind) SystemLevel() bool {
	switch k {
	case KindExchangeUnavailable, KindStrategyHalted, KindReconciliationAlert:
		return true
	}
	return false
}
