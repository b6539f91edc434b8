package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the message wrapper from spec §4.A / §6. payload is kept as
// raw JSON so handlers decode into their own concrete type; serialize then
// deserialize is required to be the identity (spec §8 round-trip law).
type Envelope struct {
	MessageID     string          `json:"message_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// MaxPayloadBytes is the spec §6 cap; larger payloads must use references.
const MaxPayloadBytes = 128 * 1024

// NewEnvelope builds an Envelope around payload, JSON-encoding it and
// assigning a fresh UUIDv4 message id.
func NewEnvelope(source, correlationID string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		MessageID:     uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Source:        source,
		CorrelationID: correlationID,
		Payload:       body,
	}, nil
}

// WithDeadline attaches an absolute deadline (spec §5 "Cancellation &
// timeouts") and returns the receiver for chaining.
func (e Envelope) WithDeadline(d time.Time) Envelope {
	e.Deadline = &d
	return e
}

// Expired reports whether the envelope's deadline, if any, has passed.
func (e Envelope) Expired(now time.Time) bool {
	return e.Deadline != nil && now.After(*e.Deadline)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Marshal serializes the envelope to wire bytes.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes wire bytes into an Envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
