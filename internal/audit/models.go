package audit

import "time"

// Event is an immutable, append-only operational audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit logging is best-effort; critical call flows never block on it.
//
// Policy rejections are recorded as their own type so they stay
// distinguishable from provider failures in operational review.

type Event struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	Type EventType `json:"type" db:"type"`

	CallID         string `json:"call_id,omitempty" db:"call_id"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	ProviderName   string `json:"provider_name,omitempty" db:"provider_name"`

	From string `json:"from,omitempty" db:"from_number"`
	To   string `json:"to,omitempty" db:"to_number"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallInitiated   EventType = "call_initiated"
	EventTypeInboundAccepted EventType = "inbound_accepted"
	EventTypeInboundRejected EventType = "inbound_rejected"
	EventTypeCallHangup      EventType = "call_hangup"
	EventTypeProviderFailure EventType = "provider_failure"
)
