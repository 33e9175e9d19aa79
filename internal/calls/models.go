package calls

import "time"

// Call represents one inbound or outbound call session.
//
// Identity invariants:
// - CallID is assigned by this system at record creation and never changes.
// - ProviderCallID is whatever the provider currently uses for this call.
//   It may be replaced exactly once, when the provider reports a more
//   authoritative identifier than the one returned at placement time
//   (see Store.ReindexProviderCallID).
//
// NOTE: This is a domain model only. Provider request/response payloads
// belong to internal/telephony, not here.

type Call struct {
	CallID         string `json:"call_id" db:"call_id"`
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`

	Direction Direction `json:"direction" db:"direction"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Status CallStatus `json:"status" db:"status"`

	// Mode is set on outbound calls at initiation and on inbound calls at
	// admission. Notify calls speak InitialMessage once answered and are
	// expected to end; interactive calls start bidirectional listening.
	Mode CallMode `json:"mode,omitempty" db:"mode"`

	// InitialMessage is the text spoken once a notify-mode call is answered.
	InitialMessage string `json:"initial_message,omitempty" db:"initial_message"`

	// ProviderName records which provider adapter owns this call.
	ProviderName string `json:"provider_name" db:"provider_name"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallMode string

const (
	CallModeNotify      CallMode = "notify"
	CallModeInteractive CallMode = "interactive"
)

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
)

// Terminal reports whether s is a final state. Terminal records are never
// resurrected; later events for the same call are dropped after dedup.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// rank orders statuses along the lifecycle so transitions stay monotonic.
// Terminal states share the highest rank.
func (s CallStatus) rank() int {
	switch s {
	case CallStatusInitiated:
		return 0
	case CallStatusRinging:
		return 1
	case CallStatusAnswered:
		return 2
	case CallStatusCompleted, CallStatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from one status to another is legal.
// Forward jumps are allowed (a provider may report answered before the
// ringing callback was delivered), backward moves and exits from terminal
// states are not.
func CanTransition(from, to CallStatus) bool {
	if from.rank() < 0 || to.rank() < 0 {
		return false
	}
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}
