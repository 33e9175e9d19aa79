package telephony

import (
	"context"
	"net/http"
	"time"
)

// Provider is the capability interface implemented once per telephony
// vendor. The lifecycle manager selects a Provider at initialization time
// and pins it per call; it never inspects the concrete type.
//
// Rules:
// - No provider SDK or HTTP calls outside telephony adapters.
// - Keep request/response types provider-agnostic.
// - Adapters make no business decisions; policy and state live in
//   internal/lifecycle.
type Provider interface {
	Name() string

	// VerifyWebhook authenticates an incoming webhook request. It must be
	// called before ParseWebhookEvent consumes the body.
	VerifyWebhook(r *http.Request) error

	// ParseWebhookEvent turns a raw provider payload into zero or more
	// normalized events plus the HTTP status the webhook responder should
	// return to the provider.
	ParseWebhookEvent(r *http.Request) ([]Event, int, error)

	InitiateCall(ctx context.Context, req InitiateCallRequest) (InitiateCallResult, error)
	HangupCall(ctx context.Context, req HangupRequest) error
	PlayTTS(ctx context.Context, req PlayTTSRequest) error
	StartListening(ctx context.Context, req ListenRequest) error
	StopListening(ctx context.Context, req ListenRequest) error
}

// EventType values are the normalized call state changes all adapters map
// their vendor statuses onto.
type EventType string

const (
	EventCallInitiated EventType = "call.initiated"
	EventCallRinging   EventType = "call.ringing"
	EventCallAnswered  EventType = "call.answered"
	EventCallCompleted EventType = "call.completed"
	EventCallFailed    EventType = "call.failed"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Event is a normalized webhook event. Provider-initiated events usually
// carry only ProviderCallID; CallID is set when the provider echoes back the
// internal id we handed it at placement time.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	CallID         string    `json:"call_id,omitempty"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	Direction      string    `json:"direction,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type InitiateCallRequest struct {
	// CallID is the internal id; adapters thread it through callback URLs
	// so later events can carry it back.
	CallID string `json:"call_id"`

	To   string `json:"to"`
	From string `json:"from"`

	// CallbackBaseURL is the externally reachable base the provider should
	// deliver webhooks to.
	CallbackBaseURL string `json:"callback_base_url"`
}

// InitiateCallResult reports the identifier the provider assigned at request
// time. This id is not guaranteed to be the one used in later webhook
// events; identity reconciliation happens in the lifecycle manager.
type InitiateCallResult struct {
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status"`
}

type HangupRequest struct {
	ProviderCallID string `json:"provider_call_id"`
	Reason         string `json:"reason"`
}

type PlayTTSRequest struct {
	ProviderCallID string `json:"provider_call_id"`
	Text           string `json:"text"`
}

type ListenRequest struct {
	ProviderCallID string `json:"provider_call_id"`

	// StreamURL is where bidirectional audio should be sent; adapters that
	// derive it themselves may ignore it.
	StreamURL string `json:"stream_url,omitempty"`
}
