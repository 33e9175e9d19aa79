package telephony

import (
	"context"
	"errors"
	"net/http"
)

// SIPProvider is a stub adapter for a direct SIP trunk integration.
//
// Planned shape:
// - Inbound INVITEs arrive through a SIP stack and are translated into the
//   same normalized Events the Twilio adapter emits.
// - Outbound placement, hangup and media control go over the trunk's call
//   control API.
//
// IMPORTANT: keep this adapter free of business logic; it only translates
// boundary events into internal types.
type SIPProvider struct{}

func NewSIPProvider() *SIPProvider { return &SIPProvider{} }

var errSIPNotImplemented = errors.New("telephony: sip adapter not implemented")

func (p *SIPProvider) Name() string { return "sip" }

func (p *SIPProvider) VerifyWebhook(r *http.Request) error { return errSIPNotImplemented }

func (p *SIPProvider) ParseWebhookEvent(r *http.Request) ([]Event, int, error) {
	return nil, http.StatusNotImplemented, errSIPNotImplemented
}

func (p *SIPProvider) InitiateCall(ctx context.Context, req InitiateCallRequest) (InitiateCallResult, error) {
	return InitiateCallResult{}, errSIPNotImplemented
}

func (p *SIPProvider) HangupCall(ctx context.Context, req HangupRequest) error {
	return errSIPNotImplemented
}

func (p *SIPProvider) PlayTTS(ctx context.Context, req PlayTTSRequest) error {
	return errSIPNotImplemented
}

func (p *SIPProvider) StartListening(ctx context.Context, req ListenRequest) error {
	return errSIPNotImplemented
}

func (p *SIPProvider) StopListening(ctx context.Context, req ListenRequest) error {
	return errSIPNotImplemented
}
