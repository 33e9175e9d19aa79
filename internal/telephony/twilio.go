package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioProvider talks to the Twilio voice REST API directly. No SDK: the
// adapter boundary only needs call creation, call updates and webhook
// verification, and keeping it raw avoids dragging a vendor client into the
// dependency graph.

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// WebhookBaseURL is the public base Twilio delivers webhooks to. It is
	// needed to reconstruct the signed URL during webhook verification.
	WebhookBaseURL string

	// APIBaseURL overrides the Twilio endpoint, for tests.
	APIBaseURL string

	HTTPClient *http.Client
}

type TwilioProvider struct {
	cfg  TwilioConfig
	http *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.twilio.com"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &TwilioProvider{cfg: cfg, http: hc}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) callsURL(sid string) string {
	base := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls", p.cfg.APIBaseURL, p.cfg.AccountSID)
	if sid == "" {
		return base + ".json"
	}
	return base + "/" + url.PathEscape(sid) + ".json"
}

func (p *TwilioProvider) InitiateCall(ctx context.Context, req InitiateCallRequest) (InitiateCallResult, error) {
	if req.To == "" || req.From == "" {
		return InitiateCallResult{}, errors.New("telephony: to and from are required")
	}
	if req.CallbackBaseURL == "" {
		return InitiateCallResult{}, errors.New("telephony: callback base url is required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.CallbackBaseURL+"/webhooks/twilio/voice?call_id="+url.QueryEscape(req.CallID))
	form.Set("Method", "POST")
	form.Set("StatusCallback", req.CallbackBaseURL+"/webhooks/twilio/events?call_id="+url.QueryEscape(req.CallID))
	form.Set("StatusCallbackMethod", "POST")
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", ev)
	}

	var out struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := p.post(ctx, p.callsURL(""), form, &out); err != nil {
		return InitiateCallResult{}, err
	}
	return InitiateCallResult{ProviderCallID: out.Sid, Status: out.Status}, nil
}

func (p *TwilioProvider) HangupCall(ctx context.Context, req HangupRequest) error {
	if req.ProviderCallID == "" {
		return errors.New("telephony: provider call id required")
	}
	form := url.Values{}
	form.Set("Status", "completed")
	return p.post(ctx, p.callsURL(req.ProviderCallID), form, nil)
}

func (p *TwilioProvider) PlayTTS(ctx context.Context, req PlayTTSRequest) error {
	if req.ProviderCallID == "" || req.Text == "" {
		return errors.New("telephony: provider call id and text required")
	}
	twiml, err := SayTwiML(req.Text)
	if err != nil {
		return err
	}
	return p.updateTwiML(ctx, req.ProviderCallID, twiml)
}

const streamName = "agent-audio"

func (p *TwilioProvider) StartListening(ctx context.Context, req ListenRequest) error {
	if req.ProviderCallID == "" {
		return errors.New("telephony: provider call id required")
	}
	if req.StreamURL == "" {
		return errors.New("telephony: stream url required")
	}
	twiml, err := startStreamTwiML(streamName, req.StreamURL)
	if err != nil {
		return err
	}
	return p.updateTwiML(ctx, req.ProviderCallID, twiml)
}

func (p *TwilioProvider) StopListening(ctx context.Context, req ListenRequest) error {
	if req.ProviderCallID == "" {
		return errors.New("telephony: provider call id required")
	}
	twiml, err := stopStreamTwiML(streamName)
	if err != nil {
		return err
	}
	return p.updateTwiML(ctx, req.ProviderCallID, twiml)
}

func (p *TwilioProvider) updateTwiML(ctx context.Context, sid, twiml string) error {
	form := url.Values{}
	form.Set("Twiml", twiml)
	return p.post(ctx, p.callsURL(sid), form, nil)
}

func (p *TwilioProvider) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("telephony: twilio error %d (code %d): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("telephony: twilio error %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("telephony: twilio response decode: %w", err)
		}
	}
	return nil
}
