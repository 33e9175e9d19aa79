package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Webhook side of the Twilio adapter: signature verification and
// normalization of voice webhooks (both the inbound voice request and status
// callbacks) into Events.
//
// Twilio sends application/x-www-form-urlencoded and signs requests with
// X-Twilio-Signature: base64(HMAC-SHA1(auth_token, url + sorted(k+v...))).

const headerTwilioSignature = "X-Twilio-Signature"

func (p *TwilioProvider) VerifyWebhook(r *http.Request) error {
	sig := r.Header.Get(headerTwilioSignature)
	if sig == "" {
		return errors.New("telephony: missing twilio signature")
	}
	if p.cfg.WebhookBaseURL == "" {
		return errors.New("telephony: webhook base url not configured")
	}
	if err := r.ParseForm(); err != nil {
		return err
	}

	signed := p.cfg.WebhookBaseURL + r.URL.RequestURI()

	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(signed)
	for _, k := range keys {
		for _, v := range r.PostForm[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(p.cfg.AuthToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errors.New("telephony: twilio signature mismatch")
	}
	return nil
}

// ParseWebhookEvent maps a Twilio voice webhook to at most one normalized
// event. Unrecognized CallStatus values yield zero events with a 200 so
// Twilio does not retry them.
func (p *TwilioProvider) ParseWebhookEvent(r *http.Request) ([]Event, int, error) {
	if err := r.ParseForm(); err != nil {
		return nil, http.StatusBadRequest, err
	}

	callSid := r.PostFormValue("CallSid")
	if callSid == "" {
		return nil, http.StatusBadRequest, errors.New("telephony: CallSid missing")
	}

	evType, ok := twilioEventType(r.PostFormValue("CallStatus"))
	if !ok {
		return nil, http.StatusOK, nil
	}

	ev := Event{
		ID:             twilioEventID(callSid, r.PostFormValue("SequenceNumber"), r.PostFormValue("CallStatus")),
		Type:           evType,
		CallID:         r.URL.Query().Get("call_id"),
		ProviderCallID: callSid,
		Direction:      twilioDirection(r.PostFormValue("Direction")),
		From:           strings.TrimSpace(r.PostFormValue("From")),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		Timestamp:      twilioTimestamp(r.PostFormValue("Timestamp")),
	}
	return []Event{ev}, http.StatusOK, nil
}

func twilioEventType(callStatus string) (EventType, bool) {
	switch callStatus {
	case "queued", "initiated":
		return EventCallInitiated, true
	case "ringing":
		return EventCallRinging, true
	case "in-progress", "answered":
		return EventCallAnswered, true
	case "completed":
		return EventCallCompleted, true
	case "busy", "failed", "no-answer", "canceled":
		return EventCallFailed, true
	default:
		return "", false
	}
}

func twilioDirection(d string) string {
	switch {
	case d == "inbound":
		return DirectionInbound
	case strings.HasPrefix(d, "outbound"):
		// Twilio reports outbound-api / outbound-dial.
		return DirectionOutbound
	default:
		return ""
	}
}

// twilioEventID builds a stable dedup key. Status callbacks carry a
// per-call SequenceNumber; the inbound voice request does not, so the
// status value stands in.
func twilioEventID(callSid, seq, callStatus string) string {
	if seq != "" {
		return callSid + "." + seq
	}
	return callSid + "." + callStatus
}

func twilioTimestamp(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC1123Z, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
