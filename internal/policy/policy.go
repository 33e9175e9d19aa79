package policy

import "strings"

// InboundPolicy decides whether a caller is allowed to reach the agent at
// all. It is evaluated once per new inbound ringing event, before any call
// record exists.
//
// Decide is a pure function: no state, no side effects. Rejected callers are
// hung up by the lifecycle manager and leave no persistent trace.

type Mode string

const (
	ModeOpen      Mode = "open"
	ModeAllowlist Mode = "allowlist"
	ModeBlocklist Mode = "blocklist"
)

type InboundPolicy struct {
	Mode Mode `json:"mode"`

	// Numbers is the allow or block set, depending on Mode. Entries are
	// normalized at comparison time; matching is exact, no prefixes or
	// wildcards.
	Numbers []string `json:"numbers,omitempty"`
}

type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// Decision is the output of Decide. Reason is for internal logs only; a
// policy rejection is a deliberate outcome, not an error.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func Decide(p InboundPolicy, callerNumber string) Decision {
	caller := NormalizeNumber(callerNumber)

	switch p.Mode {
	case ModeAllowlist:
		if caller == "" {
			return Decision{Action: ActionReject, Reason: "caller number missing"}
		}
		if contains(p.Numbers, caller) {
			return Decision{Action: ActionAccept}
		}
		return Decision{Action: ActionReject, Reason: "caller not in allowlist"}

	case ModeBlocklist:
		if caller != "" && contains(p.Numbers, caller) {
			return Decision{Action: ActionReject, Reason: "caller in blocklist"}
		}
		return Decision{Action: ActionAccept}

	default:
		// ModeOpen and unset both accept everything.
		return Decision{Action: ActionAccept}
	}
}

func contains(entries []string, caller string) bool {
	for _, e := range entries {
		if NormalizeNumber(e) == caller {
			return true
		}
	}
	return false
}

// NormalizeNumber canonicalizes a phone number for exact-match comparison:
// separators are stripped and an international 00 prefix becomes +.
// Non-numeric caller ids (e.g. "anonymous") pass through lowercased.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separator, drop
		default:
			// Not a phone number shape; compare the raw value.
			return strings.ToLower(s)
		}
	}

	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}
