package telephony

import (
	"strings"
	"testing"
)

func TestSayTwiML(t *testing.T) {
	out, err := SayTwiML("Hello there")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Say>Hello there</Say>") {
		t.Fatalf("expected Say verb in twiml: %s", out)
	}
}

func TestSayTwiML_EscapesText(t *testing.T) {
	out, err := SayTwiML("a < b & c")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(out, "a < b") {
		t.Fatalf("text must be xml-escaped: %s", out)
	}
}

func TestRejectTwiML(t *testing.T) {
	out, err := RejectTwiML()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Reject") {
		t.Fatalf("expected Reject verb: %s", out)
	}
}

func TestStartStreamTwiML(t *testing.T) {
	out, err := startStreamTwiML("agent-audio", "wss://voice.example.com/media")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Start>") || !strings.Contains(out, `url="wss://voice.example.com/media"`) {
		t.Fatalf("expected Start/Stream verbs: %s", out)
	}
}
