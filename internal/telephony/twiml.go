package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal TwiML builder for the verbs the Twilio adapter needs.
// It intentionally avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlStart struct {
	XMLName xml.Name     `xml:"Start"`
	Stream  *twimlStream `xml:"Stream,omitempty"`
}

type twimlStop struct {
	XMLName xml.Name     `xml:"Stop"`
	Stream  *twimlStream `xml:"Stream,omitempty"`
}

type twimlStream struct {
	Name string `xml:"name,attr,omitempty"`
	URL  string `xml:"url,attr,omitempty"`
}

func renderTwiML(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SayTwiML speaks text and then holds the line briefly so the far end hears
// the whole message before any follow-up action.
func SayTwiML(text string) (string, error) {
	return renderTwiML(twimlSay{Text: text}, twimlPause{Length: 2})
}

// HoldTwiML keeps an accepted call open while events drive the session.
func HoldTwiML(seconds int) (string, error) {
	return renderTwiML(twimlPause{Length: seconds})
}

// RejectTwiML declines an inbound call without answering it.
func RejectTwiML() (string, error) {
	return renderTwiML(twimlReject{Reason: "rejected"})
}

func startStreamTwiML(name, url string) (string, error) {
	return renderTwiML(twimlStart{Stream: &twimlStream{Name: name, URL: url}}, twimlPause{Length: 3600})
}

func stopStreamTwiML(name string) (string, error) {
	return renderTwiML(twimlStop{Stream: &twimlStream{Name: name}}, twimlPause{Length: 60})
}
