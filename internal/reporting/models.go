package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics over a time range.

type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	InboundCalls   int `json:"inbound_calls"`
	OutboundCalls  int `json:"outbound_calls"`
	ActiveCalls    int `json:"active_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`

	NotifyCalls      int `json:"notify_calls"`
	InteractiveCalls int `json:"interactive_calls"`

	// AnswerRate is answered-or-later calls over total, in [0,1].
	AnswerRate float64 `json:"answer_rate"`
}
