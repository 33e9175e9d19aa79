package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"voicegate/internal/calls"
)

func seedStore(t *testing.T) *calls.MemoryStore {
	t.Helper()
	store := calls.NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []calls.Call{
		{CallID: "c1", Direction: calls.DirectionOutbound, Mode: calls.CallModeNotify, Status: calls.CallStatusCompleted, CreatedAt: base},
		{CallID: "c2", Direction: calls.DirectionOutbound, Mode: calls.CallModeInteractive, Status: calls.CallStatusFailed, CreatedAt: base.Add(time.Minute)},
		{CallID: "c3", Direction: calls.DirectionInbound, Mode: calls.CallModeInteractive, Status: calls.CallStatusAnswered, CreatedAt: base.Add(2 * time.Minute)},
		{CallID: "c4", Direction: calls.DirectionInbound, Mode: calls.CallModeInteractive, Status: calls.CallStatusRinging, CreatedAt: base.Add(3 * time.Minute)},
		{CallID: "c5", Direction: calls.DirectionOutbound, Mode: calls.CallModeNotify, Status: calls.CallStatusCompleted, CreatedAt: base.Add(48 * time.Hour)}, // outside range
	}
	for _, c := range rows {
		if err := store.Put(context.Background(), c); err != nil {
			t.Fatalf("seed %s: %v", c.CallID, err)
		}
	}
	return store
}

func TestCallsSummary(t *testing.T) {
	svc := NewService(seedStore(t))
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	got, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: from, To: to}})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.TotalCalls != 4 {
		t.Fatalf("total = %d, want 4", got.TotalCalls)
	}
	if got.InboundCalls != 2 || got.OutboundCalls != 2 {
		t.Fatalf("direction split = %d/%d, want 2/2", got.InboundCalls, got.OutboundCalls)
	}
	if got.NotifyCalls != 1 || got.InteractiveCalls != 3 {
		t.Fatalf("mode split = %d/%d, want 1/3", got.NotifyCalls, got.InteractiveCalls)
	}
	if got.CompletedCalls != 1 || got.FailedCalls != 1 || got.AnsweredCalls != 1 {
		t.Fatalf("status counts = %d/%d/%d", got.CompletedCalls, got.FailedCalls, got.AnsweredCalls)
	}
	if got.ActiveCalls != 2 {
		t.Fatalf("active = %d, want 2", got.ActiveCalls)
	}
	if got.AnswerRate != 0.5 {
		t.Fatalf("answer rate = %v, want 0.5", got.AnswerRate)
	}
}

func TestCallsSummaryValidation(t *testing.T) {
	svc := NewService(seedStore(t))
	now := time.Now()

	cases := []TimeRange{
		{},
		{From: now},
		{From: now, To: now},
		{From: now, To: now.Add(-time.Hour)},
	}
	for i, r := range cases {
		if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: r}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}
