package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"voicegate/internal/calls"
	"voicegate/internal/policy"
	"voicegate/internal/telephony"
)

type fakeProvider struct {
	mu   sync.Mutex
	name string

	placeResult telephony.InitiateCallResult
	placeErr    error

	placed  []telephony.InitiateCallRequest
	hangups []telephony.HangupRequest
	tts     []telephony.PlayTTSRequest
	listens []telephony.ListenRequest
}

func (f *fakeProvider) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeProvider) VerifyWebhook(r *http.Request) error { return nil }

func (f *fakeProvider) ParseWebhookEvent(r *http.Request) ([]telephony.Event, int, error) {
	return nil, http.StatusOK, nil
}

func (f *fakeProvider) InitiateCall(ctx context.Context, req telephony.InitiateCallRequest) (telephony.InitiateCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return telephony.InitiateCallResult{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return f.placeResult, nil
}

func (f *fakeProvider) HangupCall(ctx context.Context, req telephony.HangupRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, req)
	return nil
}

func (f *fakeProvider) PlayTTS(ctx context.Context, req telephony.PlayTTSRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tts = append(f.tts, req)
	return nil
}

func (f *fakeProvider) StartListening(ctx context.Context, req telephony.ListenRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens = append(f.listens, req)
	return nil
}

func (f *fakeProvider) StopListening(ctx context.Context, req telephony.ListenRequest) error {
	return nil
}

func (f *fakeProvider) hangupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hangups)
}

func (f *fakeProvider) ttsCalls() []telephony.PlayTTSRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]telephony.PlayTTSRequest, len(f.tts))
	copy(out, f.tts)
	return out
}

func (f *fakeProvider) listenCalls() []telephony.ListenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]telephony.ListenRequest, len(f.listens))
	copy(out, f.listens)
	return out
}

func newTestManager(t *testing.T, prov *fakeProvider, opts Options) *Manager {
	t.Helper()
	var (
		idMu sync.Mutex
		n    int
	)
	if opts.NewID == nil {
		opts.NewID = func() string {
			idMu.Lock()
			defer idMu.Unlock()
			n++
			return fmt.Sprintf("call-%d", n)
		}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Unix(1700000000, 0) }
	}
	if opts.FromNumber == "" {
		opts.FromNumber = "+15550001111"
	}
	m := NewManager(calls.NewMemoryStore(), opts)
	if err := m.Initialize(prov, "https://voice.example.com"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m
}

func TestInitiateCall_RecordsPlacementID(t *testing.T) {
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "req-42", Status: "queued"}}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	res, err := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.CallID == "" || res.ProviderCallID != "req-42" || res.Status != calls.CallStatusInitiated {
		t.Fatalf("unexpected result: %+v", res)
	}

	rec, err := m.GetCall(ctx, res.CallID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if rec.ProviderCallID != "req-42" {
		t.Fatalf("record should carry placement-time provider id, got %q", rec.ProviderCallID)
	}
	if rec.Direction != calls.DirectionOutbound || rec.Status != calls.CallStatusInitiated {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestInitiateCall_ProviderFailureLeavesNoRecord(t *testing.T) {
	prov := &fakeProvider{placeErr: errors.New("twilio error 400")}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	_, err := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})
	if err == nil {
		t.Fatalf("expected placement error")
	}
	if _, err := m.GetCallByProviderCallID(ctx, "req-42"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("no record should exist after failed placement, got %v", err)
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	m := NewManager(calls.NewMemoryStore(), Options{FromNumber: "+15550001111"})

	if _, err := m.InitiateCall(context.Background(), InitiateCallRequest{To: "+1"}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestProcessEvent_IdentityUpgrade(t *testing.T) {
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "req-1", Status: "queued"}}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	res, err := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	err = m.ProcessEvent(ctx, telephony.Event{
		ID: "ev-1", Type: telephony.EventCallRinging,
		CallID: res.CallID, ProviderCallID: "CA-true-session",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, err := m.GetCallByProviderCallID(ctx, "req-1"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("old provider id must resolve to not-found, got %v", err)
	}
	rec, err := m.GetCallByProviderCallID(ctx, "CA-true-session")
	if err != nil {
		t.Fatalf("new provider id lookup: %v", err)
	}
	if rec.CallID != res.CallID {
		t.Fatalf("upgraded id must resolve to the original call, got %+v", rec)
	}
	if rec.Status != calls.CallStatusRinging {
		t.Fatalf("expected ringing after event, got %s", rec.Status)
	}
}

func TestProcessEvent_InboundRejectedByAllowlist(t *testing.T) {
	prov := &fakeProvider{}
	m := newTestManager(t, prov, Options{
		Policy: policy.InboundPolicy{Mode: policy.ModeAllowlist, Numbers: []string{"+15559990000"}},
	})
	ctx := context.Background()

	err := m.ProcessEvent(ctx, telephony.Event{
		ID: "ev-in-1", Type: telephony.EventCallRinging, Direction: telephony.DirectionInbound,
		ProviderCallID: "CA-spam", From: "+15551234567", To: "+15550001111",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	m.Wait()

	prov.mu.Lock()
	hangups := append([]telephony.HangupRequest(nil), prov.hangups...)
	prov.mu.Unlock()
	if len(hangups) != 1 {
		t.Fatalf("expected exactly one hangup, got %d", len(hangups))
	}
	if hangups[0].ProviderCallID != "CA-spam" || hangups[0].Reason != HangupReasonBot {
		t.Fatalf("unexpected hangup: %+v", hangups[0])
	}
	if _, err := m.GetCallByProviderCallID(ctx, "CA-spam"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("rejected call must leave no trace, got %v", err)
	}
}

func TestProcessEvent_InboundAcceptedByAllowlist(t *testing.T) {
	prov := &fakeProvider{}
	m := newTestManager(t, prov, Options{
		Policy: policy.InboundPolicy{Mode: policy.ModeAllowlist, Numbers: []string{"+1 555 123 4567"}},
	})
	ctx := context.Background()

	err := m.ProcessEvent(ctx, telephony.Event{
		ID: "ev-in-2", Type: telephony.EventCallRinging, Direction: telephony.DirectionInbound,
		ProviderCallID: "CA-friend", From: "+15551234567", To: "+15550001111",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	m.Wait()

	if got := prov.hangupCount(); got != 0 {
		t.Fatalf("accepted call must not be hung up, got %d hangups", got)
	}
	rec, err := m.GetCallByProviderCallID(ctx, "CA-friend")
	if err != nil {
		t.Fatalf("accepted call should be tracked: %v", err)
	}
	if rec.From != "+15551234567" || rec.Direction != calls.DirectionInbound || rec.Status != calls.CallStatusRinging {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestNotifyModeSpeaksExactlyOnceOnAnswer(t *testing.T) {
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "req-1"}}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	res, err := m.InitiateCall(ctx, InitiateCallRequest{
		To: "+15550002222", Mode: calls.CallModeNotify, Message: "Hello there",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	for _, ev := range []telephony.Event{
		{ID: "ev-1", Type: telephony.EventCallRinging, CallID: res.CallID, ProviderCallID: "CA-1"},
		{ID: "ev-2", Type: telephony.EventCallAnswered, CallID: res.CallID, ProviderCallID: "CA-1"},
		{ID: "ev-2", Type: telephony.EventCallAnswered, CallID: res.CallID, ProviderCallID: "CA-1"}, // provider retry
	} {
		if err := m.ProcessEvent(ctx, ev); err != nil {
			t.Fatalf("process %s: %v", ev.ID, err)
		}
	}
	m.Wait()

	tts := prov.ttsCalls()
	if len(tts) != 1 {
		t.Fatalf("expected exactly one tts dispatch, got %d", len(tts))
	}
	if tts[0].Text != "Hello there" || tts[0].ProviderCallID != "CA-1" {
		t.Fatalf("unexpected tts request: %+v", tts[0])
	}
}

func TestInteractiveModeStartsListeningOnAnswer(t *testing.T) {
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "CA-1"}}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	res, err := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222", Mode: calls.CallModeInteractive})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := m.ProcessEvent(ctx, telephony.Event{ID: "ev-1", Type: telephony.EventCallAnswered, CallID: res.CallID}); err != nil {
		t.Fatalf("process: %v", err)
	}
	m.Wait()

	listens := prov.listenCalls()
	if len(listens) != 1 {
		t.Fatalf("expected one listen dispatch, got %d", len(listens))
	}
	if listens[0].StreamURL != "wss://voice.example.com/media/"+res.CallID {
		t.Fatalf("unexpected stream url %q", listens[0].StreamURL)
	}
}

func TestProcessEvent_DuplicateIDIsNoOp(t *testing.T) {
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "CA-1"}}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	res, _ := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})

	ev := telephony.Event{ID: "ev-dup", Type: telephony.EventCallRinging, CallID: res.CallID}
	if err := m.ProcessEvent(ctx, ev); err != nil {
		t.Fatalf("first process: %v", err)
	}
	before, _ := m.GetCall(ctx, res.CallID)

	if err := m.ProcessEvent(ctx, ev); err != nil {
		t.Fatalf("duplicate process: %v", err)
	}
	after, _ := m.GetCall(ctx, res.CallID)
	if before != after {
		t.Fatalf("duplicate event changed state: before %+v after %+v", before, after)
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "CA-1"}}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	res, _ := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})

	if err := m.ProcessEvent(ctx, telephony.Event{ID: "ev-1", Type: telephony.EventCallCompleted, CallID: res.CallID}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := m.ProcessEvent(ctx, telephony.Event{ID: "ev-2", Type: telephony.EventCallAnswered, CallID: res.CallID}); err != nil {
		t.Fatalf("process late event: %v", err)
	}
	m.Wait()

	rec, _ := m.GetCall(ctx, res.CallID)
	if rec.Status != calls.CallStatusCompleted {
		t.Fatalf("terminal state must not change, got %s", rec.Status)
	}
	if got := prov.ttsCalls(); len(got) != 0 {
		t.Fatalf("no side effects after terminal state, got %d", len(got))
	}
}

func TestProcessEvent_UnknownCallDropped(t *testing.T) {
	prov := &fakeProvider{}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	err := m.ProcessEvent(ctx, telephony.Event{
		ID: "ev-x", Type: telephony.EventCallCompleted, ProviderCallID: "CA-ghost",
	})
	if err != nil {
		t.Fatalf("unresolvable events must be absorbed, got %v", err)
	}
	if _, err := m.GetCallByProviderCallID(ctx, "CA-ghost"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("no record may be created for unknown calls, got %v", err)
	}
}

func TestHangupCall_ByProviderID(t *testing.T) {
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "CA-1"}}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	res, _ := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})

	if err := m.HangupCall(ctx, "CA-1", "caller-request"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	prov.mu.Lock()
	hangups := append([]telephony.HangupRequest(nil), prov.hangups...)
	prov.mu.Unlock()
	if len(hangups) != 1 || hangups[0].Reason != "caller-request" {
		t.Fatalf("unexpected hangups: %+v", hangups)
	}
	rec, _ := m.GetCall(ctx, res.CallID)
	if rec.Status != calls.CallStatusCompleted {
		t.Fatalf("expected completed after hangup, got %s", rec.Status)
	}
}

type fakeLimiter struct {
	mu       sync.Mutex
	allow    bool
	acquired int
	released int
}

func (f *fakeLimiter) Acquire(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.allow {
		return false, nil
	}
	f.acquired++
	return true, nil
}

func (f *fakeLimiter) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func TestInitiateCall_LimitReached(t *testing.T) {
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "CA-1"}}
	m := newTestManager(t, prov, Options{Limiter: &fakeLimiter{allow: false}})

	_, err := m.InitiateCall(context.Background(), InitiateCallRequest{To: "+15550002222"})
	if !errors.Is(err, ErrCallLimitReached) {
		t.Fatalf("expected ErrCallLimitReached, got %v", err)
	}
}

func TestTerminalEventReleasesSlot(t *testing.T) {
	lim := &fakeLimiter{allow: true}
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "CA-1"}}
	m := newTestManager(t, prov, Options{Limiter: lim})
	ctx := context.Background()

	res, err := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := m.ProcessEvent(ctx, telephony.Event{ID: "ev-1", Type: telephony.EventCallCompleted, CallID: res.CallID}); err != nil {
		t.Fatalf("process: %v", err)
	}

	lim.mu.Lock()
	defer lim.mu.Unlock()
	if lim.acquired != 1 || lim.released != 1 {
		t.Fatalf("expected acquire/release pair, got %d/%d", lim.acquired, lim.released)
	}
}

func TestReinitializeKeepsPinnedProvider(t *testing.T) {
	provA := &fakeProvider{name: "vendor-a", placeResult: telephony.InitiateCallResult{ProviderCallID: "CA-A"}}
	provB := &fakeProvider{name: "vendor-b"}
	m := newTestManager(t, provA, Options{})
	ctx := context.Background()

	res, err := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := m.Initialize(provB, "https://other.example.com"); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}

	if err := m.HangupCall(ctx, res.CallID, "switching"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if provA.hangupCount() != 1 {
		t.Fatalf("in-flight call should stay on its original provider")
	}
	if provB.hangupCount() != 0 {
		t.Fatalf("new provider must not receive actions for old calls")
	}
}

type flakyStore struct {
	*calls.MemoryStore
	mu       sync.Mutex
	putFails int
}

func (s *flakyStore) Put(ctx context.Context, c calls.Call) error {
	s.mu.Lock()
	if s.putFails > 0 {
		s.putFails--
		s.mu.Unlock()
		return errors.New("storage offline")
	}
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, c)
}

func TestProcessEvent_RetryAfterStoreFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: calls.NewMemoryStore()}
	prov := &fakeProvider{placeResult: telephony.InitiateCallResult{ProviderCallID: "CA-1"}}
	m := NewManager(store, Options{
		FromNumber: "+15550001111",
		Now:        func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err := m.Initialize(prov, "https://voice.example.com"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	ctx := context.Background()

	res, err := m.InitiateCall(ctx, InitiateCallRequest{To: "+15550002222"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	ev := telephony.Event{ID: "ev-1", Type: telephony.EventCallRinging, CallID: res.CallID}
	store.putFails = 1
	if err := m.ProcessEvent(ctx, ev); err == nil {
		t.Fatalf("expected error while storage is down")
	}

	// The failed delivery must not have consumed the event id: the
	// provider's retry of the same event has to land.
	if err := m.ProcessEvent(ctx, ev); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	rec, err := m.GetCall(ctx, res.CallID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if rec.Status != calls.CallStatusRinging {
		t.Fatalf("retried event must apply, got status %s", rec.Status)
	}
}

func TestProcessEvent_ConcurrentDistinctCalls(t *testing.T) {
	prov := &fakeProvider{}
	m := newTestManager(t, prov, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := telephony.Event{
				ID:             fmt.Sprintf("ev-%d", i),
				Type:           telephony.EventCallRinging,
				Direction:      telephony.DirectionInbound,
				ProviderCallID: fmt.Sprintf("CA-%d", i),
				From:           "+15551234567",
				To:             "+15550001111",
			}
			if err := m.ProcessEvent(ctx, ev); err != nil {
				t.Errorf("process %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	m.Wait()

	for i := 0; i < 20; i++ {
		if _, err := m.GetCallByProviderCallID(ctx, fmt.Sprintf("CA-%d", i)); err != nil {
			t.Fatalf("call %d missing: %v", i, err)
		}
	}
}
