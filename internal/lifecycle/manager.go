package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voicegate/internal/calls"
	"voicegate/internal/policy"
	"voicegate/internal/telephony"

	"github.com/google/uuid"
)

// Manager owns call state: it places outbound calls, admits or rejects
// inbound ones, processes provider webhook events as a state machine, and
// drives provider-side actions (TTS, listening, hangup).
//
// Concurrency discipline:
//   - All mutations for one call id are serialized through a per-call mutex
//     held for the whole resolve/reconcile/transition/side-effect sequence.
//     Events for different calls proceed in parallel.
//   - Side effects (TTS, listening, hangup-on-reject) run on goroutines and
//     never block event processing; Wait lets tests and shutdown drain them.
//
// Construct one Manager per account and pass it to collaborators explicitly;
// there is no package-level instance.

var (
	ErrNotInitialized   = errors.New("lifecycle: manager not initialized")
	ErrCallLimitReached = errors.New("lifecycle: active call limit reached")
	ErrInvalidArgument  = errors.New("lifecycle: invalid argument")
)

// HangupReasonBot marks hangups issued by the inbound access policy.
const HangupReasonBot = "hangup-bot"

const sideEffectTimeout = 15 * time.Second

// Deduper remembers processed event ids so provider retries are absorbed.
// MarkSeen returns true the first time an id is presented. Forget releases
// an id again; the manager calls it when applying an event fails, so the
// provider's retry of that delivery is not swallowed.
type Deduper interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Limiter caps concurrently active calls per account. Optional.
type Limiter interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// AuditSink receives operational audit events. Optional, best-effort.
type AuditSink interface {
	LogCallEvent(ctx context.Context, e AuditEvent) error
}

// AuditEvent is the lifecycle-side audit record; the adapter in this package
// maps it onto audit.Event.
type AuditEvent struct {
	Type           string
	CallID         string
	ProviderCallID string
	ProviderName   string
	From           string
	To             string
	Message        string
}

const (
	AuditCallInitiated   = "call_initiated"
	AuditInboundAccepted = "inbound_accepted"
	AuditInboundRejected = "inbound_rejected"
	AuditCallHangup      = "call_hangup"
	AuditProviderFailure = "provider_failure"
)

type Options struct {
	Policy policy.InboundPolicy

	// FromNumber is the account's default caller id for outbound calls.
	FromNumber string

	// AccountID scopes the concurrency-cap key. Defaults to "default".
	AccountID string

	Dedup   Deduper // defaults to an in-memory deduper
	Limiter Limiter // nil means unlimited
	Audit   AuditSink
	Logger  *slog.Logger

	Now   func() time.Time
	NewID func() string
}

type Manager struct {
	store calls.Store

	policyCfg  policy.InboundPolicy
	fromNumber string
	accountID  string

	dedup   Deduper
	limiter Limiter
	audit   AuditSink
	log     *slog.Logger

	now   func() time.Time
	newID func() string

	// mu guards the bound provider, the webhook URL and the per-call
	// provider pins. Re-initialization replaces the binding for future
	// calls only; in-flight calls keep the provider they were created with.
	mu             sync.RWMutex
	provider       telephony.Provider
	webhookBaseURL string
	pinned         map[string]telephony.Provider

	locks   callLocks
	pending sync.WaitGroup
}

func NewManager(store calls.Store, opts Options) *Manager {
	m := &Manager{
		store:      store,
		policyCfg:  opts.Policy,
		fromNumber: opts.FromNumber,
		accountID:  opts.AccountID,
		dedup:      opts.Dedup,
		limiter:    opts.Limiter,
		audit:      opts.Audit,
		log:        opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
		pinned:     map[string]telephony.Provider{},
	}
	if m.accountID == "" {
		m.accountID = "default"
	}
	if m.dedup == nil {
		m.dedup = NewMemoryDeduper()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	m.locks.init()
	return m
}

// Initialize binds a provider and the externally reachable webhook base URL.
// It must be called before any call-affecting operation. Calling it again
// switches providers for subsequent calls.
func (m *Manager) Initialize(p telephony.Provider, webhookBaseURL string) error {
	if p == nil {
		return fmt.Errorf("%w: provider required", ErrInvalidArgument)
	}
	if webhookBaseURL == "" {
		return fmt.Errorf("%w: webhook base url required", ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider = p
	m.webhookBaseURL = strings.TrimRight(webhookBaseURL, "/")
	return nil
}

func (m *Manager) current() (telephony.Provider, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.provider == nil {
		return nil, "", ErrNotInitialized
	}
	return m.provider, m.webhookBaseURL, nil
}

func (m *Manager) pin(callID string, p telephony.Provider) {
	m.mu.Lock()
	m.pinned[callID] = p
	m.mu.Unlock()
}

func (m *Manager) unpin(callID string) {
	m.mu.Lock()
	delete(m.pinned, callID)
	m.mu.Unlock()
}

// providerFor returns the provider pinned at record creation, falling back
// to the currently bound one (e.g. after a process restart).
func (m *Manager) providerFor(callID string) telephony.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.pinned[callID]; ok {
		return p
	}
	return m.provider
}

// --- outbound placement ---

type InitiateCallRequest struct {
	To string `json:"to"`

	// From overrides the account's default caller id.
	From string `json:"from,omitempty"`

	Mode    calls.CallMode `json:"mode,omitempty"`
	Message string         `json:"message,omitempty"`
}

type InitiateCallResult struct {
	CallID         string           `json:"call_id"`
	ProviderCallID string           `json:"provider_call_id"`
	Status         calls.CallStatus `json:"status"`
}

// InitiateCall places an outbound call. On provider failure no record is
// created and the provider error is returned for the caller to branch on.
func (m *Manager) InitiateCall(ctx context.Context, req InitiateCallRequest) (InitiateCallResult, error) {
	prov, baseURL, err := m.current()
	if err != nil {
		return InitiateCallResult{}, err
	}
	if req.To == "" {
		return InitiateCallResult{}, fmt.Errorf("%w: to number required", ErrInvalidArgument)
	}
	from := req.From
	if from == "" {
		from = m.fromNumber
	}
	if from == "" {
		return InitiateCallResult{}, fmt.Errorf("%w: no from number configured", ErrInvalidArgument)
	}
	mode := req.Mode
	if mode == "" {
		if req.Message != "" {
			mode = calls.CallModeNotify
		} else {
			mode = calls.CallModeInteractive
		}
	}

	if ok, err := m.acquireSlot(ctx); err != nil {
		return InitiateCallResult{}, err
	} else if !ok {
		return InitiateCallResult{}, ErrCallLimitReached
	}

	callID := m.newID()
	placed, err := prov.InitiateCall(ctx, telephony.InitiateCallRequest{
		CallID:          callID,
		To:              req.To,
		From:            from,
		CallbackBaseURL: baseURL,
	})
	if err != nil {
		m.releaseSlot()
		m.auditEvent(ctx, AuditEvent{
			Type: AuditProviderFailure, CallID: callID, ProviderName: prov.Name(),
			To: req.To, Message: "call placement failed: " + err.Error(),
		})
		return InitiateCallResult{}, fmt.Errorf("lifecycle: place call: %w", err)
	}

	now := m.now().UTC()
	rec := calls.Call{
		CallID:         callID,
		ProviderCallID: placed.ProviderCallID,
		Direction:      calls.DirectionOutbound,
		From:           from,
		To:             req.To,
		Status:         calls.CallStatusInitiated,
		Mode:           mode,
		InitialMessage: req.Message,
		ProviderName:   prov.Name(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.pin(callID, prov)
	if err := m.store.Put(ctx, rec); err != nil {
		m.unpin(callID)
		m.releaseSlot()
		return InitiateCallResult{}, fmt.Errorf("lifecycle: store call: %w", err)
	}

	m.auditEvent(ctx, AuditEvent{
		Type: AuditCallInitiated, CallID: callID, ProviderCallID: placed.ProviderCallID,
		ProviderName: prov.Name(), From: from, To: req.To,
	})
	return InitiateCallResult{CallID: callID, ProviderCallID: placed.ProviderCallID, Status: rec.Status}, nil
}

// HangupCall terminates a call identified by internal or provider call id.
func (m *Manager) HangupCall(ctx context.Context, callRef, reason string) error {
	if callRef == "" {
		return fmt.Errorf("%w: call reference required", ErrInvalidArgument)
	}
	rec, err := m.store.GetByCallID(ctx, callRef)
	if errors.Is(err, calls.ErrNotFound) {
		rec, err = m.store.GetByProviderCallID(ctx, callRef)
	}
	if err != nil {
		return err
	}

	unlock := m.locks.acquire(rec.CallID)
	defer unlock()

	rec, err = m.store.GetByCallID(ctx, rec.CallID)
	if err != nil {
		return err
	}

	prov := m.providerFor(rec.CallID)
	if prov == nil {
		return ErrNotInitialized
	}
	if err := prov.HangupCall(ctx, telephony.HangupRequest{ProviderCallID: rec.ProviderCallID, Reason: reason}); err != nil {
		m.auditEvent(ctx, AuditEvent{
			Type: AuditProviderFailure, CallID: rec.CallID, ProviderCallID: rec.ProviderCallID,
			ProviderName: prov.Name(), Message: "hangup failed: " + err.Error(),
		})
		return fmt.Errorf("lifecycle: hangup: %w", err)
	}

	if !rec.Status.Terminal() {
		rec.Status = calls.CallStatusCompleted
		m.finishCall(rec.CallID)
	}
	rec.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: store call: %w", err)
	}
	m.auditEvent(ctx, AuditEvent{
		Type: AuditCallHangup, CallID: rec.CallID, ProviderCallID: rec.ProviderCallID,
		ProviderName: prov.Name(), Message: "reason: " + reason,
	})
	return nil
}

// --- event processing ---

// ProcessEvent applies one normalized provider event. Malformed, duplicate
// and unresolvable events are absorbed here: webhook delivery is best-effort
// and at-least-once, so dropping is the correct behavior, not an error.
func (m *Manager) ProcessEvent(ctx context.Context, ev telephony.Event) error {
	if ev.ID == "" || ev.Type == "" {
		m.log.Debug("dropping malformed event", "event_id", ev.ID, "type", ev.Type)
		return nil
	}
	first, err := m.dedup.MarkSeen(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("lifecycle: dedup: %w", err)
	}
	if !first {
		m.log.Debug("dropping duplicate event", "event_id", ev.ID)
		return nil
	}

	if err := m.handleEvent(ctx, ev); err != nil {
		// The id was consumed above but the event never took effect;
		// release it so the provider's retry gets through.
		m.forgetEvent(ev.ID)
		return err
	}
	return nil
}

func (m *Manager) handleEvent(ctx context.Context, ev telephony.Event) error {
	rec, found, err := m.resolve(ctx, ev)
	if err != nil {
		return err
	}
	if !found {
		if ev.Type == telephony.EventCallRinging && ev.Direction == telephony.DirectionInbound && ev.ProviderCallID != "" {
			return m.admitInbound(ctx, ev)
		}
		// Could be an expired record or a spoofed event; either way, never
		// create state outside the inbound-accept path.
		m.log.Warn("event for unknown call",
			"event_id", ev.ID, "type", ev.Type,
			"call_id", ev.CallID, "provider_call_id", ev.ProviderCallID)
		return nil
	}
	return m.applyEvent(ctx, rec.CallID, ev)
}

func (m *Manager) forgetEvent(eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.dedup.Forget(ctx, eventID); err != nil {
		m.log.Warn("dedup release failed", "event_id", eventID, "err", err)
	}
}

func (m *Manager) resolve(ctx context.Context, ev telephony.Event) (calls.Call, bool, error) {
	if ev.CallID != "" {
		rec, err := m.store.GetByCallID(ctx, ev.CallID)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, false, err
		}
	}
	if ev.ProviderCallID != "" {
		rec, err := m.store.GetByProviderCallID(ctx, ev.ProviderCallID)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, false, err
		}
	}
	return calls.Call{}, false, nil
}

// admitInbound runs the access policy for a brand-new inbound ringing event.
// Rejected callers are hung up and leave no record at all.
func (m *Manager) admitInbound(ctx context.Context, ev telephony.Event) error {
	prov, _, err := m.current()
	if err != nil {
		m.log.Error("inbound call before initialization", "provider_call_id", ev.ProviderCallID)
		return err
	}

	d := policy.Decide(m.policyCfg, ev.From)
	if d.Action == policy.ActionReject {
		m.log.Info("inbound call rejected by policy",
			"from", ev.From, "provider_call_id", ev.ProviderCallID, "reason", d.Reason)
		m.auditEvent(ctx, AuditEvent{
			Type: AuditInboundRejected, ProviderCallID: ev.ProviderCallID,
			ProviderName: prov.Name(), From: ev.From, To: ev.To, Message: d.Reason,
		})
		m.dispatch("hangup", func(ctx context.Context) error {
			return prov.HangupCall(ctx, telephony.HangupRequest{ProviderCallID: ev.ProviderCallID, Reason: HangupReasonBot})
		})
		return nil
	}

	if ok, err := m.acquireSlot(ctx); err != nil {
		return err
	} else if !ok {
		m.log.Warn("inbound call over active call limit", "from", ev.From, "provider_call_id", ev.ProviderCallID)
		m.dispatch("hangup", func(ctx context.Context) error {
			return prov.HangupCall(ctx, telephony.HangupRequest{ProviderCallID: ev.ProviderCallID, Reason: "capacity"})
		})
		return nil
	}

	callID := m.newID()
	unlock := m.locks.acquire(callID)
	defer unlock()

	now := m.now().UTC()
	rec := calls.Call{
		CallID:         callID,
		ProviderCallID: ev.ProviderCallID,
		Direction:      calls.DirectionInbound,
		From:           ev.From,
		To:             ev.To,
		Status:         calls.CallStatusRinging,
		Mode:           calls.CallModeInteractive,
		ProviderName:   prov.Name(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.pin(callID, prov)
	if err := m.store.Put(ctx, rec); err != nil {
		m.unpin(callID)
		m.releaseSlot()
		if errors.Is(err, calls.ErrProviderCallIDConflict) {
			// A record for this provider id appeared concurrently; treat
			// this delivery as a duplicate and drop it.
			m.log.Warn("inbound admission raced an existing record", "provider_call_id", ev.ProviderCallID)
			return nil
		}
		return fmt.Errorf("lifecycle: store call: %w", err)
	}
	m.auditEvent(ctx, AuditEvent{
		Type: AuditInboundAccepted, CallID: callID, ProviderCallID: ev.ProviderCallID,
		ProviderName: prov.Name(), From: ev.From, To: ev.To,
	})
	return nil
}

func (m *Manager) applyEvent(ctx context.Context, callID string, ev telephony.Event) error {
	unlock := m.locks.acquire(callID)
	defer unlock()

	rec, err := m.store.GetByCallID(ctx, callID)
	if err != nil {
		m.log.Warn("call disappeared during event processing", "call_id", callID, "event_id", ev.ID)
		return nil
	}

	// Identity reconciliation: the id assigned at placement time may be
	// superseded by the provider's true session id. After the swap the old
	// id must resolve to not-found for every subsequent lookup.
	if ev.ProviderCallID != "" && ev.ProviderCallID != rec.ProviderCallID {
		if err := m.store.ReindexProviderCallID(ctx, callID, ev.ProviderCallID); err != nil {
			if errors.Is(err, calls.ErrProviderCallIDConflict) {
				m.log.Warn("provider call id already owned, dropping event",
					"call_id", callID, "provider_call_id", ev.ProviderCallID)
				return nil
			}
			return fmt.Errorf("lifecycle: reindex: %w", err)
		}
		m.log.Info("provider call id upgraded",
			"call_id", callID, "old", rec.ProviderCallID, "new", ev.ProviderCallID)
		rec.ProviderCallID = ev.ProviderCallID
	}

	answered := false
	if target, relevant := statusForEvent(ev.Type); relevant {
		switch {
		case calls.CanTransition(rec.Status, target):
			answered = target == calls.CallStatusAnswered
			rec.Status = target
			if target.Terminal() {
				m.finishCall(callID)
			}
		case rec.Status.Terminal():
			m.log.Debug("event after terminal state", "call_id", callID, "status", rec.Status, "type", ev.Type)
		default:
			m.log.Debug("ignoring out-of-order transition", "call_id", callID, "status", rec.Status, "type", ev.Type)
		}
	}

	rec.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: store call: %w", err)
	}

	if answered {
		m.onAnswered(rec)
	}
	return nil
}

// onAnswered dispatches the configured provider action once a call goes
// live: speak the notify message, or open the bidirectional audio stream.
func (m *Manager) onAnswered(rec calls.Call) {
	prov := m.providerFor(rec.CallID)
	if prov == nil {
		return
	}
	switch {
	case rec.Mode == calls.CallModeNotify && rec.InitialMessage != "":
		providerCallID, text := rec.ProviderCallID, rec.InitialMessage
		m.dispatch("play-tts", func(ctx context.Context) error {
			return prov.PlayTTS(ctx, telephony.PlayTTSRequest{ProviderCallID: providerCallID, Text: text})
		})
	case rec.Mode == calls.CallModeInteractive:
		providerCallID := rec.ProviderCallID
		stream := m.streamURL(rec.CallID)
		m.dispatch("start-listening", func(ctx context.Context) error {
			return prov.StartListening(ctx, telephony.ListenRequest{ProviderCallID: providerCallID, StreamURL: stream})
		})
	}
}

func (m *Manager) streamURL(callID string) string {
	_, base, err := m.current()
	if err != nil {
		return ""
	}
	ws := strings.Replace(base, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + "/media/" + callID
}

func statusForEvent(t telephony.EventType) (calls.CallStatus, bool) {
	switch t {
	case telephony.EventCallInitiated:
		return calls.CallStatusInitiated, true
	case telephony.EventCallRinging:
		return calls.CallStatusRinging, true
	case telephony.EventCallAnswered:
		return calls.CallStatusAnswered, true
	case telephony.EventCallCompleted:
		return calls.CallStatusCompleted, true
	case telephony.EventCallFailed:
		return calls.CallStatusFailed, true
	default:
		return "", false
	}
}

// --- lookups ---

func (m *Manager) GetCall(ctx context.Context, callID string) (calls.Call, error) {
	return m.store.GetByCallID(ctx, callID)
}

func (m *Manager) GetCallByProviderCallID(ctx context.Context, providerCallID string) (calls.Call, error) {
	return m.store.GetByProviderCallID(ctx, providerCallID)
}

// --- side effects and bookkeeping ---

// dispatch runs a provider action without blocking the caller. Failures are
// logged and audited; the core does not retry (retry policy, if any, belongs
// to the provider adapter or an external supervisor).
func (m *Manager) dispatch(action string, fn func(ctx context.Context) error) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.log.Error("provider action failed", "action", action, "err", err)
			m.auditEvent(ctx, AuditEvent{Type: AuditProviderFailure, Message: action + ": " + err.Error()})
		}
	}()
}

// Wait blocks until all dispatched provider actions have finished. Used by
// tests and by shutdown to drain in-flight side effects.
func (m *Manager) Wait() {
	m.pending.Wait()
}

func (m *Manager) capKey() string {
	return "calls:active:" + m.accountID
}

func (m *Manager) acquireSlot(ctx context.Context) (bool, error) {
	if m.limiter == nil {
		return true, nil
	}
	ok, err := m.limiter.Acquire(ctx, m.capKey())
	if err != nil {
		return false, fmt.Errorf("lifecycle: call limit check: %w", err)
	}
	return ok, nil
}

func (m *Manager) releaseSlot() {
	if m.limiter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.limiter.Release(ctx, m.capKey()); err != nil {
		m.log.Error("call limit release failed", "err", err)
	}
}

// finishCall releases per-call resources once a record reaches a terminal
// state. The record itself is retained; eviction is an external concern.
func (m *Manager) finishCall(callID string) {
	m.unpin(callID)
	m.releaseSlot()
}

func (m *Manager) auditEvent(ctx context.Context, e AuditEvent) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogCallEvent(ctx, e); err != nil {
		m.log.Warn("audit append failed", "type", e.Type, "err", err)
	}
}
