package lifecycle

import (
	"context"

	"voicegate/internal/audit"
)

// AuditAdapter bridges the manager's audit hook to the shared audit.Service,
// keeping lifecycle internals free of persistence concerns.

type AuditAdapter struct {
	Audit     *audit.Service
	AccountID string
}

func (a AuditAdapter) LogCallEvent(ctx context.Context, e AuditEvent) error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Append(ctx, audit.Event{
		AccountID:      a.AccountID,
		Type:           audit.EventType(e.Type),
		CallID:         e.CallID,
		ProviderCallID: e.ProviderCallID,
		ProviderName:   e.ProviderName,
		From:           e.From,
		To:             e.To,
		Message:        e.Message,
	})
}
