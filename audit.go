package credpool

import (
	"context"

	"github.com/MrEthical07/credpool/internal/audit"
	"github.com/MrEthical07/credpool/store"
)

// Audit types, re-exported from the dispatcher package.
type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	LogrusSink     = audit.LogrusSink
	MultiSink      = audit.MultiSink
)

// Audit event types.
const (
	AuditAccountAdded       = audit.EventAccountAdded
	AuditAccountRemoved     = audit.EventAccountRemoved
	AuditAccountUpdated     = audit.EventAccountUpdated
	AuditAccountInvalidated = audit.EventAccountInvalidated
	AuditAccountRateLimited = audit.EventAccountRateLimited
	AuditRateLimitsReset    = audit.EventRateLimitsReset
	AuditSettingsUpdated    = audit.EventSettingsUpdated
	AuditRetryExhausted     = audit.EventRetryExhausted
)

var (
	NewChannelSink    = audit.NewChannelSink
	NewJSONWriterSink = audit.NewJSONWriterSink
	NewLogrusSink     = audit.NewLogrusSink
)

// AuditEventTypes lists every event type the pool emits.
func AuditEventTypes() []string {
	return append([]string(nil), audit.EventTypes...)
}

func (p *Pool) emitAudit(ctx context.Context, eventType, accountID, email string, success bool, err error, metadata map[string]string) {
	if p.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp: p.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		Success:   success,
		Metadata:  metadata,
	}
	if email != "" {
		ev.Email = store.MaskEmail(email)
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.audit.Emit(ctx, ev)
}

// AuditDropped reports audit events lost to dispatcher backpressure.
func (p *Pool) AuditDropped() uint64 {
	return p.audit.Dropped()
}
