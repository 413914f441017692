package goToken

import (
	"context"
	"time"

	"github.com/MrEthical07/goToken/token"
)

// emitAudit stamps and queues an event. metadataBuilder runs only when audit
// is enabled.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, claims *token.Claims, reason string, metadataBuilder func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Reason:    reason,
	}
	if claims != nil {
		event.TokenID = claims.ID
		event.Kind = string(claims.Kind)
		// An encrypted subject stays out of the audit trail.
		if !claims.SubjectEncrypted() {
			event.Subject = claims.Subject
		}
	}
	if metadataBuilder != nil {
		event.Metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" && !success {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string, 1)
		}
		event.Metadata["user_agent"] = ua
	}

	e.audit.Emit(ctx, event)
}

// TokenIssued implements token.Observer.
func (e *Engine) TokenIssued(token.Kind, *token.Claims) {
	e.metrics.Inc(MetricTokenIssued)
}

// TokenDecoded implements token.Observer. Rejections are counted per reason
// and audited; successes only feed the counters and latency histogram.
func (e *Engine) TokenDecoded(ctx context.Context, expected token.Kind, _ *token.Claims, reason token.RejectReason, elapsed time.Duration) {
	e.metrics.Observe(MetricDecodeLatency, elapsed)
	if reason == "" {
		e.metrics.Inc(MetricDecodeSuccess)
		return
	}

	e.metrics.Inc(MetricDecodeRejected)
	if id, ok := RejectMetric(reason); ok {
		e.metrics.Inc(id)
	}
	e.emitAudit(ctx, AuditTokenRejected, false, nil, string(reason), func() map[string]string {
		return map[string]string{"expected_kind": string(expected)}
	})
	if reason == token.ReasonRevocationUnavailable {
		e.emitAudit(ctx, AuditRevocationDegraded, false, nil, e.revocationBackend, nil)
	}
}

var _ token.Observer = (*Engine)(nil)
