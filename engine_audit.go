package vaultguard

import (
	"context"

	internalaudit "github.com/vaultguard/vaultguard/internal/audit"
	internalmetrics "github.com/vaultguard/vaultguard/internal/metrics"
)

// Audit actions form a closed enum. Stores index on these values;
// adding one is a schema change, not a code-only change.
const (
	actionLogin         = "login"
	actionLogout        = "logout"
	actionRefreshToken  = "refresh_token"
	actionMFAEnable     = "mfa_enable"
	actionMFADisable    = "mfa_disable"
	actionSessionRevoke = "session_revoke"
	actionInviteUser    = "invite_user"
	actionAcceptInvite  = "accept_invite"
	actionFailedLogin   = "failed_login"
)

// emitAudit stamps and forwards an event to the dispatcher. Emission
// is best-effort: a full buffer drops the event and bumps a counter,
// it never blocks or fails the calling flow.
func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}

	ts := e.now()
	event.ID = internalaudit.NewEventID(ts)
	event.Timestamp = ts

	e.audit.Emit(ctx, event)
	e.metrics.Set(internalmetrics.MetricAuditDropped, e.audit.Dropped())
}
