package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"

	"github.com/vaultguard/vaultguard"
)

// AuditSink appends audit events to the audit_logs table. The table is
// insert-only; nothing in this package updates or deletes rows.
type AuditSink struct {
	db *sql.DB
}

func NewAuditSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db}
}

// Emit writes one event. Failures are logged, not propagated: the
// dispatcher calls from a background goroutine and an audit outage
// must not take authentication down with it.
func (s *AuditSink) Emit(ctx context.Context, event vaultguard.AuditEvent) {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`insert into audit_logs(id, org_id, actor_id, action, target_id, session_id, ip_address, user_agent, success, error, metadata, timestamp)
		 values($1,nullif($2,''),nullif($3,''),$4,nullif($5,''),nullif($6,''),$7,$8,$9,$10,$11,$12)`,
		event.ID, event.OrgID, event.ActorID, event.Action, event.TargetID, event.SessionID,
		event.IP, event.UserAgent, event.Success, event.Error, metadata, event.Timestamp,
	)
	if err != nil {
		log.Print("vaultguard: audit append failed: ", err)
	}
}
