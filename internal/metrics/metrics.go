// Package metrics provides lock-free counters for engine observability.
// Counter storage and snapshotting live here; export formats read
// Snapshot values and live under metrics/.
package metrics

import "sync/atomic"

// MetricID identifies one counter slot.
type MetricID uint8

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricMFAChallengeIssued
	MetricMFASuccess
	MetricMFAFailure
	MetricBackupCodeUsed
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricSessionCreated
	MetricSessionRevoked
	MetricLogout
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricInviteIssued
	MetricInviteAccepted
	MetricAuditDropped

	MetricIDCount
)

// Name returns the stable snake_case identifier for a metric, used by
// exporters as the metric name suffix.
func (id MetricID) Name() string {
	switch id {
	case MetricLoginSuccess:
		return "login_success"
	case MetricLoginFailure:
		return "login_failure"
	case MetricLoginRateLimited:
		return "login_rate_limited"
	case MetricMFAChallengeIssued:
		return "mfa_challenge_issued"
	case MetricMFASuccess:
		return "mfa_success"
	case MetricMFAFailure:
		return "mfa_failure"
	case MetricBackupCodeUsed:
		return "backup_code_used"
	case MetricRefreshSuccess:
		return "refresh_success"
	case MetricRefreshFailure:
		return "refresh_failure"
	case MetricRefreshReuseDetected:
		return "refresh_reuse_detected"
	case MetricSessionCreated:
		return "session_created"
	case MetricSessionRevoked:
		return "session_revoked"
	case MetricLogout:
		return "logout"
	case MetricRegisterSuccess:
		return "register_success"
	case MetricRegisterDuplicate:
		return "register_duplicate"
	case MetricInviteIssued:
		return "invite_issued"
	case MetricInviteAccepted:
		return "invite_accepted"
	case MetricAuditDropped:
		return "audit_dropped"
	default:
		return "unknown"
	}
}

// Config controls metric collection.
type Config struct {
	Enabled bool
}

// paddedCounter keeps each slot on its own cache line so concurrent
// increments of different metrics do not contend.
type paddedCounter struct {
	value atomic.Uint64
	_     [56]byte
}

// Metrics holds the counter slots. A nil or disabled Metrics is a no-op
// on every method.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters [MetricIDCount]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].value.Add(1)
}

// Set overwrites a counter. Used for gauges sourced elsewhere, like the
// audit dispatcher's dropped count.
func (m *Metrics) Set(id MetricID, v uint64) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].value.Store(v)
}

// Snapshot returns a consistent-enough copy for export. Slots are read
// atomically but not as one transaction.
func (m *Metrics) Snapshot() Snapshot {
	var s Snapshot
	if m == nil || !m.enabled {
		return s
	}
	for i := range m.counters {
		s.Counters[i] = m.counters[i].value.Load()
	}
	return s
}
