package vaultguard

import (
	"context"
	"io"
	"strings"
	"time"

	internalaudit "github.com/vaultguard/vaultguard/internal/audit"
	internalmetrics "github.com/vaultguard/vaultguard/internal/metrics"
	"github.com/vaultguard/vaultguard/password"
	"github.com/vaultguard/vaultguard/session"
)

// Role is the organization-scoped authorization level of a user.
// Roles form a strict ladder; comparisons go through Rank.
type Role string

const (
	// RoleViewer is an exported constant or variable used by the authentication engine.
	RoleViewer Role = "viewer"
	// RoleMember is an exported constant or variable used by the authentication engine.
	RoleMember Role = "member"
	// RoleManager is an exported constant or variable used by the authentication engine.
	RoleManager Role = "manager"
	// RoleAdmin is an exported constant or variable used by the authentication engine.
	RoleAdmin Role = "admin"
	// RoleOwner is an exported constant or variable used by the authentication engine.
	RoleOwner Role = "owner"
)

var roleRanks = map[Role]int{
	RoleViewer:  0,
	RoleMember:  1,
	RoleManager: 2,
	RoleAdmin:   3,
	RoleOwner:   4,
}

// Rank returns the role's position on the ladder; unknown roles rank
// below viewer.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether r carries at least the authority of other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// ParseRole normalizes and validates a stored or client-supplied role
// string. Enum normalization happens once here, at the boundary;
// everything past it works with the typed value.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRanks[r]; !ok {
		return "", ErrRoleInvalid
	}
	return r, nil
}

// Status is the lifecycle state of a user account.
type Status string

const (
	// StatusActive is an exported constant or variable used by the authentication engine.
	StatusActive Status = "active"
	// StatusSuspended is an exported constant or variable used by the authentication engine.
	StatusSuspended Status = "suspended"
	// StatusInvited is an exported constant or variable used by the authentication engine.
	StatusInvited Status = "invited"
)

// ParseStatus normalizes and validates a stored status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusSuspended, StatusInvited:
		return st, nil
	default:
		return "", ErrStatusInvalid
	}
}

// UserRecord is the full account record exchanged with the UserStore.
// VerifierHash is the Argon2id hash of the client-derived authentication
// verifier; the master password itself never reaches the server.
type UserRecord struct {
	ID                  string
	OrgID               string
	Email               string
	VerifierHash        string
	Role                Role
	Status              Status
	MFAEnabled          bool
	InvitationDigest    string
	InvitationExpiresAt *time.Time
	CreatedAt           time.Time
}

// CreateUserInput is the input for UserStore.CreateUser.
type CreateUserInput struct {
	ID                  string
	OrgID               string
	Email               string
	VerifierHash        string
	Role                Role
	Status              Status
	InvitationDigest    string
	InvitationExpiresAt *time.Time
	CreatedAt           time.Time
}

// UserStore is the persistence contract for user accounts. A
// CreateUser that loses an insert race on the email uniqueness
// constraint must return ErrDuplicateEmail; the engine never
// pre-checks for existence.
type UserStore interface {
	CreateUser(ctx context.Context, input CreateUserInput) (*UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (*UserRecord, error)
	// AcceptInvitation activates an invited user in one atomic step:
	// the update applies only while the stored digest matches, the
	// invitation is unexpired, and the account is still invited.
	// Anything else returns ErrInvitationGone.
	AcceptInvitation(ctx context.Context, userID, invitationDigest, verifierHash string, at time.Time) (*UserRecord, error)
	SetMFAEnabled(ctx context.Context, userID string, enabled bool) error
}

// SessionStore is the persistence contract for refresh sessions. Rows
// are never deleted; revocation is a tombstone.
type SessionStore interface {
	Create(ctx context.Context, s *session.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error)
	GetByID(ctx context.Context, sessionID string) (*session.Session, error)
	// Rotate revokes the session identified by sessionID in the same
	// atomic unit that creates next, but only while the stored token
	// hash still equals oldTokenHash and the session is unrevoked.
	// A failed compare returns ErrRefreshReuse and writes nothing.
	Rotate(ctx context.Context, sessionID, oldTokenHash string, next *session.Session, at time.Time) error
	Revoke(ctx context.Context, sessionID string, at time.Time) error
	ListByUser(ctx context.Context, userID string) ([]*session.Session, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error)
}

// MFACredential is a TOTP enrollment. BackupCodeHashes hold bcrypt
// digests of the recovery codes; plaintext codes exist only in the
// enrollment response.
type MFACredential struct {
	UserID           string
	OrgID            string
	Secret           string
	BackupCodeHashes []string
	CreatedAt        time.Time
	ConfirmedAt      *time.Time
}

// MFAStore is the persistence contract for TOTP credentials.
type MFAStore interface {
	// UpsertCredential saves an enrollment. Replacing a confirmed
	// credential is the store's caller's responsibility to forbid.
	UpsertCredential(ctx context.Context, cred *MFACredential) error
	GetCredential(ctx context.Context, userID string) (*MFACredential, error)
	Confirm(ctx context.Context, userID string, at time.Time) error
	// ConsumeBackupCode removes codeHash from the credential if still
	// present. The check and removal are one atomic unit, so a backup
	// code redeemed from two sessions at once succeeds exactly once.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	DeleteCredential(ctx context.Context, userID string) error
}

// LoginLimiter tracks failed login attempts per client address. The
// engine checks the budget before touching credential storage and
// resets it after a correct verifier.
type LoginLimiter interface {
	Limited(ctx context.Context, key string) (bool, error)
	RecordFailure(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// Credentials is the input for Engine.Login.
type Credentials struct {
	Email     string
	Verifier  string
	IP        string
	UserAgent string
}

// LoginResult is returned by Engine.Login, Engine.VerifyMFA, and
// Engine.Refresh. When MFARequired is set only ChallengeToken is
// populated; the caller must complete VerifyMFA to obtain tokens.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string

	MFARequired    bool
	ChallengeToken string
}

// Principal is the authenticated identity extracted from a validated
// access token.
type Principal struct {
	UserID string
	OrgID  string
	Email  string
	Role   Role
}

// PreauthResult carries the key-derivation parameters a client needs
// before it can produce a verifier. The response is identical for
// every email, known or not.
type PreauthResult struct {
	Params password.Params
}

// RegisterInput is the input for Engine.Register. Without an
// invitation token the registrant founds a new organization as its
// owner; with one they join the inviting organization in the invited
// role.
type RegisterInput struct {
	Email           string
	Verifier        string
	InvitationToken string
	IP              string
	UserAgent       string
}

// RegisterResult is returned by Engine.Register.
type RegisterResult struct {
	UserID string
	OrgID  string
	Role   Role
}

// InviteInput is the input for Engine.InviteUser. Actor is the
// authenticated principal issuing the invite.
type InviteInput struct {
	Actor     Principal
	Email     string
	Role      Role
	OrgName   string
	IP        string
	UserAgent string
}

// InviteResult is returned by Engine.InviteUser.
type InviteResult struct {
	UserID string
	Link   string
}

// VerifyMFAInput is the input for Engine.VerifyMFA. Code is either a
// TOTP code or a backup code; the engine tries both.
type VerifyMFAInput struct {
	ChallengeToken string
	Code           string
	IP             string
	UserAgent      string
}

// MFAEnrollment is returned by Engine.EnrollMFA. The secret, the
// otpauth URI, and the backup codes appear here once and are never
// retrievable again.
type MFAEnrollment struct {
	Secret      string
	URI         string
	BackupCodes []string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an AuditSink that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an AuditSink that writes JSON-encoded events to an
// io.Writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter in the in-process metrics
// system.
type MetricID = internalmetrics.MetricID

const (
	// MetricLoginSuccess is an exported constant or variable used by the authentication engine.
	MetricLoginSuccess = internalmetrics.MetricLoginSuccess
	// MetricLoginFailure is an exported constant or variable used by the authentication engine.
	MetricLoginFailure = internalmetrics.MetricLoginFailure
	// MetricLoginRateLimited is an exported constant or variable used by the authentication engine.
	MetricLoginRateLimited = internalmetrics.MetricLoginRateLimited
	// MetricMFAChallengeIssued is an exported constant or variable used by the authentication engine.
	MetricMFAChallengeIssued = internalmetrics.MetricMFAChallengeIssued
	// MetricMFASuccess is an exported constant or variable used by the authentication engine.
	MetricMFASuccess = internalmetrics.MetricMFASuccess
	// MetricMFAFailure is an exported constant or variable used by the authentication engine.
	MetricMFAFailure = internalmetrics.MetricMFAFailure
	// MetricBackupCodeUsed is an exported constant or variable used by the authentication engine.
	MetricBackupCodeUsed = internalmetrics.MetricBackupCodeUsed
	// MetricRefreshSuccess is an exported constant or variable used by the authentication engine.
	MetricRefreshSuccess = internalmetrics.MetricRefreshSuccess
	// MetricRefreshFailure is an exported constant or variable used by the authentication engine.
	MetricRefreshFailure = internalmetrics.MetricRefreshFailure
	// MetricRefreshReuseDetected is an exported constant or variable used by the authentication engine.
	MetricRefreshReuseDetected = internalmetrics.MetricRefreshReuseDetected
	// MetricSessionCreated is an exported constant or variable used by the authentication engine.
	MetricSessionCreated = internalmetrics.MetricSessionCreated
	// MetricSessionRevoked is an exported constant or variable used by the authentication engine.
	MetricSessionRevoked = internalmetrics.MetricSessionRevoked
	// MetricLogout is an exported constant or variable used by the authentication engine.
	MetricLogout = internalmetrics.MetricLogout
	// MetricRegisterSuccess is an exported constant or variable used by the authentication engine.
	MetricRegisterSuccess = internalmetrics.MetricRegisterSuccess
	// MetricRegisterDuplicate is an exported constant or variable used by the authentication engine.
	MetricRegisterDuplicate = internalmetrics.MetricRegisterDuplicate
	// MetricInviteIssued is an exported constant or variable used by the authentication engine.
	MetricInviteIssued = internalmetrics.MetricInviteIssued
	// MetricInviteAccepted is an exported constant or variable used by the authentication engine.
	MetricInviteAccepted = internalmetrics.MetricInviteAccepted
)

// Metrics holds atomic counters for engine observability.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot
