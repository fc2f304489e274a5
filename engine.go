package vaultguard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaultguard/vaultguard/internal"
	internalaudit "github.com/vaultguard/vaultguard/internal/audit"
	internalmetrics "github.com/vaultguard/vaultguard/internal/metrics"
	"github.com/vaultguard/vaultguard/mail"
	"github.com/vaultguard/vaultguard/password"
	"github.com/vaultguard/vaultguard/session"
	"github.com/vaultguard/vaultguard/token"
)

// Engine is the authentication core. Construct it with a Builder; the
// zero value is not usable. All methods are safe for concurrent use
// when the injected collaborators are.
type Engine struct {
	config   Config
	users    UserStore
	sessions SessionStore
	mfa      MFAStore
	limiter  LoginLimiter
	mailer   mail.Sender

	hasher  *password.Hasher
	tokens  *token.Manager
	totp    *totpManager
	audit   *internalaudit.Dispatcher
	metrics *internalmetrics.Metrics

	now   func() time.Time
	sleep func(time.Duration)

	// dummyHash is verified against when the email is unknown so both
	// branches pay the same argon2 cost.
	dummyHash string
}

// Close drains the audit dispatcher. Call it on shutdown.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// Preauth returns the key-derivation parameters a client needs before
// it can compute a verifier. The response is a function of server
// configuration only; the email is accepted and ignored so the call
// reveals nothing about account existence.
func (e *Engine) Preauth(ctx context.Context, email string) (*PreauthResult, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	return &PreauthResult{Params: e.hasher.Params()}, nil
}

// Login authenticates a verifier against a stored hash. Every failure
// mode a caller can trigger with chosen input maps to
// ErrInvalidCredentials, except an exhausted attempt budget, which
// takes precedence as ErrTooManyAttempts. The whole call is padded to
// the configured floor so latency does not reveal which check failed.
func (e *Engine) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	start := e.now()
	defer internal.PadToFloor(start, e.config.Login.Floor, e.now, e.sleep)

	email := normalizeEmail(creds.Email)
	if email == "" || creds.Verifier == "" {
		return nil, ErrValidation
	}

	limited, err := e.limiter.Limited(ctx, creds.IP)
	if err != nil {
		log.Print("vaultguard: login limiter check failed: ", err)
	}
	if limited {
		e.metrics.Inc(MetricLoginRateLimited)
		e.emitAudit(ctx, AuditEvent{
			Action:    actionFailedLogin,
			IP:        creds.IP,
			UserAgent: creds.UserAgent,
			Error:     "rate limited",
			Metadata:  map[string]string{"email": email},
		})
		return nil, ErrTooManyAttempts
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		// Unknown email still pays the full verification cost.
		e.hasher.Verify(e.dummyHash, creds.Verifier)
		return nil, e.failLogin(ctx, creds, email, nil, "unknown_email")
	}

	if !e.hasher.Verify(user.VerifierHash, creds.Verifier) {
		return nil, e.failLogin(ctx, creds, email, user, "verifier_mismatch")
	}

	if user.Status != StatusActive {
		return nil, e.failLogin(ctx, creds, email, user, "status_"+string(user.Status))
	}

	if err := e.limiter.Reset(ctx, creds.IP); err != nil {
		log.Print("vaultguard: login limiter reset failed: ", err)
	}

	if user.MFAEnabled {
		challenge, err := e.tokens.IssueMFAChallenge(subjectOf(user))
		if err != nil {
			return nil, err
		}
		e.metrics.Inc(MetricMFAChallengeIssued)
		// The login audit event is withheld until the second factor
		// passes; a password alone is not a login.
		return &LoginResult{MFARequired: true, ChallengeToken: challenge}, nil
	}

	return e.establishSession(ctx, user, creds.IP, creds.UserAgent, actionLogin)
}

func (e *Engine) failLogin(ctx context.Context, creds Credentials, email string, user *UserRecord, reason string) error {
	if err := e.limiter.RecordFailure(ctx, creds.IP); err != nil {
		log.Print("vaultguard: login limiter record failed: ", err)
	}

	event := AuditEvent{
		Action:    actionFailedLogin,
		IP:        creds.IP,
		UserAgent: creds.UserAgent,
		Error:     "invalid credentials",
		Metadata:  map[string]string{"email": email, "reason": reason},
	}
	if user != nil {
		event.ActorID = user.ID
		event.OrgID = user.OrgID
	}

	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, event)
	return ErrInvalidCredentials
}

// establishSession creates a refresh session and mints the token pair.
// Shared by password-only login, MFA verification, and invitation
// acceptance; action names the audit event to emit on success.
func (e *Engine) establishSession(ctx context.Context, user *UserRecord, ip, userAgent, action string) (*LoginResult, error) {
	refresh, err := internal.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	now := e.now()
	s := &session.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		OrgID:     user.OrgID,
		TokenHash: internal.HashToken(refresh),
		UserAgent: userAgent,
		IP:        ip,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.Token.RefreshTTL),
	}

	if err := e.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	access, err := e.tokens.IssueAccess(subjectOf(user))
	if err != nil {
		// Fail closed: a session without a deliverable token pair must
		// not survive.
		if revokeErr := e.sessions.Revoke(ctx, s.ID, e.now()); revokeErr != nil {
			log.Print("vaultguard: orphan session revoke failed: ", revokeErr)
		}
		return nil, err
	}

	e.metrics.Inc(internalmetrics.MetricSessionCreated)
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		Action:    action,
		Success:   true,
		ActorID:   user.ID,
		OrgID:     user.OrgID,
		SessionID: s.ID,
		IP:        ip,
		UserAgent: userAgent,
	})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    s.ID,
	}, nil
}

// Refresh rotates a refresh token: the presented token is retired and
// a new session row is issued in one atomic unit. A token presented a
// second time hits its revoked row, which is treated as theft evidence
// and revokes every session the user has.
func (e *Engine) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*LoginResult, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil, ErrValidation
	}

	hash := internal.HashToken(refreshToken)
	current, err := e.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, e.failRefresh(ctx, nil, ip, userAgent, "unknown_token", ErrRefreshInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := e.now()

	if current.RevokedAt != nil {
		return nil, e.refreshReuse(ctx, current, ip, userAgent)
	}

	if !now.Before(current.ExpiresAt) {
		// Lazy expiry: the row is tombstoned on first sight.
		if err := e.sessions.Revoke(ctx, current.ID, now); err != nil {
			log.Print("vaultguard: expired session revoke failed: ", err)
		}
		return nil, e.failRefresh(ctx, current, ip, userAgent, "expired", ErrRefreshInvalid)
	}

	user, err := e.users.GetUserByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.failRefresh(ctx, current, ip, userAgent, "user_gone", ErrRefreshInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.Status != StatusActive {
		if err := e.sessions.Revoke(ctx, current.ID, now); err != nil {
			log.Print("vaultguard: inactive user session revoke failed: ", err)
		}
		return nil, e.failRefresh(ctx, current, ip, userAgent, "status_"+string(user.Status), ErrRefreshInvalid)
	}

	nextToken, err := internal.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	next := &session.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		OrgID:     user.OrgID,
		TokenHash: internal.HashToken(nextToken),
		UserAgent: userAgent,
		IP:        ip,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.Token.RefreshTTL),
	}

	if err := e.sessions.Rotate(ctx, current.ID, hash, next, now); err != nil {
		if errors.Is(err, ErrRefreshReuse) {
			// A concurrent redemption won the rotation race.
			return nil, e.refreshReuse(ctx, current, ip, userAgent)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	access, err := e.tokens.IssueAccess(subjectOf(user))
	if err != nil {
		if revokeErr := e.sessions.Revoke(ctx, next.ID, e.now()); revokeErr != nil {
			log.Print("vaultguard: orphan session revoke failed: ", revokeErr)
		}
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{
		Action:    actionRefreshToken,
		Success:   true,
		ActorID:   user.ID,
		OrgID:     user.OrgID,
		SessionID: next.ID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]string{"rotated_from": current.ID},
	})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: nextToken,
		SessionID:    next.ID,
	}, nil
}

func (e *Engine) failRefresh(ctx context.Context, s *session.Session, ip, userAgent, reason string, cause error) error {
	event := AuditEvent{
		Action:    actionRefreshToken,
		IP:        ip,
		UserAgent: userAgent,
		Error:     cause.Error(),
		Metadata:  map[string]string{"reason": reason},
	}
	if s != nil {
		event.ActorID = s.UserID
		event.OrgID = s.OrgID
		event.SessionID = s.ID
	}

	e.metrics.Inc(MetricRefreshFailure)
	e.emitAudit(ctx, event)
	return cause
}

// refreshReuse handles redemption of an already-rotated token. The
// original bearer or a thief holds the live descendant; revoking the
// whole family is the only safe answer.
func (e *Engine) refreshReuse(ctx context.Context, s *session.Session, ip, userAgent string) error {
	e.metrics.Inc(MetricRefreshReuseDetected)

	revoked, err := e.sessions.RevokeAllForUser(ctx, s.UserID, e.now())
	if err != nil {
		log.Print("vaultguard: reuse cascade revoke failed: ", err)
	}

	e.emitAudit(ctx, AuditEvent{
		Action:    actionRefreshToken,
		ActorID:   s.UserID,
		OrgID:     s.OrgID,
		SessionID: s.ID,
		IP:        ip,
		UserAgent: userAgent,
		Error:     ErrRefreshReuse.Error(),
		Metadata: map[string]string{
			"reason":           "reuse_detected",
			"sessions_revoked": fmt.Sprintf("%d", revoked),
		},
	})

	return ErrRefreshReuse
}

// Logout revokes the caller's own session. Revoking an already-revoked
// session is a no-op success; a session owned by someone else is
// indistinguishable from a missing one.
func (e *Engine) Logout(ctx context.Context, userID, sessionID, ip, userAgent string) error {
	return e.revokeOwned(ctx, userID, sessionID, ip, userAgent, actionLogout)
}

// RevokeSession revokes one of the caller's sessions by ID, typically
// another device from the session management surface.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID, ip, userAgent string) error {
	return e.revokeOwned(ctx, userID, sessionID, ip, userAgent, actionSessionRevoke)
}

func (e *Engine) revokeOwned(ctx context.Context, userID, sessionID, ip, userAgent, action string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if userID == "" || sessionID == "" {
		return ErrValidation
	}

	s, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if s.UserID != userID {
		// Ownership failures do not confirm the session exists.
		return ErrSessionNotFound
	}

	if s.RevokedAt == nil {
		if err := e.sessions.Revoke(ctx, s.ID, e.now()); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if action == actionLogout {
		e.metrics.Inc(MetricLogout)
	} else {
		e.metrics.Inc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, AuditEvent{
		Action:    action,
		Success:   true,
		ActorID:   userID,
		OrgID:     s.OrgID,
		SessionID: s.ID,
		IP:        ip,
		UserAgent: userAgent,
	})

	return nil
}

// Sessions lists the caller's sessions, active and revoked. Token
// hashes are blanked before the rows leave the engine.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]*session.Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrValidation
	}

	rows, err := e.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]*session.Session, 0, len(rows))
	for _, row := range rows {
		clone := *row
		clone.TokenHash = ""
		out = append(out, &clone)
	}
	return out, nil
}

// ValidateAccess parses and validates an access token and returns the
// authenticated principal. MFA-challenge and invitation tokens fail
// here regardless of signature validity.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*Principal, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ValidateAccess(tokenStr)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	return &Principal{
		UserID: claims.Subject,
		OrgID:  claims.OrgID,
		Email:  claims.Email,
		Role:   role,
	}, nil
}

func subjectOf(user *UserRecord) token.Subject {
	return token.Subject{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Email:  user.Email,
		Role:   string(user.Role),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
