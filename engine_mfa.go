package vaultguard

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"github.com/vaultguard/vaultguard/internal"
)

// EnrollMFA starts TOTP enrollment: a fresh secret, a provisioning
// URI, and one-time backup codes. Everything is returned exactly once;
// only the secret and bcrypt digests of the codes are stored. The
// enrollment is inert until ConfirmMFA proves the authenticator works.
func (e *Engine) EnrollMFA(ctx context.Context, userID string) (*MFAEnrollment, error) {
	if e == nil || e.mfa == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrValidation
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	existing, err := e.mfa.GetCredential(ctx, userID)
	if err != nil && !errors.Is(err, ErrMFANotEnrolled) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing != nil && existing.ConfirmedAt != nil {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, e.config.Backup.Count)
	hashes := make([]string, 0, e.config.Backup.Count)
	for i := 0; i < e.config.Backup.Count; i++ {
		code, err := internal.NewBackupCode(e.config.Backup.Length)
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		codes = append(codes, internal.FormatBackupCode(code))
		hashes = append(hashes, string(hash))
	}

	cred := &MFACredential{
		UserID:           userID,
		OrgID:            user.OrgID,
		Secret:           secret,
		BackupCodeHashes: hashes,
		CreatedAt:        e.now(),
	}
	if err := e.mfa.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &MFAEnrollment{
		Secret:      secret,
		URI:         e.totp.ProvisioningURI(secret, user.Email, e.config.Issuer),
		BackupCodes: codes,
	}, nil
}

// ConfirmMFA completes enrollment with a live TOTP code. Only a
// confirmed enrollment flips the account's MFA flag; an attacker who
// can write but not read the authenticator never reaches this point.
func (e *Engine) ConfirmMFA(ctx context.Context, userID, code, ip, userAgent string) error {
	if e == nil || e.mfa == nil {
		return ErrEngineNotReady
	}
	if userID == "" || code == "" {
		return ErrValidation
	}

	cred, err := e.mfa.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrMFANotEnrolled) {
			return ErrMFANotEnrolled
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if cred.ConfirmedAt != nil {
		return ErrMFAAlreadyEnabled
	}

	if !e.totp.Verify(cred.Secret, code, e.now()) {
		return ErrMFACodeInvalid
	}

	if err := e.mfa.Confirm(ctx, userID, e.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.users.SetMFAEnabled(ctx, userID, true); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, AuditEvent{
		Action:    actionMFAEnable,
		Success:   true,
		ActorID:   userID,
		OrgID:     cred.OrgID,
		IP:        ip,
		UserAgent: userAgent,
	})

	return nil
}

// VerifyMFA completes a login that required a second factor. It
// accepts a live TOTP code or an unused backup code; a backup code is
// consumed atomically so it can never succeed twice. The login audit
// event is emitted here, when authentication actually completes.
func (e *Engine) VerifyMFA(ctx context.Context, input VerifyMFAInput) (*LoginResult, error) {
	if e == nil || e.mfa == nil {
		return nil, ErrEngineNotReady
	}
	if input.ChallengeToken == "" || input.Code == "" {
		return nil, ErrValidation
	}

	limited, err := e.limiter.Limited(ctx, input.IP)
	if err != nil {
		log.Print("vaultguard: mfa limiter check failed: ", err)
	}
	if limited {
		e.metrics.Inc(MetricLoginRateLimited)
		return nil, ErrTooManyAttempts
	}

	claims, err := e.tokens.ValidateMFAChallenge(input.ChallengeToken)
	if err != nil {
		return nil, ErrMFAChallengeInvalid
	}

	user, err := e.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrMFAChallengeInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.Status != StatusActive || !user.MFAEnabled {
		return nil, ErrMFAChallengeInvalid
	}

	cred, err := e.mfa.GetCredential(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrMFANotEnrolled) {
			return nil, ErrMFAChallengeInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if cred.ConfirmedAt == nil {
		return nil, ErrMFAChallengeInvalid
	}

	matched := e.totp.Verify(cred.Secret, input.Code, e.now())
	usedBackup := false
	if !matched {
		usedBackup, err = e.consumeBackupCode(ctx, cred, input.Code)
		if err != nil {
			return nil, err
		}
		matched = usedBackup
	}

	if !matched {
		if err := e.limiter.RecordFailure(ctx, input.IP); err != nil {
			log.Print("vaultguard: mfa limiter record failed: ", err)
		}
		e.metrics.Inc(MetricMFAFailure)
		e.emitAudit(ctx, AuditEvent{
			Action:    actionFailedLogin,
			ActorID:   user.ID,
			OrgID:     user.OrgID,
			IP:        input.IP,
			UserAgent: input.UserAgent,
			Error:     ErrMFACodeInvalid.Error(),
			Metadata:  map[string]string{"reason": "mfa_code_invalid"},
		})
		return nil, ErrMFACodeInvalid
	}

	if err := e.limiter.Reset(ctx, input.IP); err != nil {
		log.Print("vaultguard: mfa limiter reset failed: ", err)
	}

	e.metrics.Inc(MetricMFASuccess)
	if usedBackup {
		e.metrics.Inc(MetricBackupCodeUsed)
	}

	result, err := e.establishSession(ctx, user, input.IP, input.UserAgent, actionLogin)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// consumeBackupCode tries the code against the stored bcrypt digests
// and, on a match, removes that digest in one atomic store operation.
// Two sessions redeeming the same code race on the removal and exactly
// one wins.
func (e *Engine) consumeBackupCode(ctx context.Context, cred *MFACredential, code string) (bool, error) {
	canonical := internal.CanonicalizeBackupCode(code)
	if canonical == "" {
		return false, nil
	}

	for _, hash := range cred.BackupCodeHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(canonical)) != nil {
			continue
		}
		consumed, err := e.mfa.ConsumeBackupCode(ctx, cred.UserID, hash)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return consumed, nil
	}

	return false, nil
}

// DisableMFA removes a confirmed enrollment. A valid TOTP or backup
// code is required, the account flag is cleared, every session is
// revoked, and mfa_disable is audited.
func (e *Engine) DisableMFA(ctx context.Context, userID, code, ip, userAgent string) error {
	if e == nil || e.mfa == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrValidation
	}

	cred, err := e.mfa.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrMFANotEnrolled) {
			return ErrMFANotEnrolled
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if cred.ConfirmedAt != nil {
		matched := e.totp.Verify(cred.Secret, code, e.now())
		if !matched {
			usedBackup, err := e.consumeBackupCode(ctx, cred, code)
			if err != nil {
				return err
			}
			matched = usedBackup
		}
		if !matched {
			return ErrMFACodeInvalid
		}
	}

	if err := e.mfa.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.users.SetMFAEnabled(ctx, userID, false); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := e.sessions.RevokeAllForUser(ctx, userID, e.now()); err != nil {
		log.Print("vaultguard: mfa disable session revoke failed: ", err)
	}

	e.emitAudit(ctx, AuditEvent{
		Action:    actionMFADisable,
		Success:   true,
		ActorID:   userID,
		OrgID:     cred.OrgID,
		IP:        ip,
		UserAgent: userAgent,
	})

	return nil
}
