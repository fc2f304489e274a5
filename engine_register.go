package vaultguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vaultguard/vaultguard/internal"
)

// Register creates an account. Without an invitation token the
// registrant founds a new organization as its owner. With one, the
// pre-created invited account is activated in the same atomic step
// that consumes the invitation.
//
// Existence of an email is only ever learned from the store's
// uniqueness constraint: two racing registrations both reach the
// insert and exactly one gets ErrDuplicateEmail.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(input.Email)
	if email == "" || input.Verifier == "" {
		return nil, ErrValidation
	}

	if input.InvitationToken != "" {
		return e.acceptInvitation(ctx, email, input)
	}

	verifierHash, err := e.hasher.Hash(input.Verifier)
	if err != nil {
		return nil, err
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		ID:           uuid.NewString(),
		OrgID:        uuid.NewString(),
		Email:        email,
		VerifierHash: verifierHash,
		Role:         RoleOwner,
		Status:       StatusActive,
		CreatedAt:    e.now(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metrics.Inc(MetricRegisterDuplicate)
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricRegisterSuccess)
	return &RegisterResult{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Role:   user.Role,
	}, nil
}

// acceptInvitation activates an invited account. The invitation token
// must validate, name the registering email, and its digest must still
// match the stored one; the store applies digest check, expiry check,
// and activation as one atomic update.
func (e *Engine) acceptInvitation(ctx context.Context, email string, input RegisterInput) (*RegisterResult, error) {
	claims, err := e.tokens.ValidateInvitation(input.InvitationToken)
	if err != nil {
		return nil, ErrInvitationGone
	}
	if normalizeEmail(claims.Email) != email {
		return nil, ErrInvitationGone
	}

	verifierHash, err := e.hasher.Hash(input.Verifier)
	if err != nil {
		return nil, err
	}

	digest := internal.HashToken(input.InvitationToken)
	user, err := e.users.AcceptInvitation(ctx, claims.Subject, digest, verifierHash, e.now())
	if err != nil {
		if errors.Is(err, ErrInvitationGone) || errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvitationGone
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricInviteAccepted)
	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEvent{
		Action:    actionAcceptInvite,
		Success:   true,
		ActorID:   user.ID,
		OrgID:     user.OrgID,
		TargetID:  user.ID,
		IP:        input.IP,
		UserAgent: input.UserAgent,
		Metadata:  map[string]string{"role": string(user.Role)},
	})

	return &RegisterResult{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Role:   user.Role,
	}, nil
}
