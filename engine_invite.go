package vaultguard

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/vaultguard/vaultguard/internal"
	"github.com/vaultguard/vaultguard/mail"
	"github.com/vaultguard/vaultguard/token"
)

// InviteUser invites an email address into the actor's organization.
// The invited account is pre-created in the invited status, only the
// SHA-256 digest of the invitation token is stored, and the mailer is
// handed the link strictly after the account row is durable. Admins
// and owners may invite; nobody may invite at or above their own rank,
// and owner invitations are never issued.
func (e *Engine) InviteUser(ctx context.Context, input InviteInput) (*InviteResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, ErrValidation
	}
	role, err := ParseRole(string(input.Role))
	if err != nil {
		return nil, ErrRoleInvalid
	}

	if !input.Actor.Role.AtLeast(RoleAdmin) {
		return nil, ErrPermissionDenied
	}
	if role == RoleOwner || role.Rank() >= input.Actor.Role.Rank() {
		return nil, ErrPermissionDenied
	}

	userID := uuid.NewString()
	now := e.now()

	invitation, err := e.tokens.IssueInvitation(token.Subject{
		UserID: userID,
		OrgID:  input.Actor.OrgID,
		Email:  email,
		Role:   string(role),
	})
	if err != nil {
		return nil, err
	}

	digest := internal.HashToken(invitation)
	expiresAt := now.Add(e.config.Token.InvitationTTL)

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		ID:                  userID,
		OrgID:               input.Actor.OrgID,
		Email:               email,
		Role:                role,
		Status:              StatusInvited,
		InvitationDigest:    digest,
		InvitationExpiresAt: &expiresAt,
		CreatedAt:           now,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	link := e.config.InvitationLinkBaseURL + "/" + invitation

	e.metrics.Inc(MetricInviteIssued)
	e.emitAudit(ctx, AuditEvent{
		Action:    actionInviteUser,
		Success:   true,
		ActorID:   input.Actor.UserID,
		OrgID:     input.Actor.OrgID,
		TargetID:  user.ID,
		IP:        input.IP,
		UserAgent: input.UserAgent,
		Metadata:  map[string]string{"role": string(role)},
	})

	// Delivery is best-effort; the invitation is already durable and
	// can be re-sent.
	if err := e.mailer.SendInvitation(ctx, mail.Invitation{
		Email:     email,
		OrgName:   input.OrgName,
		InviterID: input.Actor.UserID,
		Role:      string(role),
		Link:      link,
	}); err != nil {
		log.Print("vaultguard: invitation delivery failed: ", err)
	}

	return &InviteResult{
		UserID: user.ID,
		Link:   link,
	}, nil
}
