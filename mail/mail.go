// Package mail defines the outbound invitation delivery contract.
// Delivery providers live outside the engine; the engine only hands a
// finished invitation to a Sender after the invitation row is durable.
package mail

import (
	"context"
	"log"
	"sync"

	"golang.org/x/time/rate"
)

// Invitation is everything a provider needs to deliver an invite.
// Link already embeds the one-time token; it must not be logged.
type Invitation struct {
	Email     string
	OrgName   string
	InviterID string
	Role      string
	Link      string
}

// Sender delivers invitation mail.
type Sender interface {
	SendInvitation(ctx context.Context, inv Invitation) error
}

// Stub logs delivery instead of sending. Development default, matching
// deployments that run without a mail provider.
type Stub struct{}

func (Stub) SendInvitation(ctx context.Context, inv Invitation) error {
	log.Printf("vaultguard: invitation mail stubbed for %s (role %s)", inv.Email, inv.Role)
	return nil
}

// Recorder captures invitations for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Invitation
}

func (r *Recorder) SendInvitation(ctx context.Context, inv Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, inv)
	return nil
}

func (r *Recorder) Sent() []Invitation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invitation, len(r.sent))
	copy(out, r.sent)
	return out
}

// Throttled wraps a Sender with a token-bucket limit so a burst of
// invites cannot flood the provider. Waits for a slot rather than
// dropping; the caller's context bounds the wait.
type Throttled struct {
	next    Sender
	limiter *rate.Limiter
}

// NewThrottled allows perSecond deliveries with the given burst.
func NewThrottled(next Sender, perSecond float64, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttled) SendInvitation(ctx context.Context, inv Invitation) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.next.SendInvitation(ctx, inv)
}
