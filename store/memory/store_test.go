package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vaultguard/vaultguard"
	"github.com/vaultguard/vaultguard/session"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func activeUser(id, email string) vaultguard.CreateUserInput {
	return vaultguard.CreateUserInput{
		ID:           id,
		OrgID:        "org-1",
		Email:        email,
		VerifierHash: "hash",
		Role:         vaultguard.RoleOwner,
		Status:       vaultguard.StatusActive,
		CreatedAt:    base,
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := New()

	if _, err := store.CreateUser(context.Background(), activeUser("u1", "alice@example.com")); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	_, err := store.CreateUser(context.Background(), activeUser("u2", "alice@example.com"))
	if !errors.Is(err, vaultguard.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestUserCopyOutIsolation(t *testing.T) {
	store := New()
	created, err := store.CreateUser(context.Background(), activeUser("u1", "alice@example.com"))
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	// Mutating a returned record must not leak into the store.
	created.Email = "tampered@example.com"
	created.Status = vaultguard.StatusSuspended

	stored, err := store.GetUserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if stored.Email != "alice@example.com" || stored.Status != vaultguard.StatusActive {
		t.Fatalf("store state leaked: %+v", stored)
	}
}

func TestAcceptInvitation(t *testing.T) {
	store := New()
	expires := base.Add(7 * 24 * time.Hour)

	_, err := store.CreateUser(context.Background(), vaultguard.CreateUserInput{
		ID:                  "u1",
		OrgID:               "org-1",
		Email:               "carol@example.com",
		Role:                vaultguard.RoleMember,
		Status:              vaultguard.StatusInvited,
		InvitationDigest:    "digest-1",
		InvitationExpiresAt: &expires,
		CreatedAt:           base,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	// Wrong digest leaves the row untouched.
	if _, err := store.AcceptInvitation(context.Background(), "u1", "wrong", "new-hash", base); !errors.Is(err, vaultguard.ErrInvitationGone) {
		t.Fatalf("expected ErrInvitationGone, got %v", err)
	}

	// Past expiry the digest no longer matters.
	if _, err := store.AcceptInvitation(context.Background(), "u1", "digest-1", "new-hash", expires.Add(time.Second)); !errors.Is(err, vaultguard.ErrInvitationGone) {
		t.Fatalf("expected ErrInvitationGone after expiry, got %v", err)
	}

	user, err := store.AcceptInvitation(context.Background(), "u1", "digest-1", "new-hash", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
	if user.Status != vaultguard.StatusActive || user.VerifierHash != "new-hash" {
		t.Fatalf("unexpected accepted record: %+v", user)
	}
	if user.InvitationDigest != "" || user.InvitationExpiresAt != nil {
		t.Fatal("invitation fields not cleared")
	}

	// Second acceptance fails: the digest was consumed.
	if _, err := store.AcceptInvitation(context.Background(), "u1", "digest-1", "other-hash", base.Add(time.Hour)); !errors.Is(err, vaultguard.ErrInvitationGone) {
		t.Fatalf("expected ErrInvitationGone on reuse, got %v", err)
	}

	if _, err := store.AcceptInvitation(context.Background(), "missing", "digest-1", "h", base); !errors.Is(err, vaultguard.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func newSession(id, userID, hash string) *session.Session {
	return &session.Session{
		ID:        id,
		UserID:    userID,
		OrgID:     "org-1",
		TokenHash: hash,
		CreatedAt: base,
		ExpiresAt: base.Add(7 * 24 * time.Hour),
	}
}

func TestRotateCompareAndRevoke(t *testing.T) {
	store := New()
	if err := store.Create(context.Background(), newSession("s1", "u1", "hash-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Rotate(context.Background(), "s1", "hash-1", newSession("s2", "u1", "hash-2"), base.Add(time.Minute)); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	old, err := store.GetByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if old.RevokedAt == nil {
		t.Fatal("rotated-from session not revoked")
	}

	next, err := store.GetByTokenHash(context.Background(), "hash-2")
	if err != nil {
		t.Fatalf("successor not reachable by hash: %v", err)
	}
	if next.ID != "s2" {
		t.Fatalf("unexpected successor: %+v", next)
	}

	// A second rotation from the consumed hash is reuse.
	err = store.Rotate(context.Background(), "s1", "hash-1", newSession("s3", "u1", "hash-3"), base.Add(2*time.Minute))
	if !errors.Is(err, vaultguard.ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	err = store.Rotate(context.Background(), "missing", "hash-1", newSession("s4", "u1", "hash-4"), base)
	if !errors.Is(err, vaultguard.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRotateSingleWinnerUnderContention(t *testing.T) {
	store := New()
	if err := store.Create(context.Background(), newSession("s1", "u1", "hash-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan int, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := newSession("next", "u1", "hash-next")
			if store.Rotate(context.Background(), "s1", "hash-1", next, base) == nil {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestRevokeIdempotentTimestamp(t *testing.T) {
	store := New()
	if err := store.Create(context.Background(), newSession("s1", "u1", "hash-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first := base.Add(time.Minute)
	if err := store.Revoke(context.Background(), "s1", first); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := store.Revoke(context.Background(), "s1", base.Add(time.Hour)); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}

	s, err := store.GetByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !s.RevokedAt.Equal(first) {
		t.Fatalf("revocation timestamp overwritten: %v", s.RevokedAt)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	store := New()
	for _, s := range []*session.Session{
		newSession("s1", "u1", "hash-1"),
		newSession("s2", "u1", "hash-2"),
		newSession("s3", "u2", "hash-3"),
	} {
		if err := store.Create(context.Background(), s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if err := store.Revoke(context.Background(), "s2", base); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err := store.RevokeAllForUser(context.Background(), "u1", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("expected 1 newly revoked session, got %d", revoked)
	}

	other, err := store.GetByID(context.Background(), "s3")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if other.RevokedAt != nil {
		t.Fatal("other user's session revoked")
	}
}

func TestConsumeBackupCodeAtomic(t *testing.T) {
	store := New()
	if err := store.UpsertCredential(context.Background(), &vaultguard.MFACredential{
		UserID:           "u1",
		OrgID:            "org-1",
		Secret:           "secret",
		BackupCodeHashes: []string{"h1", "h2", "h3"},
		CreatedAt:        base,
	}); err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}

	consumed, err := store.ConsumeBackupCode(context.Background(), "u1", "h2")
	if err != nil {
		t.Fatalf("ConsumeBackupCode failed: %v", err)
	}
	if !consumed {
		t.Fatal("matching hash not consumed")
	}

	// The same hash cannot be consumed twice.
	consumed, err = store.ConsumeBackupCode(context.Background(), "u1", "h2")
	if err != nil {
		t.Fatalf("ConsumeBackupCode failed: %v", err)
	}
	if consumed {
		t.Fatal("hash consumed twice")
	}

	cred, err := store.GetCredential(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if len(cred.BackupCodeHashes) != 2 {
		t.Fatalf("expected 2 remaining hashes, got %d", len(cred.BackupCodeHashes))
	}

	if _, err := store.ConsumeBackupCode(context.Background(), "missing", "h1"); !errors.Is(err, vaultguard.ErrMFANotEnrolled) {
		t.Fatalf("expected ErrMFANotEnrolled, got %v", err)
	}
}

func TestConfirmAndDeleteCredential(t *testing.T) {
	store := New()
	if err := store.UpsertCredential(context.Background(), &vaultguard.MFACredential{
		UserID:    "u1",
		OrgID:     "org-1",
		Secret:    "secret",
		CreatedAt: base,
	}); err != nil {
		t.Fatalf("UpsertCredential failed: %v", err)
	}

	at := base.Add(time.Minute)
	if err := store.Confirm(context.Background(), "u1", at); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	cred, err := store.GetCredential(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.ConfirmedAt == nil || !cred.ConfirmedAt.Equal(at) {
		t.Fatalf("unexpected confirmation timestamp: %v", cred.ConfirmedAt)
	}

	if err := store.DeleteCredential(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteCredential failed: %v", err)
	}
	if _, err := store.GetCredential(context.Background(), "u1"); !errors.Is(err, vaultguard.ErrMFANotEnrolled) {
		t.Fatalf("expected ErrMFANotEnrolled after delete, got %v", err)
	}

	if err := store.Confirm(context.Background(), "u1", at); !errors.Is(err, vaultguard.ErrMFANotEnrolled) {
		t.Fatalf("expected ErrMFANotEnrolled, got %v", err)
	}
}
