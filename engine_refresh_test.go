package vaultguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loginFor(t *testing.T, env *testEnv, email, verifier string) *LoginResult {
	t.Helper()

	res, err := env.engine.Login(context.Background(), Credentials{
		Email: email, Verifier: verifier, IP: "198.51.100.1", UserAgent: "cli/1.0",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.registerUser(t, "alice@example.com", "verifier-alice")
	first := loginFor(t, env, "alice@example.com", "verifier-alice")

	second, err := env.engine.Refresh(context.Background(), first.RefreshToken, "198.51.100.1", "cli/1.0")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if second.SessionID == first.SessionID {
		t.Fatal("expected a new session row")
	}

	// The original row survives as a revoked tombstone.
	old, err := env.store.GetByID(context.Background(), first.SessionID)
	if err != nil {
		t.Fatalf("original session gone: %v", err)
	}
	if old.RevokedAt == nil {
		t.Fatal("original session not revoked")
	}

	ev := env.sink.waitFor(t, "refresh_token")
	if !ev.Success || ev.Metadata["rotated_from"] != first.SessionID {
		t.Fatalf("unexpected refresh event: %+v", ev)
	}
}

func TestRefreshDoubleRedemptionRevokesFamily(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	reg := env.registerUser(t, "alice@example.com", "verifier-alice")
	first := loginFor(t, env, "alice@example.com", "verifier-alice")

	if _, err := env.engine.Refresh(context.Background(), first.RefreshToken, "198.51.100.1", "cli/1.0"); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}

	_, err := env.engine.Refresh(context.Background(), first.RefreshToken, "198.51.100.1", "cli/1.0")
	if !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	// Reuse is theft evidence: every session of the user is revoked,
	// including the live descendant.
	sessions, err := env.engine.Sessions(context.Background(), reg.UserID)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	for _, s := range sessions {
		if s.RevokedAt == nil {
			t.Fatalf("session %s still active after reuse", s.ID)
		}
	}
}

func TestRefreshExpiredSessionRevokedLazily(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg)
	env.registerUser(t, "alice@example.com", "verifier-alice")
	res := loginFor(t, env, "alice@example.com", "verifier-alice")

	env.clock.Advance(cfg.Token.RefreshTTL + time.Minute)

	_, err := env.engine.Refresh(context.Background(), res.RefreshToken, "198.51.100.1", "cli/1.0")
	if !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}

	s, err := env.store.GetByID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("session gone: %v", err)
	}
	if s.RevokedAt == nil {
		t.Fatal("expired session not tombstoned on first sight")
	}
}

func TestRefreshUnknownTokenFails(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	_, err := env.engine.Refresh(context.Background(), "never-issued", "198.51.100.1", "cli/1.0")
	if !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefreshSuspendedUserFails(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	reg := env.registerUser(t, "alice@example.com", "verifier-alice")
	res := loginFor(t, env, "alice@example.com", "verifier-alice")

	env.store.mu.Lock()
	env.store.users[reg.UserID].Status = StatusSuspended
	env.store.mu.Unlock()

	_, err := env.engine.Refresh(context.Background(), res.RefreshToken, "198.51.100.1", "cli/1.0")
	if !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestAccessTokenCannotRefresh(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.registerUser(t, "alice@example.com", "verifier-alice")
	res := loginFor(t, env, "alice@example.com", "verifier-alice")

	// Opaque refresh lookups go by digest; a JWT digest matches no row.
	_, err := env.engine.Refresh(context.Background(), res.AccessToken, "198.51.100.1", "cli/1.0")
	if !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}
