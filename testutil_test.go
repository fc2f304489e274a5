package vaultguard

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/vaultguard/vaultguard/session"
)

var (
	testKeyOnce sync.Once
	testKeyPEM  []byte
)

func testPrivateKeyPEM(t *testing.T) []byte {
	t.Helper()

	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeyPEM = pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
	})

	return testKeyPEM
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
}

func (s *sleepRecorder) Slept() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.slept))
	copy(out, s.slept)
	return out
}

// recordSink captures audit events for assertions. The dispatcher
// delivers asynchronously, so lookups poll.
type recordSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordSink) Emit(ctx context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordSink) find(action string) *AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].Action == action {
			return &s.events[i]
		}
	}
	return nil
}

func (s *recordSink) waitFor(t *testing.T, action string) AuditEvent {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev := s.find(action); ev != nil {
			return *ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q audit event recorded", action)
	return AuditEvent{}
}

// mockStore is the in-test implementation of every persistence
// collaborator, one mutex over plain maps.
type mockStore struct {
	mu sync.Mutex

	users    map[string]*UserRecord
	byEmail  map[string]string
	sessions map[string]*session.Session
	byHash   map[string]string
	creds    map[string]*MFACredential
}

func newMockStore() *mockStore {
	return &mockStore{
		users:    make(map[string]*UserRecord),
		byEmail:  make(map[string]string),
		sessions: make(map[string]*session.Session),
		byHash:   make(map[string]string),
		creds:    make(map[string]*MFACredential),
	}
}

func (m *mockStore) CreateUser(ctx context.Context, input CreateUserInput) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[input.Email]; exists {
		return nil, ErrDuplicateEmail
	}
	user := &UserRecord{
		ID:                  input.ID,
		OrgID:               input.OrgID,
		Email:               input.Email,
		VerifierHash:        input.VerifierHash,
		Role:                input.Role,
		Status:              input.Status,
		InvitationDigest:    input.InvitationDigest,
		InvitationExpiresAt: input.InvitationExpiresAt,
		CreatedAt:           input.CreatedAt,
	}
	m.users[user.ID] = user
	m.byEmail[user.Email] = user.ID

	clone := *user
	return &clone, nil
}

func (m *mockStore) GetUserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *m.users[id]
	return &clone, nil
}

func (m *mockStore) GetUserByID(ctx context.Context, userID string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *mockStore) AcceptInvitation(ctx context.Context, userID, invitationDigest, verifierHash string, at time.Time) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if user.Status != StatusInvited ||
		user.InvitationDigest == "" ||
		user.InvitationDigest != invitationDigest ||
		user.InvitationExpiresAt == nil ||
		!at.Before(*user.InvitationExpiresAt) {
		return nil, ErrInvitationGone
	}

	user.Status = StatusActive
	user.VerifierHash = verifierHash
	user.InvitationDigest = ""
	user.InvitationExpiresAt = nil

	clone := *user
	return &clone, nil
}

func (m *mockStore) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.MFAEnabled = enabled
	return nil
}

func (m *mockStore) Create(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *s
	m.sessions[clone.ID] = &clone
	m.byHash[clone.TokenHash] = clone.ID
	return nil
}

func (m *mockStore) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *m.sessions[id]
	return &clone, nil
}

func (m *mockStore) GetByID(ctx context.Context, sessionID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *mockStore) Rotate(ctx context.Context, sessionID, oldTokenHash string, next *session.Session, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if current.TokenHash != oldTokenHash || current.RevokedAt != nil {
		return ErrRefreshReuse
	}

	revokedAt := at
	current.RevokedAt = &revokedAt

	clone := *next
	m.sessions[clone.ID] = &clone
	m.byHash[clone.TokenHash] = clone.ID
	return nil
}

func (m *mockStore) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.RevokedAt == nil {
		revokedAt := at
		s.RevokedAt = &revokedAt
	}
	return nil
}

func (m *mockStore) ListByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*session.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			clone := *s
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	revoked := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			revokedAt := at
			s.RevokedAt = &revokedAt
			revoked++
		}
	}
	return revoked, nil
}

func (m *mockStore) UpsertCredential(ctx context.Context, cred *MFACredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *cred
	clone.BackupCodeHashes = append([]string(nil), cred.BackupCodeHashes...)
	m.creds[cred.UserID] = &clone
	return nil
}

func (m *mockStore) GetCredential(ctx context.Context, userID string) (*MFACredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[userID]
	if !ok {
		return nil, ErrMFANotEnrolled
	}
	clone := *cred
	clone.BackupCodeHashes = append([]string(nil), cred.BackupCodeHashes...)
	return &clone, nil
}

func (m *mockStore) Confirm(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[userID]
	if !ok {
		return ErrMFANotEnrolled
	}
	confirmedAt := at
	cred.ConfirmedAt = &confirmedAt
	return nil
}

func (m *mockStore) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[userID]
	if !ok {
		return false, ErrMFANotEnrolled
	}
	for i, hash := range cred.BackupCodeHashes {
		if hash == codeHash {
			cred.BackupCodeHashes = append(cred.BackupCodeHashes[:i], cred.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) DeleteCredential(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.creds, userID)
	return nil
}

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := defaultConfig()
	cfg.Token.PrivateKeyPEM = testPrivateKeyPEM(t)
	// Cheapest parameters the hasher accepts; production costs would
	// dominate the test run.
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	cfg.Audit.BufferSize = 64
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *mockStore
	clock  *fakeClock
	sleeps *sleepRecorder
	sink   *recordSink
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	store := newMockStore()
	clock := newFakeClock()
	sleeps := &sleepRecorder{}
	sink := &recordSink{}

	engine, err := New().
		WithConfig(cfg).
		WithUsers(store).
		WithSessions(store).
		WithMFA(store).
		WithAuditSink(sink).
		WithClock(clock.Now).
		WithSleep(sleeps.Sleep).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		store:  store,
		clock:  clock,
		sleeps: sleeps,
		sink:   sink,
	}
}

// registerUser creates an active owner account and returns it.
func (env *testEnv) registerUser(t *testing.T, email, verifier string) *RegisterResult {
	t.Helper()

	res, err := env.engine.Register(context.Background(), RegisterInput{
		Email:    email,
		Verifier: verifier,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return res
}

// totpCode computes the valid code for a secret at the engine's
// current fake time.
func (env *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()

	mgr := env.engine.totp
	counter := env.clock.Now().Unix() / int64(mgr.period)
	raw, err := base32NoPad.DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	code, err := hotp(raw, counter, mgr.digits)
	if err != nil {
		t.Fatalf("hotp: %v", err)
	}
	return code
}
