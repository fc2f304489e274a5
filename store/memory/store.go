// Package memory provides an in-process implementation of every
// persistence collaborator. It backs the test suite and single-node
// evaluation setups; production deployments use store/postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vaultguard/vaultguard"
	"github.com/vaultguard/vaultguard/session"
)

// Store holds users, sessions, and MFA credentials behind one mutex,
// which makes the compare-and-revoke and backup-code invariants
// trivially atomic.
type Store struct {
	mu sync.Mutex

	usersByID     map[string]*vaultguard.UserRecord
	userIDByEmail map[string]string

	sessionsByID    map[string]*session.Session
	sessionIDByHash map[string]string

	creds map[string]*vaultguard.MFACredential
}

func New() *Store {
	return &Store{
		usersByID:       make(map[string]*vaultguard.UserRecord),
		userIDByEmail:   make(map[string]string),
		sessionsByID:    make(map[string]*session.Session),
		sessionIDByHash: make(map[string]string),
		creds:           make(map[string]*vaultguard.MFACredential),
	}
}

/*
====================================
USER STORE
====================================
*/

func (s *Store) CreateUser(ctx context.Context, input vaultguard.CreateUserInput) (*vaultguard.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The email index plays the role of the relational uniqueness
	// constraint: the insert itself detects the duplicate.
	if _, exists := s.userIDByEmail[input.Email]; exists {
		return nil, vaultguard.ErrDuplicateEmail
	}

	user := &vaultguard.UserRecord{
		ID:                  input.ID,
		OrgID:               input.OrgID,
		Email:               input.Email,
		VerifierHash:        input.VerifierHash,
		Role:                input.Role,
		Status:              input.Status,
		InvitationDigest:    input.InvitationDigest,
		InvitationExpiresAt: copyTime(input.InvitationExpiresAt),
		CreatedAt:           input.CreatedAt,
	}

	s.usersByID[user.ID] = user
	s.userIDByEmail[user.Email] = user.ID

	return copyUser(user), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*vaultguard.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.userIDByEmail[email]
	if !ok {
		return nil, vaultguard.ErrUserNotFound
	}
	return copyUser(s.usersByID[id]), nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*vaultguard.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return nil, vaultguard.ErrUserNotFound
	}
	return copyUser(user), nil
}

func (s *Store) AcceptInvitation(ctx context.Context, userID, invitationDigest, verifierHash string, at time.Time) (*vaultguard.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return nil, vaultguard.ErrUserNotFound
	}
	if user.Status != vaultguard.StatusInvited ||
		user.InvitationDigest == "" ||
		user.InvitationDigest != invitationDigest ||
		user.InvitationExpiresAt == nil ||
		!at.Before(*user.InvitationExpiresAt) {
		return nil, vaultguard.ErrInvitationGone
	}

	user.Status = vaultguard.StatusActive
	user.VerifierHash = verifierHash
	user.InvitationDigest = ""
	user.InvitationExpiresAt = nil

	return copyUser(user), nil
}

func (s *Store) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return vaultguard.ErrUserNotFound
	}
	user.MFAEnabled = enabled
	return nil
}

/*
====================================
SESSION STORE
====================================
*/

func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *sess
	s.sessionsByID[clone.ID] = &clone
	s.sessionIDByHash[clone.TokenHash] = clone.ID
	return nil
}

func (s *Store) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessionIDByHash[tokenHash]
	if !ok {
		return nil, vaultguard.ErrSessionNotFound
	}
	return copySession(s.sessionsByID[id]), nil
}

func (s *Store) GetByID(ctx context.Context, sessionID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok {
		return nil, vaultguard.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (s *Store) Rotate(ctx context.Context, sessionID, oldTokenHash string, next *session.Session, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessionsByID[sessionID]
	if !ok {
		return vaultguard.ErrSessionNotFound
	}
	if current.TokenHash != oldTokenHash || current.RevokedAt != nil {
		return vaultguard.ErrRefreshReuse
	}

	revokedAt := at
	current.RevokedAt = &revokedAt

	clone := *next
	s.sessionsByID[clone.ID] = &clone
	s.sessionIDByHash[clone.TokenHash] = clone.ID

	return nil
}

func (s *Store) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok {
		return vaultguard.ErrSessionNotFound
	}
	if sess.RevokedAt == nil {
		revokedAt := at
		sess.RevokedAt = &revokedAt
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*session.Session
	for _, sess := range s.sessionsByID {
		if sess.UserID == userID {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

func (s *Store) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, sess := range s.sessionsByID {
		if sess.UserID == userID && sess.RevokedAt == nil {
			revokedAt := at
			sess.RevokedAt = &revokedAt
			revoked++
		}
	}
	return revoked, nil
}

/*
====================================
MFA STORE
====================================
*/

func (s *Store) UpsertCredential(ctx context.Context, cred *vaultguard.MFACredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[cred.UserID] = copyCredential(cred)
	return nil
}

func (s *Store) GetCredential(ctx context.Context, userID string) (*vaultguard.MFACredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return nil, vaultguard.ErrMFANotEnrolled
	}
	return copyCredential(cred), nil
}

func (s *Store) Confirm(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return vaultguard.ErrMFANotEnrolled
	}
	confirmedAt := at
	cred.ConfirmedAt = &confirmedAt
	return nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[userID]
	if !ok {
		return false, vaultguard.ErrMFANotEnrolled
	}

	for i, hash := range cred.BackupCodeHashes {
		if hash == codeHash {
			cred.BackupCodeHashes = append(cred.BackupCodeHashes[:i], cred.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, userID)
	return nil
}

func copyUser(u *vaultguard.UserRecord) *vaultguard.UserRecord {
	clone := *u
	clone.InvitationExpiresAt = copyTime(u.InvitationExpiresAt)
	return &clone
}

func copySession(s *session.Session) *session.Session {
	clone := *s
	clone.RevokedAt = copyTime(s.RevokedAt)
	return &clone
}

func copyCredential(c *vaultguard.MFACredential) *vaultguard.MFACredential {
	clone := *c
	clone.BackupCodeHashes = append([]string(nil), c.BackupCodeHashes...)
	clone.ConfirmedAt = copyTime(c.ConfirmedAt)
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
