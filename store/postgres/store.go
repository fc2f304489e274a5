// Package postgres implements the persistence collaborators on
// PostgreSQL through database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration

	"github.com/vaultguard/vaultguard"
	"github.com/vaultguard/vaultguard/session"
)

var (
	_ vaultguard.UserStore    = (*Store)(nil)
	_ vaultguard.SessionStore = (*Store)(nil)
	_ vaultguard.MFAStore     = (*Store)(nil)
)

// Open opens a database/sql pool on the pgx driver.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Store implements the user, session, and MFA contracts over one pool.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// User store ----------------------------------------------------------------

const userColumns = `id, org_id, email, verifier_hash, role, status, mfa_enabled, invitation_digest, invitation_expires_at, created_at`

func (s *Store) CreateUser(ctx context.Context, input vaultguard.CreateUserInput) (*vaultguard.UserRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`insert into users(`+userColumns+`)
		 values($1,$2,$3,$4,$5,$6,false,nullif($7,''),$8,$9)`,
		input.ID, input.OrgID, input.Email, input.VerifierHash,
		string(input.Role), string(input.Status),
		input.InvitationDigest, input.InvitationExpiresAt, input.CreatedAt,
	)
	if err != nil {
		// The uq_users_email constraint is the single source of truth
		// for duplicates; there is no pre-check to race against.
		if isUniqueViolation(err) {
			return nil, vaultguard.ErrDuplicateEmail
		}
		return nil, err
	}

	return &vaultguard.UserRecord{
		ID:                  input.ID,
		OrgID:               input.OrgID,
		Email:               input.Email,
		VerifierHash:        input.VerifierHash,
		Role:                input.Role,
		Status:              input.Status,
		InvitationDigest:    input.InvitationDigest,
		InvitationExpiresAt: input.InvitationExpiresAt,
		CreatedAt:           input.CreatedAt,
	}, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*vaultguard.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*vaultguard.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, userID)
	return scanUser(row)
}

func (s *Store) AcceptInvitation(ctx context.Context, userID, invitationDigest, verifierHash string, at time.Time) (*vaultguard.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`update users
		 set status=$1, verifier_hash=$2, invitation_digest=null, invitation_expires_at=null
		 where id=$3 and status=$4 and invitation_digest=$5 and invitation_expires_at > $6
		 returning `+userColumns,
		string(vaultguard.StatusActive), verifierHash,
		userID, string(vaultguard.StatusInvited), invitationDigest, at,
	)

	user, err := scanUser(row)
	if err != nil {
		// Digest mismatch, expiry, prior acceptance, and a missing
		// user all land here and are indistinguishable to callers.
		if errors.Is(err, vaultguard.ErrUserNotFound) {
			return nil, vaultguard.ErrInvitationGone
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set mfa_enabled=$2 where id=$1`, userID, enabled)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return vaultguard.ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*vaultguard.UserRecord, error) {
	var (
		u         vaultguard.UserRecord
		role      string
		status    string
		digest    sql.NullString
		expiresAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.OrgID, &u.Email, &u.VerifierHash, &role, &status,
		&u.MFAEnabled, &digest, &expiresAt, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vaultguard.ErrUserNotFound
		}
		return nil, err
	}

	parsedRole, err := vaultguard.ParseRole(role)
	if err != nil {
		return nil, err
	}
	parsedStatus, err := vaultguard.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	u.Role = parsedRole
	u.Status = parsedStatus

	if digest.Valid {
		u.InvitationDigest = digest.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		u.InvitationExpiresAt = &t
	}
	return &u, nil
}

// Session store ---------------------------------------------------------------

const sessionColumns = `id, user_id, org_id, refresh_token_hash, user_agent, ip_address, created_at, expires_at, revoked_at`

func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(`+sessionColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,null)`,
		sess.ID, sess.UserID, sess.OrgID, sess.TokenHash,
		sess.UserAgent, sess.IP, sess.CreatedAt, sess.ExpiresAt,
	)
	return err
}

func (s *Store) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where refresh_token_hash=$1`, tokenHash)
	return scanSession(row)
}

func (s *Store) GetByID(ctx context.Context, sessionID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, sessionID)
	return scanSession(row)
}

// Rotate retires the presented token and records its successor inside
// one transaction. The guarded update is the compare step: zero rows
// means someone else already redeemed or revoked this token.
func (s *Store) Rotate(ctx context.Context, sessionID, oldTokenHash string, next *session.Session, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update sessions set revoked_at=$3
		 where id=$1 and refresh_token_hash=$2 and revoked_at is null`,
		sessionID, oldTokenHash, at,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return vaultguard.ErrRefreshReuse
	}

	if _, err := tx.ExecContext(ctx,
		`insert into sessions(`+sessionColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,null)`,
		next.ID, next.UserID, next.OrgID, next.TokenHash,
		next.UserAgent, next.IP, next.CreatedAt, next.ExpiresAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where id=$1 and revoked_at is null`,
		sessionID, at,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Zero rows is either an already-revoked session (fine) or a
	// missing one.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from sessions where id=$1)`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return vaultguard.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where user_id=$1 order by created_at desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where user_id=$1 and revoked_at is null`,
		userID, at,
	)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess      session.Session
		revokedAt sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.OrgID, &sess.TokenHash,
		&sess.UserAgent, &sess.IP, &sess.CreatedAt, &sess.ExpiresAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vaultguard.ErrSessionNotFound
		}
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

// MFA store -------------------------------------------------------------------

func (s *Store) UpsertCredential(ctx context.Context, cred *vaultguard.MFACredential) error {
	hashes, err := json.Marshal(cred.BackupCodeHashes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`insert into mfa_totp_credentials(user_id, org_id, totp_secret, backup_code_hashes, created_at, confirmed_at)
		 values($1,$2,$3,$4,$5,null)
		 on conflict (user_id) do update
		 set totp_secret=excluded.totp_secret,
		     backup_code_hashes=excluded.backup_code_hashes,
		     created_at=excluded.created_at,
		     confirmed_at=null`,
		cred.UserID, cred.OrgID, cred.Secret, hashes, cred.CreatedAt,
	)
	return err
}

func (s *Store) GetCredential(ctx context.Context, userID string) (*vaultguard.MFACredential, error) {
	row := s.db.QueryRowContext(ctx,
		`select user_id, org_id, totp_secret, backup_code_hashes, created_at, confirmed_at
		 from mfa_totp_credentials where user_id=$1`, userID)

	var (
		cred        vaultguard.MFACredential
		hashes      []byte
		confirmedAt sql.NullTime
	)
	if err := row.Scan(&cred.UserID, &cred.OrgID, &cred.Secret, &hashes, &cred.CreatedAt, &confirmedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vaultguard.ErrMFANotEnrolled
		}
		return nil, err
	}
	if err := json.Unmarshal(hashes, &cred.BackupCodeHashes); err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		cred.ConfirmedAt = &t
	}
	return &cred, nil
}

func (s *Store) Confirm(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update mfa_totp_credentials set confirmed_at=$2 where user_id=$1`, userID, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return vaultguard.ErrMFANotEnrolled
	}
	return nil
}

// ConsumeBackupCode removes one digest from the jsonb array. The
// containment guard and the removal run in a single statement, so
// concurrent redemptions of the same code serialize on the row and
// exactly one sees an affected row.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update mfa_totp_credentials
		 set backup_code_hashes = backup_code_hashes - $2
		 where user_id=$1 and backup_code_hashes ? $2`,
		userID, codeHash,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from mfa_totp_credentials where user_id=$1`, userID)
	return err
}
