// Package session defines the refresh-session model shared by the
// engine and its stores.
package session

import "time"

// Session is one refresh-token session row. The refresh token itself is
// never stored; TokenHash holds its SHA-256 digest and lookups compare
// digests. Revocation sets RevokedAt and leaves the row in place so the
// session history stays auditable.
type Session struct {
	ID        string
	UserID    string
	OrgID     string
	TokenHash string
	UserAgent string
	IP        string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the session can still redeem a refresh token
// at the given instant.
func (s *Session) Active(now time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return now.Before(s.ExpiresAt)
}
