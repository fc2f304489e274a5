package token

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose values discriminate token families. Access tokens carry no
// purpose claim; anything else must name one, and validation of one
// family rejects tokens minted for another.
const (
	PurposeMFA        = "mfa"
	PurposeInvitation = "invitation"
)

var (
	// ErrInvalidToken covers every validation failure: bad signature,
	// expiry, wrong issuer, missing claims, purpose mismatch. Callers
	// get no finer detail.
	ErrInvalidToken = errors.New("invalid token")
)

// Config holds signing material and lifetimes for every token family.
type Config struct {
	PrivateKeyPEM   []byte
	PublicKeyPEM    []byte
	Issuer          string
	AccessTTL       time.Duration
	MFAChallengeTTL time.Duration
	InvitationTTL   time.Duration
	Leeway          time.Duration
}

// Claims is the signed claim set shared by all token families.
type Claims struct {
	OrgID   string `json:"org_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Subject identifies who a token is minted for.
type Subject struct {
	UserID string
	OrgID  string
	Email  string
	Role   string
}

// Manager mints and validates RS256-signed tokens. Verification only
// needs the public key, so validator-only deployments can omit the
// private half.
type Manager struct {
	config    Config
	signKey   *rsa.PrivateKey
	verifyKey *rsa.PublicKey
	now       func() time.Time
}

// NewManager parses the key material and validates the configuration.
// The clock is injectable for tests; pass nil for time.Now.
func NewManager(cfg Config, now func() time.Time) (*Manager, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("token issuer is required")
	}
	if cfg.AccessTTL <= 0 || cfg.MFAChallengeTTL <= 0 || cfg.InvitationTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if now == nil {
		now = time.Now
	}

	m := &Manager{config: cfg, now: now}

	if len(cfg.PrivateKeyPEM) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, errors.New("invalid RSA private key")
		}
		m.signKey = key
		m.verifyKey = &key.PublicKey
	}
	if len(cfg.PublicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, errors.New("invalid RSA public key")
		}
		m.verifyKey = key
	}
	if m.verifyKey == nil {
		return nil, errors.New("rs256 requires a private or public key")
	}

	return m, nil
}

// IssueAccess mints a short-lived access token for a fully
// authenticated subject.
func (m *Manager) IssueAccess(sub Subject) (string, error) {
	return m.issue(sub, "", m.config.AccessTTL)
}

// IssueMFAChallenge mints the intermediate token handed out after a
// correct password when the account has MFA enabled. It proves only
// that the first factor succeeded.
func (m *Manager) IssueMFAChallenge(sub Subject) (string, error) {
	return m.issue(sub, PurposeMFA, m.config.MFAChallengeTTL)
}

// IssueInvitation mints an invitation token. Callers persist only its
// digest; the token itself travels in the invitation link.
func (m *Manager) IssueInvitation(sub Subject) (string, error) {
	return m.issue(sub, PurposeInvitation, m.config.InvitationTTL)
}

// ValidateAccess validates an access token. Tokens minted for MFA
// challenges or invitations fail here regardless of signature.
func (m *Manager) ValidateAccess(tokenStr string) (*Claims, error) {
	return m.validate(tokenStr, "")
}

// ValidateMFAChallenge validates an MFA challenge token.
func (m *Manager) ValidateMFAChallenge(tokenStr string) (*Claims, error) {
	return m.validate(tokenStr, PurposeMFA)
}

// ValidateInvitation validates an invitation token.
func (m *Manager) ValidateInvitation(tokenStr string) (*Claims, error) {
	return m.validate(tokenStr, PurposeInvitation)
}

func (m *Manager) issue(sub Subject, purpose string, ttl time.Duration) (string, error) {
	if m.signKey == nil {
		return "", errors.New("signing key not configured")
	}
	if sub.UserID == "" || sub.OrgID == "" {
		return "", errors.New("token subject is incomplete")
	}

	now := m.now()
	claims := Claims{
		OrgID:   sub.OrgID,
		Email:   sub.Email,
		Role:    sub.Role,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.signKey)
}

func (m *Manager) validate(tokenStr, purpose string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.OrgID == "" || claims.Email == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
