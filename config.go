package vaultguard

import (
	"errors"
	"time"
)

// Config defines every tunable of the authentication engine. Values are
// read at Build time and treated as immutable afterwards.
type Config struct {
	Issuer                string
	InvitationLinkBaseURL string

	Token     TokenConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Login     LoginConfig
	TOTP      TOTPConfig
	Backup    BackupCodeConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds RS256 key material and per-family lifetimes.
type TokenConfig struct {
	PrivateKeyPEM   []byte
	PublicKeyPEM    []byte
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	MFAChallengeTTL time.Duration
	InvitationTTL   time.Duration
	Leeway          time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost parameters for verifier
// hashing. The same values are advertised through Preauth.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig bounds failed logins per client address.
type RateLimitConfig struct {
	Threshold int
	Window    time.Duration
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig tunes login response shaping. Floor is the minimum time
// a Login call takes, success or failure, so response latency does not
// leak which check rejected the attempt.
type LoginConfig struct {
	Floor time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig holds RFC 6238 parameters.
type TOTPConfig struct {
	Digits int
	Period int
	Skew   int
}

/*
====================================
BACKUP CODE CONFIG
====================================
*/

// BackupCodeConfig controls recovery code generation.
type BackupCodeConfig struct {
	Count  int
	Length int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Issuer:                "vaultguard",
		InvitationLinkBaseURL: "https://app.vaultguard.local/invitations",
		Token: TokenConfig{
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			MFAChallengeTTL: 5 * time.Minute,
			InvitationTTL:   7 * 24 * time.Hour,
			Leeway:          30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 4,
			SaltLength:  16,
			KeyLength:   32,
		},
		RateLimit: RateLimitConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		Login: LoginConfig{
			Floor: 200 * time.Millisecond,
		},
		TOTP: TOTPConfig{
			Digits: 6,
			Period: 30,
			Skew:   1,
		},
		Backup: BackupCodeConfig{
			Count:  8,
			Length: 10,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for internally inconsistent or
// unsafe values.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("Issuer must be set")
	}
	if c.InvitationLinkBaseURL == "" {
		return errors.New("InvitationLinkBaseURL must be set")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token.AccessTTL must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token.RefreshTTL must exceed Token.AccessTTL")
	}
	if c.Token.MFAChallengeTTL <= 0 || c.Token.MFAChallengeTTL > c.Token.AccessTTL {
		return errors.New("Token.MFAChallengeTTL must be positive and not exceed Token.AccessTTL")
	}
	if c.Token.InvitationTTL <= 0 {
		return errors.New("Token.InvitationTTL must be positive")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token.Leeway must be between 0 and 2 minutes")
	}
	if c.RateLimit.Threshold <= 0 {
		return errors.New("RateLimit.Threshold must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit.Window must be positive")
	}
	if c.Login.Floor < 0 || c.Login.Floor > 5*time.Second {
		return errors.New("Login.Floor must be between 0 and 5 seconds")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("TOTP.Digits must be between 6 and 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP.Period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP.Skew must be between 0 and 2")
	}
	if c.Backup.Count < 4 || c.Backup.Count > 16 {
		return errors.New("Backup.Count must be between 4 and 16")
	}
	if c.Backup.Length < 8 || c.Backup.Length > 32 {
		return errors.New("Backup.Length must be between 8 and 32")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be positive when audit is enabled")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.Token.PrivateKeyPEM = cloneBytes(c.Token.PrivateKeyPEM)
	out.Token.PublicKeyPEM = cloneBytes(c.Token.PublicKeyPEM)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
