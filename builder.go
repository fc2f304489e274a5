package vaultguard

import (
	"errors"
	"time"

	internalaudit "github.com/vaultguard/vaultguard/internal/audit"
	internalmetrics "github.com/vaultguard/vaultguard/internal/metrics"
	"github.com/vaultguard/vaultguard/internal/rate"
	"github.com/vaultguard/vaultguard/mail"
	"github.com/vaultguard/vaultguard/password"
	"github.com/vaultguard/vaultguard/token"
)

// Builder assembles an Engine from a Config and injected
// collaborators. A Builder is single-use.
type Builder struct {
	config Config

	users    UserStore
	sessions SessionStore
	mfa      MFAStore
	limiter  LoginLimiter
	mailer   mail.Sender
	sink     AuditSink

	clock func() time.Time
	sleep func(time.Duration)

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithKeys sets the RS256 key pair without replacing the rest of the
// configuration. The public key may be omitted when the private key is
// present.
func (b *Builder) WithKeys(privatePEM, publicPEM []byte) *Builder {
	b.config.Token.PrivateKeyPEM = cloneBytes(privatePEM)
	b.config.Token.PublicKeyPEM = cloneBytes(publicPEM)
	return b
}

// WithUsers injects the user store. Required.
func (b *Builder) WithUsers(s UserStore) *Builder {
	b.users = s
	return b
}

// WithSessions injects the session store. Required.
func (b *Builder) WithSessions(s SessionStore) *Builder {
	b.sessions = s
	return b
}

// WithMFA injects the MFA credential store. Required.
func (b *Builder) WithMFA(s MFAStore) *Builder {
	b.mfa = s
	return b
}

// WithLoginLimiter replaces the default in-process limiter, typically
// with the Redis-backed one when running more than one instance.
func (b *Builder) WithLoginLimiter(l LoginLimiter) *Builder {
	b.limiter = l
	return b
}

// WithMailer injects the invitation delivery provider. Defaults to a
// logging stub.
func (b *Builder) WithMailer(m mail.Sender) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink injects the audit sink behind the async dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides the engine's time source. Tests use this
// together with WithSleep to exercise expiry and the login floor
// without waiting.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithSleep overrides the engine's sleep function.
func (b *Builder) WithSleep(sleep func(time.Duration)) *Builder {
	b.sleep = sleep
	return b
}

// Build validates the configuration and collaborators and constructs
// the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.sessions == nil {
		return nil, errors.New("session store required")
	}
	if b.mfa == nil {
		return nil, errors.New("mfa store required")
	}
	if len(cfg.Token.PrivateKeyPEM) == 0 && len(cfg.Token.PublicKeyPEM) == 0 {
		return nil, errors.New("token key material required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	sleep := b.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	engine := &Engine{
		config:   cfg,
		users:    b.users,
		sessions: b.sessions,
		mfa:      b.mfa,
		now:      clock,
		sleep:    sleep,
	}

	engine.limiter = b.limiter
	if engine.limiter == nil {
		engine.limiter = rate.NewWindow(rate.Config{
			Threshold: cfg.RateLimit.Threshold,
			Window:    cfg.RateLimit.Window,
		}, clock)
	}

	engine.mailer = b.mailer
	if engine.mailer == nil {
		engine.mailer = mail.Stub{}
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	// The dummy hash keeps unknown-email logins as expensive as real
	// ones. Hashed once here, not per request.
	dummy, err := hasher.Hash("vaultguard-dummy-verifier")
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	tokens, err := token.NewManager(token.Config{
		PrivateKeyPEM:   cfg.Token.PrivateKeyPEM,
		PublicKeyPEM:    cfg.Token.PublicKeyPEM,
		Issuer:          cfg.Issuer,
		AccessTTL:       cfg.Token.AccessTTL,
		MFAChallengeTTL: cfg.Token.MFAChallengeTTL,
		InvitationTTL:   cfg.Token.InvitationTTL,
		Leeway:          cfg.Token.Leeway,
	}, clock)
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	engine.totp = newTOTPManager(cfg.TOTP)
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.sink)
	engine.metrics = internalmetrics.New(internalmetrics.Config{
		Enabled: cfg.Metrics.Enabled,
	})

	b.built = true

	return engine, nil
}
