// Package vaultguard is the authentication core of a multi-tenant
// password-manager backend.
//
// Clients never send the master password. They derive an
// authentication verifier from it with Argon2id parameters advertised
// by Preauth, and the server stores only an Argon2id hash of that
// verifier. On top of this the package provides invitation-gated
// registration, rate-limited timing-floored login, TOTP second factors
// with single-use backup codes, rotating refresh sessions with reuse
// detection, and an append-only audit trail.
//
// The Engine owns the flows; persistence, rate limiting, and mail
// delivery are injected collaborators:
//
//	engine, err := vaultguard.New().
//		WithKeys(privatePEM, nil).
//		WithUsers(users).
//		WithSessions(sessions).
//		WithMFA(mfaStore).
//		WithAuditSink(vaultguard.NewJSONWriterSink(os.Stdout)).
//		Build()
//
// Ready-made stores live in store/memory and store/postgres. HTTP or
// RPC exposure is out of scope; callers map the package's sentinel
// errors onto their transport.
package vaultguard
