// Package password hashes and verifies client-derived authentication
// verifiers with Argon2id. Hashes are PHC-encoded and self-describing,
// so parameter upgrades can be detected and applied on next login.
package password
