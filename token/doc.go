// Package token mints and validates the RS256-signed token families:
// access, MFA challenge, and invitation. Families are discriminated by
// a purpose claim and never validate as each other.
package token
