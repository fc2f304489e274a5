// Package internal holds small shared helpers: opaque token
// generation and digests, backup code material, and the login timing
// floor.
package internal
