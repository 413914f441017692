// Package jwt owns signing keys and the JWT mechanics built on top of them.
//
// [KeyManager] selects the algorithm, generates or loads key pairs, and keeps
// retired verification keys for a grace period after rotation so that tokens
// signed just before a rotation stay verifiable. [Manager] signs and parses
// compact JWTs with the algorithm pinned to the key manager's choice and the
// kid header resolved against the active and retired keys.
//
// Only hs256, rs256, es256 and ed25519 are accepted. Every other name,
// including "none", is rejected at construction.
package jwt
