// Package goToken issues and verifies signed bearer tokens: access, refresh,
// password-reset and email-verification tokens with per-kind lifetimes,
// optional subject encryption, device binding and revocation.
//
// The engine is safe for concurrent use after [Builder.Build]. Signing keys and
// the payload cipher rotate with a grace window during which tokens issued
// under the previous key keep verifying.
//
// # Architecture boundaries
//
// goToken is the public surface. It exposes [Engine], [Builder], [Config] and
// the audit and metrics value types. Secret resolution lives in secret, key
// management in jwt, subject encryption in payload, fingerprints in device,
// claim encoding in token and revoked ids in revocation.
//
// # What this package must NOT do
//
//   - Log or audit raw secrets, raw tokens or encrypted subjects.
//   - Tell a caller why a token was rejected. Every decode failure is
//     [ErrTokenInvalid]; the cause goes to metrics, the audit trail and debug
//     logs.
//   - Fall back to a generated secret in production.
package goToken
