// Package token builds and verifies the bearer tokens issued by the engine:
// access, refresh, reset_password and email_verification.
//
// # Claims
//
// The codec owns sub_enc, encrypted, exp, iat, nbf, jti, typ, iss, aud,
// device_fp and compliance. Callers supply sub plus any other claims they
// need; reserved names are rejected at issuance.
//
// # Decode
//
// Decode returns either complete claims or [ErrInvalid]. Expired, tampered,
// revoked, mistyped and device-mismatched tokens are indistinguishable to the
// caller. The specific [RejectReason] goes to the configured [Observer] and to
// the debug log.
//
// # What this package must NOT do
//
//   - Return partially populated claims on failure.
//   - Admit a token when the revocation store cannot be reached.
//   - Log token strings or decrypted subjects.
package token
