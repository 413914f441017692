// Package payload derives symmetric keys from a root secret and encrypts
// sensitive claim values with them.
//
// # Key derivation
//
// Keys come from PBKDF2-HMAC-SHA256 (default) or Argon2id over a 16-byte salt.
// Production deployments must supply the salt. Other environments may derive
// it deterministically from the secret and environment name with DeriveSalt so
// that restarts reproduce the same key.
//
// # Ciphertext format
//
// Cipher output is unpadded base64url of:
//
//	version (1) | key id (4) | nonce (12) | AES-GCM sealed data
//
// The version byte and key id are authenticated as associated data. The key id
// lets Decrypt pick a retired key that is still inside its grace period.
//
// # What this package must NOT do
//
//   - Reuse nonces.
//   - Distinguish failure causes to callers. Decrypt returns ErrDecrypt for
//     malformed input, unknown keys, and authentication failures alike.
package payload
