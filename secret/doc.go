// Package secret resolves, validates, and rotates the root secrets that the token
// engine derives its signing and encryption keys from.
//
// # Resolution
//
// [Provider.SigningSecret] walks a fixed source order: explicit value, external
// [Store], environment variable. Production resolution fails closed with
// [ErrUnavailable] when every source is empty. Other environments fall back to a
// deterministic (testing) or freshly generated (development, staging) value that
// still has to pass [CheckStrength].
//
// # Stores
//
//   - [MemoryStore]: process-local map for tests and single-node development.
//   - [VaultStore]: HashiCorp Vault KV v2.
//   - [SecretsManagerStore]: AWS Secrets Manager.
//
// Store round trips run under a per-attempt timeout and are retried at most once.
//
// # What this package must NOT do
//
//   - Log, format, or marshal raw secret material. [Secret] redacts itself.
//   - Mutate cached secrets when persisting a rotation fails.
//   - Import goToken or any key-consuming package.
package secret
