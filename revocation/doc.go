// Package revocation tracks revoked token identifiers (jti) until the tokens
// they belong to would have expired anyway.
//
// # Backends
//
//   - [MemoryStore]: single process. Suitable for tests and single-instance
//     deployments only; a revocation here is invisible to other replicas.
//   - [RedisStore]: shared store, expiry delegated to Redis key TTLs.
//   - [PostgresStore]: shared relational store with an explicit Purge.
//
// # Eviction
//
// Entries are only ever removed after their expiry (plus leeway) has passed.
// Capacity pressure never evicts a revocation that still guards a valid token.
//
// # What this package must NOT do
//
//   - Parse or verify tokens (callers pass the jti and exp they already trust).
//   - Decide whether a lookup failure admits a token. Errors are returned and
//     the caller fails closed.
package revocation
