// Package device derives a stable, privacy-preserving identifier for the
// calling client from its connection metadata.
//
// The fingerprint is a salted SHA-256 over a fixed, ordered set of request
// headers plus a truncated salted hash of the client IP. The raw IP is never
// part of the output. Extraction failures produce [Fallback] instead of an
// error: binding is defense in depth and must not reject traffic on its own.
package device
