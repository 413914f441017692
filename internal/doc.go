// Package internal holds helpers shared by goToken packages: secure random
// values, key ids and the deterministic test-environment fallback.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - security: the weighted configuration audit
//
// # What this package must NOT do
//
//   - Export types that appear in the public goToken API.
package internal
