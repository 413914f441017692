// Package middleware adapts Engine.Authenticate to net/http.
//
// [Authenticate] reads the Authorization header, verifies the token as the
// given kind (with device binding when the engine enables it) and stores the
// claims in the request context for [ClaimsFromContext]. The gin adapter lives
// in middleware/ginauth.
//
// # What this package must NOT do
//
//   - Parse or sign tokens itself.
//   - Tell the client why a token was rejected.
package middleware
