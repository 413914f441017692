// Package security scores a running engine's configuration.
//
// [Audit] is a pure function over an [Input] snapshot. It never touches keys,
// stores or secrets directly; the engine gathers the facts (including the
// result of a live encryption probe) and passes them in.
//
// # What this package must NOT do
//
//   - Mutate engine state or rotate anything.
//   - Import goToken or any sibling package.
package security
