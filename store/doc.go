// Package store holds the short-lived records of the login handshake: the
// emailed one-time challenge and the pre-authentication OAuth state.
//
// # Design
//
// Every record type has two interchangeable backings. The Redis backings
// persist versioned binary (challenge) or JSON (state) records with a TTL and
// use Lua scripts or WATCH/MULTI transactions for the check-and-set steps.
// The memory backings guard a map with a mutex and are meant for tests,
// local development and single-process deployments.
//
// Both challenge backings share one transition function so the verification
// state machine cannot drift between them.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does not
// generate codes, hash secrets or decide what a verdict means for the
// caller; the engine supplies a match function and maps the returned
// sentinels.
//
// # What this package must NOT do
//
//   - Import the root handshake package.
//   - Store or log plaintext codes.
//   - Hold a lock while calling back into anything but the match function.
package store
