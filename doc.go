// Package handshake implements a two-step login: an OAuth authorization-code
// handshake with an external identity provider, followed by a short-lived
// numeric code sent by email. A durable session is issued only after the
// code is verified.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Flow
//
//	BeginHandshake -> provider -> Login (CompleteHandshake + IssueChallenge) -> email -> VerifyChallenge
//
// A [SessionBoundary] passed to [Engine.Login] is torn down after the handshake and
// again on any failure, so no session from a half-finished login stays usable.
//
// # Architecture boundaries
//
// handshake is the public surface. It exposes [Engine], [Builder], [Config] and the
// capability interfaces the host implements ([IdentityDirectory], [SessionIssuer],
// [Notifier]). Challenge and handshake state persistence lives in package store;
// rate limiting and audit dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Persist or log a plaintext code, except through the DebugLogCodes bypass which
//     Validate rejects in ProductionMode.
//   - Issue a session anywhere but VerifyChallenge.
//   - Hold a store lock while a code is being delivered.
//   - Import any sub-package that re-imports handshake (no import cycles).
package handshake
