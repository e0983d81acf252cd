// Package middleware exposes net/http guards that admit requests carrying a live
// session, either as a bearer access token or as the session cookie.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into session lookups. It does NOT decide how
// sessions are created; that belongs to the login engine and package session.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the Authenticator).
//   - Access Redis.
package middleware
