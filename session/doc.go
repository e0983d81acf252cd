// Package session owns durable sessions: the record kept in Redis (or memory),
// the access token minted alongside it and the browser cookie that names it.
//
// [Manager] implements handshake.SessionIssuer, so the login engine can create a
// session without knowing how it is stored.
//
// # Binary encoding
//
// Sessions are stored as a compact versioned binary record. Decode rejects unknown
// versions and trailing bytes; the session id lives in the key, not the record.
//
// # What this package must NOT do
//
//   - Decide whether a login may proceed. That is the engine's job.
//   - Store plaintext secrets in [Session] fields.
package session
