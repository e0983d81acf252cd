// Package internal contains helpers that are private to the handshake module:
// one-time code generation, salted code hashing and opaque identifiers.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: challenge issuance and verification throttles
//   - rate: fixed-window counter primitive
//   - httpapi: gin routes for the login flow
//   - security: posture report derived from the engine config
//   - config, logger, app: process wiring for cmd/handshake-server
//
// # What this package must NOT do
//
//   - Export types that appear in the public handshake API.
//   - Log or return plaintext codes.
package internal
