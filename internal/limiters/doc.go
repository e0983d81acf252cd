// Package limiters provides the login-challenge rate limiters built on top of
// the internal/rate counter.
//
// # Limiters
//
//   - [ChallengeLimiter] throttles challenge issuance per user and per IP,
//     and verification attempts per IP.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # Architecture boundaries
//
// Each limiter owns its own key namespace and error types. Policy thresholds
// come from Config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import the root handshake package or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting. The engine decides consequences.
package limiters
