// Package rate provides the fixed-window counter primitive shared by the
// limiters in internal/limiters.
//
// # Architecture boundaries
//
// This package counts. It does not know which operation a key belongs to or
// what happens once a budget is spent.
//
// # What this package must NOT do
//
//   - Import the root handshake package.
//   - Block on anything other than the backing store.
package rate
