// Package userdb maps provider identities to local users.
//
// A (provider, subject) pair always resolves to the same user. A new
// identity is linked to an existing account only when the provider vouches
// for the email address; otherwise a colliding email is rejected with
// [ErrEmailTaken]. [PostgresDirectory] stores users and identities in two
// tables managed by embedded goose migrations; [MemoryDirectory] applies the
// same rules in process.
package userdb
