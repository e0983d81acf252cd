// Package jwt mints and verifies the short-lived access tokens that accompany a
// durable session. Every token names its session (sid) so revoking the session
// revokes the token on the next lookup.
package jwt
