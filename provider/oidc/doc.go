// Package oidc adapts an OpenID Connect issuer (Google by default) to
// handshake.IdentityProvider. The authorization URL carries a PKCE S256
// challenge and a nonce; Exchange redeems the code with the matching
// verifier and accepts only an ID token bound to that nonce.
package oidc
