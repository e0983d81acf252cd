// Package httpapi exposes the login flow over HTTP with gin.
//
//	GET  /auth/:provider/login?from=   302 to the provider, binds the state cookie
//	GET  /auth/:provider/callback      302 to the challenge entry page, or /login?oauth=failed|error
//	POST /auth/challenge/verify        {challenge, code} -> session cookie and access token
//	GET  /auth/me                      current user, 401 without a session
//	POST /auth/logout                  revokes the session
//	GET  /healthz, /metrics
package httpapi
