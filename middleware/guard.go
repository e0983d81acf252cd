package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/handshake"
	"github.com/MrEthical07/handshake/session"
)

// ErrNoCredentials is returned when a request carries neither a bearer
// token nor a session cookie.
var ErrNoCredentials = errors.New("no credentials")

// Authenticator resolves credentials to a live session. *session.Manager
// implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	AuthenticateAccessToken(ctx context.Context, token string) (*session.Session, error)
}

type sessionContextKey struct{}

// WithSession attaches an authenticated session to ctx.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the session attached by [RequireSession].
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return sess, ok && sess != nil
}

// SessionFromRequest authenticates r. A bearer token wins over the cookie.
func SessionFromRequest(r *http.Request, auth Authenticator) (*session.Session, error) {
	if auth == nil {
		return nil, ErrNoCredentials
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return auth.AuthenticateAccessToken(r.Context(), token)
	}
	if sid := session.FromRequest(r); sid != "" {
		return auth.Authenticate(r.Context(), handshake.TenantIDFromContext(r.Context()), sid)
	}
	return nil, ErrNoCredentials
}

// RequireSession rejects requests without a live session. Responses are
// never cached.
func RequireSession(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")

			sess, err := SessionFromRequest(r, auth)
			if err != nil {
				WriteUnauthenticated(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// WriteUnauthenticated writes the 401 body clients expect.
func WriteUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"message":"Unauthenticated"}`))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
