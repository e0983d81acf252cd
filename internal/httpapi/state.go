package httpapi

import (
	"net/http"
	"time"
)

// stateCookieName binds the OAuth state to the browser that started the
// handshake. SameSite=Lax lets it ride the top-level redirect back from the
// provider.
const stateCookieName = "__Host-oauth_state"

func setStateCookie(w http.ResponseWriter, state string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func stateFromRequest(r *http.Request) string {
	c, err := r.Cookie(stateCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
