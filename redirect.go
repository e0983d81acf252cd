package handshake

import (
	"net/url"
	"strings"
)

// SanitizeReturnHint accepts only same-origin absolute paths. It returns the
// hint unchanged and true, or "" and false when the hint must be dropped.
func SanitizeReturnHint(hint string, maxLen int) (string, bool) {
	if hint == "" || len(hint) > maxLen {
		return "", false
	}
	if hint[0] != '/' {
		return "", false
	}
	if len(hint) > 1 && (hint[1] == '/' || hint[1] == '\\') {
		return "", false
	}
	if strings.ContainsRune(hint, '\\') {
		return "", false
	}
	for i := 0; i < len(hint); i++ {
		if hint[i] < 0x20 || hint[i] == 0x7f {
			return "", false
		}
	}

	u, err := url.Parse(hint)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil || u.Opaque != "" {
		return "", false
	}
	if !strings.HasPrefix(u.Path, "/") {
		return "", false
	}
	return hint, true
}

// ResolveLandingPath picks where a freshly authenticated user lands. Admins
// go to the admin area and users who have not onboarded go to onboarding;
// a stored hint wins only for onboarded users.
func (c RedirectConfig) ResolveLandingPath(profile UserProfile, hint string) string {
	target := c.DefaultPath
	switch {
	case profile.Role == RoleAdmin:
		target = c.AdminPath
	case !profile.Onboarded():
		target = c.OnboardingPath
	}

	if profile.Onboarded() {
		if clean, ok := SanitizeReturnHint(hint, c.MaxHintLength); ok {
			target = clean
		}
	}
	return target
}

// FrontendURLFor resolves path against the frontend origin. It refuses
// anything that would leave that origin.
func (c RedirectConfig) FrontendURLFor(path string, query url.Values) (string, bool) {
	base, err := url.Parse(c.FrontendURL)
	if err != nil || base.Host == "" {
		return "", false
	}
	clean, ok := SanitizeReturnHint(path, c.MaxHintLength)
	if !ok {
		return "", false
	}

	ref, err := url.Parse(clean)
	if err != nil {
		return "", false
	}
	out := base.ResolveReference(ref)
	if out.Scheme != base.Scheme || out.Host != base.Host {
		return "", false
	}
	if len(query) > 0 {
		q := out.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		out.RawQuery = q.Encode()
	}
	return out.String(), true
}
