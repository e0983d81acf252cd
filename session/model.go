package session

import "time"

// Session is a durable login. It is created once per verified challenge
// and never carries secrets.
type Session struct {
	SessionID string
	UserID    string
	TenantID  string
	Role      string

	CreatedAt int64
	ExpiresAt int64
}

// Expired reports whether the session has ended at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}
