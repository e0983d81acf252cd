package userdb

import (
	"errors"
	"strings"

	"github.com/MrEthical07/handshake"
)

var (
	// ErrUserNotFound is returned when no user has the requested id.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when an identity with an unverified email
	// collides with an existing account. Such identities are never linked.
	ErrEmailTaken = errors.New("email belongs to another account")
	// ErrIncompleteIdentity is returned for identities without a subject or email.
	ErrIncompleteIdentity = errors.New("identity is missing subject or email")
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkIdentity(identity handshake.ExternalIdentity) error {
	if identity.Provider == "" || identity.ProviderSubjectID == "" || normalizeEmail(identity.Email) == "" {
		return ErrIncompleteIdentity
	}
	return nil
}
