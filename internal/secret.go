package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const (
	ChallengeIDSize = 24
	SaltSize        = 16
	StateSize       = 32
	tokenMACSize    = 16
)

var errMalformedToken = errors.New("malformed challenge token")

// NewCode returns a numeric one-time code of the given width.
func NewCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewSalt returns a fresh per-challenge salt.
func NewSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	_, err := rand.Read(salt[:])
	return salt, err
}

// HashCode binds code to salt. The result is what gets persisted.
func HashCode(salt [SaltSize]byte, code string) [32]byte {
	mac := hmac.New(sha256.New, salt[:])
	mac.Write([]byte(code))

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// CodeMatches compares in constant time.
func CodeMatches(salt [SaltSize]byte, code string, want [32]byte) bool {
	got := HashCode(salt, code)
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// NewOpaqueID returns size random bytes as unpadded base64url.
func NewOpaqueID(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// EncodeChallengeToken returns the external handle for challengeID. With a
// key, a truncated HMAC is appended so forged handles never reach the store.
func EncodeChallengeToken(challengeID string, key []byte) string {
	if len(key) == 0 {
		return challengeID
	}
	return challengeID + "." + base64.RawURLEncoding.EncodeToString(tokenMAC(challengeID, key))
}

// DecodeChallengeToken reverses EncodeChallengeToken.
func DecodeChallengeToken(token string, key []byte) (string, error) {
	id, tag, signed := strings.Cut(token, ".")
	if signed != (len(key) > 0) {
		return "", errMalformedToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil || len(raw) != ChallengeIDSize {
		return "", errMalformedToken
	}
	if !signed {
		return id, nil
	}

	gotTag, err := base64.RawURLEncoding.DecodeString(tag)
	if err != nil || !hmac.Equal(gotTag, tokenMAC(id, key)) {
		return "", errMalformedToken
	}
	return id, nil
}

func tokenMAC(challengeID string, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("challenge:"))
	mac.Write([]byte(challengeID))
	return mac.Sum(nil)[:tokenMACSize]
}
