package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	challengeRecordVersionV1 = 1

	// SaltSize is the length of the per-challenge salt.
	SaltSize = 16
)

var (
	// ErrChallengeNotFound is returned for unknown, invalidated or unreadable challenges.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired is returned when the challenge outlived its expiry.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeConsumed is returned when the challenge was already verified.
	ErrChallengeConsumed = errors.New("challenge already consumed")
	// ErrChallengeMismatch is returned when the presented code does not match.
	ErrChallengeMismatch = errors.New("challenge code mismatch")
	// ErrChallengeExhausted is returned once no attempts remain.
	ErrChallengeExhausted = errors.New("challenge attempts exhausted")
	// ErrChallengeBackend wraps storage failures.
	ErrChallengeBackend = errors.New("challenge backend unavailable")
)

// Status is the persisted lifecycle state of a challenge. Expiry is derived
// from ExpiresAt and invalidation removes the record, so neither has a value.
type Status uint8

const (
	StatusIssued    Status = 1
	StatusVerified  Status = 2
	StatusExhausted Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusIssued:
		return "issued"
	case StatusVerified:
		return "verified"
	case StatusExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Challenge is a single emailed one-time code bound to a user.
type Challenge struct {
	ChallengeID       string
	UserID            string
	TenantID          string
	Email             string
	RedirectHint      string
	Salt              [SaltSize]byte
	CodeHash          [32]byte
	CreatedAt         time.Time
	ExpiresAt         time.Time
	AttemptsRemaining uint16
	Status            Status
}

// MatchFunc reports whether the code presented by the caller matches rec.
// It may be called more than once per attempt when a backing retries.
type MatchFunc func(rec *Challenge) bool

// ChallengeStore persists challenges and serializes their transitions.
type ChallengeStore interface {
	// Create stores rec as the only active challenge of its user and reports
	// whether it replaced one that was still issued and unexpired at
	// rec.CreatedAt.
	Create(ctx context.Context, rec *Challenge) (bool, error)
	// Attempt runs one verification attempt. On success the returned record
	// is already marked verified.
	Attempt(ctx context.Context, challengeID string, now time.Time, match MatchFunc) (*Challenge, error)
	// Invalidate removes a challenge that can no longer be satisfied.
	Invalidate(ctx context.Context, tenantID, userID, challengeID string) error
}

// supersedes reports whether replacing prior at now invalidates a code the
// user could still redeem.
func supersedes(prior *Challenge, now time.Time) bool {
	return prior.Status == StatusIssued && !now.After(prior.ExpiresAt)
}

// transition applies one attempt to rec. It returns the record to persist
// (nil when nothing changes) and the verdict for the caller.
func transition(rec *Challenge, now time.Time, match MatchFunc) (*Challenge, error) {
	if now.After(rec.ExpiresAt) {
		return nil, ErrChallengeExpired
	}

	switch rec.Status {
	case StatusIssued:
	case StatusVerified:
		return nil, ErrChallengeConsumed
	case StatusExhausted:
		return nil, ErrChallengeExhausted
	default:
		return nil, ErrChallengeNotFound
	}

	next := *rec
	if next.AttemptsRemaining == 0 {
		next.Status = StatusExhausted
		return &next, ErrChallengeExhausted
	}

	if match(rec) {
		next.Status = StatusVerified
		return &next, nil
	}

	next.AttemptsRemaining--
	if next.AttemptsRemaining == 0 {
		next.Status = StatusExhausted
		return &next, ErrChallengeExhausted
	}
	return &next, ErrChallengeMismatch
}

func encodeChallenge(rec *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersionV1)
	buf.WriteByte(byte(rec.Status))

	if err := binary.Write(&buf, binary.BigEndian, rec.AttemptsRemaining); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.UnixNano()); err != nil {
		return nil, err
	}

	buf.Write(rec.Salt[:])
	buf.Write(rec.CodeHash[:])

	for _, field := range []string{rec.UserID, rec.TenantID, rec.Email, rec.RedirectHint} {
		if len(field) > 65535 {
			return nil, errors.New("challenge field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge version")
	}

	status, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &Challenge{Status: Status(status)}
	if err := binary.Read(reader, binary.BigEndian, &rec.AttemptsRemaining); err != nil {
		return nil, err
	}

	var createdAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.ExpiresAt = time.Unix(0, expiresAt).UTC()

	if _, err := io.ReadFull(reader, rec.Salt[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, rec.CodeHash[:]); err != nil {
		return nil, err
	}

	fields := []*string{&rec.UserID, &rec.TenantID, &rec.Email, &rec.RedirectHint}
	for _, field := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}

	return rec, nil
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}
