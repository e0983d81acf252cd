package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryChallengeStore is an in-process [ChallengeStore].
type MemoryChallengeStore struct {
	mu        sync.Mutex
	retention time.Duration
	records   map[string]*Challenge
	active    map[string]string
}

// NewMemoryChallengeStore returns an empty in-memory challenge store.
func NewMemoryChallengeStore(retention time.Duration) *MemoryChallengeStore {
	return &MemoryChallengeStore{
		retention: retention,
		records:   make(map[string]*Challenge),
		active:    make(map[string]string),
	}
}

func memoryUserKey(tenantID, userID string) string {
	return normalizeTenantID(tenantID) + ":" + userID
}

// Create implements [ChallengeStore].
func (s *MemoryChallengeStore) Create(_ context.Context, rec *Challenge) (bool, error) {
	if rec == nil || rec.ChallengeID == "" || rec.UserID == "" {
		return false, errors.New("challenge record incomplete")
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		return false, errors.New("challenge lifetime must be positive")
	}

	stored := *rec
	userKey := memoryUserKey(rec.TenantID, rec.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()

	superseded := false
	if priorID, ok := s.active[userKey]; ok {
		if prior, exists := s.records[priorID]; exists {
			superseded = supersedes(prior, rec.CreatedAt)
			delete(s.records, priorID)
		}
	}
	s.records[rec.ChallengeID] = &stored
	s.active[userKey] = rec.ChallengeID
	return superseded, nil
}

// Attempt implements [ChallengeStore].
func (s *MemoryChallengeStore) Attempt(
	_ context.Context,
	challengeID string,
	now time.Time,
	match MatchFunc,
) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[challengeID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if now.After(record.ExpiresAt.Add(s.retention)) {
		s.removeLocked(record)
		return nil, ErrChallengeNotFound
	}

	next, verdict := transition(record, now, match)
	if next != nil {
		*record = *next
	}
	if verdict != nil {
		return nil, verdict
	}

	out := *record
	return &out, nil
}

// Invalidate implements [ChallengeStore].
func (s *MemoryChallengeStore) Invalidate(_ context.Context, tenantID, userID, challengeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userKey := memoryUserKey(tenantID, userID)
	if s.active[userKey] == challengeID {
		delete(s.active, userKey)
	}
	delete(s.records, challengeID)
	return nil
}

// Sweep drops records whose retention window ended before now and returns
// how many were removed.
func (s *MemoryChallengeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, record := range s.records {
		if now.After(record.ExpiresAt.Add(s.retention)) {
			s.removeLocked(record)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *MemoryChallengeStore) StartSweeper(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(now())
			}
		}
	}()
}

// Len returns the number of retained records.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryChallengeStore) removeLocked(record *Challenge) {
	userKey := memoryUserKey(record.TenantID, record.UserID)
	if s.active[userKey] == record.ChallengeID {
		delete(s.active, userKey)
	}
	delete(s.records, record.ChallengeID)
}
