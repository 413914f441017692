package revocation

import (
	"context"
	"sync"
	"time"
)

const DefaultCleanupThreshold = 1000

// MemoryConfig configures a [MemoryStore].
type MemoryConfig struct {
	// CleanupThreshold is the size above which Revoke sweeps expired entries.
	CleanupThreshold int
	// Leeway keeps entries past expiry for as long as the parser would still
	// accept an expired token.
	Leeway time.Duration
	Now    func() time.Time
}

// MemoryStore is a process-local revocation set keyed by jti.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]time.Time
	threshold int
	leeway    time.Duration
	now       func() time.Time
}

func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.CleanupThreshold <= 0 {
		cfg.CleanupThreshold = DefaultCleanupThreshold
	}
	if cfg.Leeway < 0 {
		cfg.Leeway = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryStore{
		entries:   make(map[string]time.Time),
		threshold: cfg.CleanupThreshold,
		leeway:    cfg.Leeway,
		now:       cfg.Now,
	}
}

// Revoke records jti until expiresAt. Revoking an id twice keeps the later
// expiry.
func (s *MemoryStore) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	if err := validate(jti, expiresAt); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[jti]; !ok || expiresAt.After(cur) {
		s.entries[jti] = expiresAt
	}
	if len(s.entries) > s.threshold {
		s.sweepLocked()
	}
	return nil
}

// RevokeOnce records jti unless a live entry already exists.
func (s *MemoryStore) RevokeOnce(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	if err := validate(jti, expiresAt); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[jti]; ok && !s.expired(cur, s.now()) {
		return false, nil
	}
	s.entries[jti] = expiresAt
	if len(s.entries) > s.threshold {
		s.sweepLocked()
	}
	return true, nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	exp, ok := s.entries[jti]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return !s.expired(exp, s.now()), nil
}

// Sweep drops entries whose expiry plus leeway has passed and returns how
// many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Len returns the number of tracked entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked() int {
	now := s.now()
	removed := 0
	for jti, exp := range s.entries {
		if s.expired(exp, now) {
			delete(s.entries, jti)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) expired(exp, now time.Time) bool {
	return !now.Before(exp.Add(s.leeway))
}
