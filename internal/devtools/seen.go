package devtools

import (
	"sync"
	"time"
)

type seenEntry struct {
	at       time.Time
	response []byte // nil while the first request is still in flight
}

// SeenCache remembers idempotency keys and the response sent for each.
// Entries expire after a TTL.
type SeenCache struct {
	mu      sync.Mutex
	entries map[string]*seenEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewSeenCache creates a seen cache with the given TTL for entries.
func NewSeenCache(ttl time.Duration) *SeenCache {
	return &SeenCache{
		entries: make(map[string]*seenEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Check reports whether key was already seen, with the stored response if
// one was recorded. If not seen, it marks key as seen and returns false.
func (s *SeenCache) Check(key string) (response []byte, seen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && s.now().Sub(e.at) < s.ttl {
		return e.response, true
	}
	s.entries[key] = &seenEntry{at: s.now()}
	return nil, false
}

// Remember stores the response sent for key.
func (s *SeenCache) Remember(key string, response []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.response = response
	}
}

// Forget drops key so that a retry is processed again.
func (s *SeenCache) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of entries.
func (s *SeenCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CleanupLoop periodically removes expired entries until done is closed.
func (s *SeenCache) CleanupLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-done:
			return
		}
	}
}

func (s *SeenCache) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	for key, e := range s.entries {
		if e.at.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}
