package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// DefaultTTL is the sliding lifetime of a session. Reads extend it.
const DefaultTTL = 2 * time.Hour

type entry struct {
	userID    int64
	expiresAt time.Time
}

// Store is an in-process session store mapping opaque cookie values to
// user IDs. It is the only session backend this service supports; a
// restart drops all sessions.
type Store struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry

	// now is swappable for tests.
	now func() time.Time
}

func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, m: make(map[string]entry), now: time.Now}
}

// newID returns an opaque, unguessable session identifier.
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create binds a fresh session ID to userID and returns the ID.
func (s *Store) Create(userID int64) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.m[id] = entry{userID: userID, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return id, nil
}

// Get resolves a session ID to its user ID. A hit renews the sliding
// expiry; an expired entry is removed and reported as absent.
func (s *Store) Get(id string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return 0, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.m, id)
		return 0, false
	}
	e.expiresAt = s.now().Add(s.ttl)
	s.m[id] = e
	return e.userID, true
}

// Destroy removes a session. Removing an unknown or already-removed ID
// is not an error.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// Len reports the number of live entries, expired ones included until
// swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// sweep drops every expired entry.
func (s *Store) sweep() {
	now := s.now()
	s.mu.Lock()
	for id, e := range s.m {
		if now.After(e.expiresAt) {
			delete(s.m, id)
		}
	}
	s.mu.Unlock()
}

// StartJanitor sweeps expired sessions on the given interval until ctx
// is done. Expiry is also enforced lazily on Get, so the janitor only
// bounds memory held by abandoned sessions.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.sweep()
			}
		}
	}()
}
