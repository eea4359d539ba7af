package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	sweepInterval     = time.Hour
)

type sessionEntry struct {
	userID  string
	role    string
	expires time.Time
}

// sessionRegistry хранит открытые сессии в памяти процесса.
type sessionRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	now       func() time.Time
	sessions  map[string]sessionEntry
	lastSweep time.Time
}

func newSessionRegistry(ttl time.Duration) *sessionRegistry {
	return &sessionRegistry{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]sessionEntry),
	}
}

func (r *sessionRegistry) open(userID, role string) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	r.sessions[id] = sessionEntry{
		userID:  userID,
		role:    role,
		expires: now.Add(r.ttl),
	}
	return id
}

// sweepLocked удаляет истёкшие сессии не чаще одного раза в sweepInterval.
func (r *sessionRegistry) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < sweepInterval {
		return
	}
	r.lastSweep = now
	for id, s := range r.sessions {
		if now.After(s.expires) {
			delete(r.sessions, id)
		}
	}
}

func (r *sessionRegistry) active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if r.now().After(s.expires) {
		delete(r.sessions, id)
		return false
	}
	return true
}

func (r *sessionRegistry) close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
