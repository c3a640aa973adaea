package api

import (
	"sync"
	"time"

	"github.com/zhiyin-ai/zhiyin/internal/session"
)

const (
	sessionCleanupInterval = 10 * time.Minute
	sessionStaleThreshold  = time.Hour
)

// conversation pairs a session state with the lock that serializes
// requests against it. State itself is single-owner; concurrent HTTP
// requests for the same session take the lock instead.
type conversation struct {
	mu       sync.Mutex
	state    *session.State
	lastSeen time.Time
}

// sessionRegistry tracks in-memory conversations by session ID.
// Stale conversations are evicted inline during lookups.
type sessionRegistry struct {
	mu          sync.Mutex
	sessions    map[string]*conversation
	lastCleanup time.Time
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions:    make(map[string]*conversation),
		lastCleanup: time.Now(),
	}
}

// acquire returns the conversation for id, creating a fresh one when id is
// empty or unknown. Unknown IDs get a new session rather than an error so
// clients surviving a server restart keep working.
func (r *sessionRegistry) acquire(id string) *conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastCleanup) > sessionCleanupInterval {
		for k, c := range r.sessions {
			if now.Sub(c.lastSeen) > sessionStaleThreshold {
				delete(r.sessions, k)
			}
		}
		r.lastCleanup = now
	}

	if id != "" {
		if c, ok := r.sessions[id]; ok {
			c.lastSeen = now
			return c
		}
	}

	c := &conversation{state: session.New(), lastSeen: now}
	r.sessions[c.state.ID()] = c
	return c
}

// count returns the number of live conversations.
func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
