package sessions

import (
	"sync"
	"time"
)

type listEntry struct {
	sessions []Session
	storedAt time.Time
}

// listCache is the instance-local read-through cache behind List. It is
// never shared between registries and never treated as a source of truth.
type listCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]listEntry
}

func newListCache(ttl time.Duration, now func() time.Time) *listCache {
	return &listCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]listEntry),
	}
}

func (c *listCache) get(userID string) ([]Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, userID)
		return nil, false
	}
	return cloneSessions(entry.sessions), true
}

func (c *listCache) put(userID string, sessions []Session) {
	c.mu.Lock()
	c.entries[userID] = listEntry{sessions: cloneSessions(sessions), storedAt: c.now()}
	c.mu.Unlock()
}

func (c *listCache) invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

func cloneSessions(in []Session) []Session {
	if in == nil {
		return nil
	}
	out := make([]Session, len(in))
	copy(out, in)
	return out
}
