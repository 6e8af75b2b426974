package search

import (
	"sort"
	"sync"
	"time"

	"tutormarket/searchservice/internal/metrics"
)

const (
	defaultSessionTTL         = 30 * time.Minute
	defaultSessionMaxEntries  = 5000
	minSessionJanitorInterval = 30 * time.Second
)

// SessionStore holds live sessions. Idle sessions expire after ttl and the
// least recently used ones are dropped once maxEntries is exceeded.
type SessionStore struct {
	mu         sync.Mutex
	sessions   map[string]*storedSession
	ttl        time.Duration
	maxEntries int
}

type storedSession struct {
	session  *Session
	lastSeen time.Time
}

func newSessionStore() *SessionStore {
	return &SessionStore{
		sessions:   make(map[string]*storedSession),
		ttl:        defaultSessionTTL,
		maxEntries: defaultSessionMaxEntries,
	}
}

func (st *SessionStore) janitorInterval() time.Duration {
	interval := st.ttl / 4
	if interval < minSessionJanitorInterval {
		interval = minSessionJanitorInterval
	}
	return interval
}

func (st *SessionStore) add(session *Session, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.sessions[session.id] = &storedSession{session: session, lastSeen: now}
	st.trimLocked(now)
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
}

// get returns the session and marks it as used.
func (st *SessionStore) get(id string, now time.Time) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.lastSeen) > st.ttl {
		delete(st.sessions, id)
		metrics.ActiveSessions.Set(float64(len(st.sessions)))
		return nil, false
	}
	entry.lastSeen = now
	return entry.session, true
}

func (st *SessionStore) remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	return true
}

func (st *SessionStore) evictIdle(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	before := len(st.sessions)
	st.trimLocked(now)
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	return before - len(st.sessions)
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *SessionStore) trimLocked(now time.Time) {
	for id, entry := range st.sessions {
		if now.Sub(entry.lastSeen) > st.ttl {
			delete(st.sessions, id)
		}
	}
	if len(st.sessions) <= st.maxEntries {
		return
	}

	type pair struct {
		id    string
		entry *storedSession
	}
	items := make([]pair, 0, len(st.sessions))
	for id, entry := range st.sessions {
		items = append(items, pair{id: id, entry: entry})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.lastSeen.Before(items[j].entry.lastSeen)
	})
	for i := 0; i < len(items)-st.maxEntries; i++ {
		delete(st.sessions, items[i].id)
	}
}
