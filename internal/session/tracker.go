// Package session links join requests to the data uplinks that follow
// them. The linkage is best-effort: packets flow through unchanged when no
// session can be established.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// joinBindWindow bounds how long a pending join stays eligible for
// binding to a fresh DevAddr.
const joinBindWindow = 5 * time.Minute

// Session is an established DevAddr binding.
type Session struct {
	ID        string
	DevEUI    string
	JoinEUI   string
	CreatedAt time.Time
	LastSeen  time.Time
}

// pendingJoin is a join request waiting for its first data uplink. The
// DevAddr assigned by the join accept is not visible to a passive
// listener, so the binding happens opportunistically.
type pendingJoin struct {
	sessionID string
	devEUI    string
	joinEUI   string
	operator  string
	createdAt time.Time
}

// Tracker maintains the DevAddr session map and the pending join queue.
type Tracker struct {
	mu       sync.Mutex
	pending  map[string]*pendingJoin // keyed by DevEUI
	sessions map[string]*Session     // keyed by DevAddr hex

	inactivity time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewTracker builds a tracker that forgets sessions idle longer than
// inactivity.
func NewTracker(inactivity time.Duration, log zerolog.Logger) *Tracker {
	return &Tracker{
		pending:    make(map[string]*pendingJoin),
		sessions:   make(map[string]*Session),
		inactivity: inactivity,
		log:        log.With().Str("component", "session").Logger(),
		now:        time.Now,
	}
}

// RecordJoin registers a join request and returns its session token. A
// rejoin by the same device replaces the previous pending entry.
func (t *Tracker) RecordJoin(devEUI, joinEUI, operator string) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.pending[devEUI] = &pendingJoin{
		sessionID: id,
		devEUI:    devEUI,
		joinEUI:   joinEUI,
		operator:  operator,
		createdAt: t.now(),
	}
	t.mu.Unlock()
	return id
}

// Resolve stamps a data uplink with its session. For an unbound DevAddr it
// tries to promote a pending join: the join must resolve to the same
// operator as the uplink, be fresh, and be the only such candidate.
// Returns empty strings when no session applies.
func (t *Tracker) Resolve(devAddr, operator string) (sessionID, devEUI string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[devAddr]; ok {
		s.LastSeen = now
		return s.ID, s.DevEUI
	}

	var candidate *pendingJoin
	for _, p := range t.pending {
		if p.operator != operator || now.Sub(p.createdAt) > joinBindWindow {
			continue
		}
		if candidate != nil {
			// 多个候选无法区分，放弃绑定
			return "", ""
		}
		candidate = p
	}
	if candidate == nil {
		return "", ""
	}

	delete(t.pending, candidate.devEUI)
	t.sessions[devAddr] = &Session{
		ID:        candidate.sessionID,
		DevEUI:    candidate.devEUI,
		JoinEUI:   candidate.joinEUI,
		CreatedAt: candidate.createdAt,
		LastSeen:  now,
	}
	t.log.Debug().
		Str("dev_addr", devAddr).
		Str("dev_eui", candidate.devEUI).
		Msg("session bound")
	return candidate.sessionID, candidate.devEUI
}

// Lookup returns the session bound to a DevAddr without touching
// last-seen.
func (t *Tracker) Lookup(devAddr string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[devAddr]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Stats reports the current map sizes.
func (t *Tracker) Stats() (pending, bound int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending), len(t.sessions)
}

// Start runs the eviction sweeper until ctx is canceled.
func (t *Tracker) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

func (t *Tracker) sweep() {
	now := t.now()
	t.mu.Lock()
	var evicted int
	for addr, s := range t.sessions {
		if now.Sub(s.LastSeen) > t.inactivity {
			delete(t.sessions, addr)
			evicted++
		}
	}
	for eui, p := range t.pending {
		if now.Sub(p.createdAt) > joinBindWindow {
			delete(t.pending, eui)
		}
	}
	remaining := len(t.sessions)
	t.mu.Unlock()

	if evicted > 0 {
		t.log.Info().
			Int("evicted", evicted).
			Int("remaining", remaining).
			Msg("swept idle sessions")
	}
}
