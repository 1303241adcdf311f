package session

import (
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

type pairKey struct {
	lo, hi models.ClientID
}

func keyOf(a, b models.ClientID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Tracker keeps the call sessions of locally known identities.
// Ended sessions are dropped from the tracker.
type Tracker struct {
	mu       sync.Mutex
	sessions map[pairKey]*models.CallSession
	byClient map[models.ClientID]map[pairKey]struct{}
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[pairKey]*models.CallSession),
		byClient: make(map[models.ClientID]map[pairKey]struct{}),
		now:      time.Now,
	}
}

// Ring records caller ringing callee. A session that is already active
// between the two is left untouched.
func (t *Tracker) Ring(caller, callee models.ClientID) {
	if caller == "" || callee == "" || caller == callee {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	k := keyOf(caller, callee)
	if s, ok := t.sessions[k]; ok && s.State == models.CallStateActive {
		return
	}
	t.put(k, &models.CallSession{
		Caller:    caller,
		Callee:    callee,
		State:     models.CallStateRinging,
		StartedAt: t.now(),
	})
	log.Debug().Str("module", "session").Str("caller", string(caller)).Str("callee", string(callee)).Msg("ringing")
}

// Accept moves the session between callee and caller to active, creating it
// when the ring was never seen by this tracker.
func (t *Tracker) Accept(callee, caller models.ClientID) {
	if caller == "" || callee == "" || caller == callee {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	k := keyOf(caller, callee)
	if s, ok := t.sessions[k]; ok {
		s.State = models.CallStateActive
	} else {
		t.put(k, &models.CallSession{
			Caller:    caller,
			Callee:    callee,
			State:     models.CallStateActive,
			StartedAt: t.now(),
		})
	}
	log.Debug().Str("module", "session").Str("caller", string(caller)).Str("callee", string(callee)).Msg("active")
}

// Hangup ends the session between a and b and returns it with state ended.
func (t *Tracker) Hangup(a, b models.ClientID) (models.CallSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := keyOf(a, b)
	s, ok := t.sessions[k]
	if !ok {
		return models.CallSession{}, false
	}
	t.remove(k)
	ended := *s
	ended.State = models.CallStateEnded
	return ended, true
}

// EndAll ends every session id takes part in and returns the peers.
func (t *Tracker) EndAll(id models.ClientID) []models.ClientID {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.byClient[id]
	peers := make([]models.ClientID, 0, len(keys))
	for k := range keys {
		if s, ok := t.sessions[k]; ok {
			peers = append(peers, s.Peer(id))
		}
		t.remove(k)
	}
	return peers
}

// Snapshot returns a copy of all live sessions, oldest first.
func (t *Tracker) Snapshot() []models.CallSession {
	t.mu.Lock()
	out := make([]models.CallSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) put(k pairKey, s *models.CallSession) {
	t.sessions[k] = s
	for _, id := range []models.ClientID{k.lo, k.hi} {
		set, ok := t.byClient[id]
		if !ok {
			set = make(map[pairKey]struct{})
			t.byClient[id] = set
		}
		set[k] = struct{}{}
	}
}

func (t *Tracker) remove(k pairKey) {
	delete(t.sessions, k)
	for _, id := range []models.ClientID{k.lo, k.hi} {
		if set, ok := t.byClient[id]; ok {
			delete(set, k)
			if len(set) == 0 {
				delete(t.byClient, id)
			}
		}
	}
}
