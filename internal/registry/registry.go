package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

// Channel is the outbound side of a live connection.
// TrySend must not block; it reports an error when the frame cannot be queued.
type Channel interface {
	TrySend(frame []byte) error
}

// Registry maps live identities to their outbound channels.
// All operations are serialized by mu.
type Registry struct {
	mu    sync.RWMutex
	conns map[models.ClientID]Channel
}

func New() *Registry {
	return &Registry{
		conns: make(map[models.ClientID]Channel),
	}
}

// Register assigns a fresh identity to ch and stores it. When admit is non-nil
// it runs with the new identity before the record becomes visible to lookups,
// so anything it queues on ch precedes every relayed frame. If admit fails,
// nothing is stored.
func (r *Registry) Register(ch Channel, admit func(models.ClientID) error) (models.ClientID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newIdentity()
	if admit != nil {
		if err := admit(id); err != nil {
			return "", err
		}
	}
	r.conns[id] = ch

	log.Debug().Str("module", "registry").Str("client", string(id)).Int("clients", len(r.conns)).Msg("registered")
	return id, nil
}

// newIdentity must be called with mu held.
func (r *Registry) newIdentity() models.ClientID {
	for {
		id := models.ClientID(uuid.NewString())
		if _, taken := r.conns[id]; !taken {
			return id
		}
	}
}

// Lookup resolves an identity to its channel.
func (r *Registry) Lookup(id models.ClientID) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.conns[id]
	return ch, ok
}

// Unregister removes id and reports whether a record was removed.
// Only the first of several racing calls for the same id returns true.
func (r *Registry) Unregister(id models.ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)

	log.Debug().Str("module", "registry").Str("client", string(id)).Int("clients", len(r.conns)).Msg("unregistered")
	return true
}

// Entry is a read-only view of one record.
type Entry struct {
	ID      models.ClientID
	Channel Channel
}

// Others returns a snapshot of every record except exclude.
func (r *Registry) Others(exclude models.ClientID) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.conns))
	for id, ch := range r.conns {
		if id != exclude {
			out = append(out, Entry{ID: id, Channel: ch})
		}
	}
	return out
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
