package conference

import (
	"sort"
	"sync"

	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// Entry is one remote producer being consumed.
type Entry struct {
	ProducerID       string
	Name             string
	Kind             protocol.MediaKind
	Transport        engine.RecvTransport
	Consumer         engine.Consumer
	ServerConsumerID string
}

// closeOutcome says what OnProducerClosed found for an id.
type closeOutcome int

const (
	closeUnknown closeOutcome = iota
	closeDeferred
	closeRemoved
)

type pendingClaim struct {
	closeRequested bool
}

// Registry maps remote producer ids to their receive transport and consumer.
// An id is either pending (negotiation in flight) or registered, never both.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pendingClaim
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*pendingClaim),
		entries: make(map[string]*Entry),
	}
}

// Claim marks id as under negotiation. It fails when id is already pending
// or registered.
func (r *Registry) Claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		return false
	}
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.pending[id] = &pendingClaim{}
	return true
}

// Release drops a pending claim after a failed negotiation.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Commit turns the pending claim for e.ProducerID into an entry. When the
// producer was closed while negotiating, nothing is inserted and
// closeRequested is true.
func (r *Registry) Commit(e *Entry) (closeRequested bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	claim, ok := r.pending[e.ProducerID]
	delete(r.pending, e.ProducerID)
	if ok && claim.closeRequested {
		return true
	}
	r.entries[e.ProducerID] = e
	return false
}

// closeOrDefer removes a registered id, or marks a pending one to be torn
// down once its negotiation finishes.
func (r *Registry) closeOrDefer(id string) (closeOutcome, *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		delete(r.entries, id)
		return closeRemoved, e
	}
	if claim, ok := r.pending[id]; ok {
		claim.closeRequested = true
		return closeDeferred, nil
	}
	return closeUnknown, nil
}

// Remove deletes a registered entry and returns it.
func (r *Registry) Remove(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

// Lookup returns the registered entry for id.
func (r *Registry) Lookup(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Pending reports whether id is claimed but not yet committed.
func (r *Registry) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Len counts registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns copies of the registered entries ordered by name, then id.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ProducerID < out[j].ProducerID
	})
	return out
}

// Drain removes every entry and marks every pending claim for teardown.
func (r *Registry) Drain() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e)
		delete(r.entries, id)
	}
	for _, claim := range r.pending {
		claim.closeRequested = true
	}
	return out
}
