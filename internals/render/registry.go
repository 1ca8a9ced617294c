package render

import (
	"fmt"
	"sort"
	"sync"

	"github.com/adityaadpandey/roomlink/internals/metrics"
	"github.com/adityaadpandey/roomlink/internals/transport"
)

type Binding struct {
	TrackID     string         `json:"trackId"`
	Kind        transport.Kind `json:"kind"`
	Participant string         `json:"participant"`
	Surface     Surface        `json:"-"`
}

// Registry holds at most one binding per track id.
type Registry struct {
	bindings map[string]*Binding
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]*Binding),
	}
}

func (r *Registry) Add(b *Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[b.TrackID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, b.TrackID)
	}
	r.bindings[b.TrackID] = b
	metrics.BindingsActive.WithLabelValues(string(b.Kind)).Inc()
	return nil
}

// Remove forgets the binding without detaching it.
func (r *Registry) Remove(trackID string) (*Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[trackID]
	if !ok {
		return nil, false
	}
	delete(r.bindings, trackID)
	metrics.BindingsActive.WithLabelValues(string(b.Kind)).Dec()
	return b, true
}

// Detach removes the binding and detaches its surface. The binding is removed
// even when Detach fails.
func (r *Registry) Detach(trackID string) error {
	b, ok := r.Remove(trackID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotBound, trackID)
	}
	return b.Surface.Detach()
}

func (r *Registry) Get(trackID string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[trackID]
	return b, ok
}

func (r *Registry) IsBound(trackID string) bool {
	_, ok := r.Get(trackID)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

func (r *Registry) CountKind(kind transport.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.bindings {
		if b.Kind == kind {
			n++
		}
	}
	return n
}

// Snapshot returns the bindings sorted by track id.
func (r *Registry) Snapshot() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// DetachAll detaches every binding and returns the detach failures keyed by
// track id.
func (r *Registry) DetachAll() map[string]error {
	r.mu.Lock()
	all := r.bindings
	r.bindings = make(map[string]*Binding)
	r.mu.Unlock()

	var failed map[string]error
	for id, b := range all {
		metrics.BindingsActive.WithLabelValues(string(b.Kind)).Dec()
		if err := b.Surface.Detach(); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[id] = err
		}
	}
	return failed
}
