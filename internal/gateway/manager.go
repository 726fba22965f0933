package gateway

import (
	"context"
	"errors"
	"sync"
)

var ErrVenueNotFound = errors.New("venue not found")

// Registry tracks every wired venue connection by id.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]*Venue
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{venues: make(map[string]*Venue)}
}

// Register adds a venue. Re-registering an id replaces the old entry; callers
// stop the old venue first.
func (r *Registry) Register(v *Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.venues[v.ID]; !exists {
		r.order = append(r.order, v.ID)
	}
	r.venues[v.ID] = v
}

// Get returns the venue for an id.
func (r *Registry) Get(id string) (*Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return nil, ErrVenueNotFound
	}
	return v, nil
}

// All returns the venues in registration order.
func (r *Registry) All() []*Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Venue, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.venues[id])
	}
	return out
}

// StartAll starts every venue; the first failure stops what already started.
func (r *Registry) StartAll(ctx context.Context) error {
	started := make([]*Venue, 0)
	for _, v := range r.All() {
		if err := v.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop()
			}
			return err
		}
		started = append(started, v)
	}
	return nil
}

// StopAll stops every venue.
func (r *Registry) StopAll() {
	for _, v := range r.All() {
		v.Stop()
	}
}

// Status reports per-venue liveness for the health endpoint.
func (r *Registry) Status() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.venues))
	for id, v := range r.venues {
		out[id] = v.Running()
	}
	return out
}
