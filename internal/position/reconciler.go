// Package position attributes fills to hedge-mode positions. Venues that keep
// long and short exposure separate do not say which side a fill belongs to,
// so the intended side is cached at submit time and recalled per fill.
package position

import (
	"fmt"
	"log"
	"sync"

	"venue-gateway/pkg/venue/common"
)

// Reconciler caches the intended position side per client order id. Buys open
// or grow the long side, sells the short side.
type Reconciler struct {
	mu    sync.Mutex
	sides map[string]common.PositionSide
}

func NewReconciler() *Reconciler {
	return &Reconciler{sides: make(map[string]common.PositionSide)}
}

// NoteIntent records which side of the book an order means to trade before it
// is submitted, so fills arriving later can be attributed.
func (r *Reconciler) NoteIntent(clientOrderID string, side common.Side) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if side == common.SideBuy {
		r.sides[clientOrderID] = common.PositionLong
	} else {
		r.sides[clientOrderID] = common.PositionShort
	}
}

// Attribute returns the position id a fill on the given order belongs to. A
// fill for an order with no cached side lands on the long side and is logged;
// that only happens for orders placed outside this process.
func (r *Reconciler) Attribute(clientOrderID, instrumentID, strategyID string) string {
	r.mu.Lock()
	side, ok := r.sides[clientOrderID]
	r.mu.Unlock()
	if !ok {
		log.Printf("position: no cached side for order %s, attributing to LONG", clientOrderID)
		side = common.PositionLong
	}
	return PositionID(instrumentID, strategyID, side)
}

// Side returns the cached side for an order, if any.
func (r *Reconciler) Side(clientOrderID string) (common.PositionSide, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	side, ok := r.sides[clientOrderID]
	return side, ok
}

// Evict drops the cached side once the order is terminal.
func (r *Reconciler) Evict(clientOrderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sides, clientOrderID)
}

// Size reports how many orders currently have a cached side.
func (r *Reconciler) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sides)
}

// PositionID builds the deterministic hedge position identifier for one side
// of an instrument under one strategy.
func PositionID(instrumentID, strategyID string, side common.PositionSide) string {
	return fmt.Sprintf("%s-%s-%s", instrumentID, strategyID, side)
}
