// Package gateway assembles per-venue connections: control client, push
// stream, codec, lifecycle engine and account snapshotter, and keeps them in
// a registry the API layer queries.
package gateway

import (
	"context"
	"log"
	"sync"

	"venue-gateway/internal/account"
	"venue-gateway/internal/lifecycle"
	"venue-gateway/internal/monitor"
	"venue-gateway/pkg/venue/zb"
)

// Stream is the event-channel side of a venue connection.
type Stream interface {
	Start(ctx context.Context) error
	Stop()
}

// Venue is one fully wired venue connection.
type Venue struct {
	ID          string
	Engine      *lifecycle.Engine
	Snapshotter *account.Snapshotter

	stream Stream

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewVenue wires a connection. stream may be nil for control-only venues.
func NewVenue(id string, engine *lifecycle.Engine, snapshotter *account.Snapshotter, stream Stream) *Venue {
	return &Venue{
		ID:          id,
		Engine:      engine,
		Snapshotter: snapshotter,
		stream:      stream,
	}
}

// Start runs the engine loop, the snapshot poller and the push stream.
func (v *Venue) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.Engine.Run(ctx)
	}()

	if v.Snapshotter != nil {
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			v.Snapshotter.Run(ctx)
		}()
	}

	if v.stream != nil {
		if err := v.stream.Start(ctx); err != nil {
			cancel()
			v.wg.Wait()
			return err
		}
	}

	v.running = true
	log.Printf("gateway: venue %s started", v.ID)
	return nil
}

// Stop tears the connection down and waits for the loops to exit.
func (v *Venue) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.running {
		return
	}
	if v.stream != nil {
		v.stream.Stop()
	}
	v.cancel()
	v.wg.Wait()
	v.running = false
	log.Printf("gateway: venue %s stopped", v.ID)
}

// Running reports whether the venue loops are live.
func (v *Venue) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// streamHandler routes decoded frames from a push stream into the engine and
// snapshotter. Returned as a closure so the stream owns no domain types.
func streamHandler(ctx context.Context, venueID string, codec zb.Codec, engine *lifecycle.Engine, snapshotter *account.Snapshotter, metrics *monitor.Metrics) zb.Handler {
	return func(raw []byte) {
		decoded, err := codec.Decode(raw)
		if err != nil {
			log.Printf("gateway %s: decode push frame: %v", venueID, err)
			if metrics != nil {
				metrics.IncrementErrors()
			}
			return
		}
		if metrics != nil {
			metrics.IncrementStreamFrames()
		}
		for _, upd := range decoded.Orders {
			if err := engine.OnVenueUpdate(ctx, upd); err != nil {
				log.Printf("gateway %s: deliver order update: %v", venueID, err)
			}
		}
		if snapshotter == nil {
			return
		}
		for _, push := range decoded.Balances {
			snapshotter.OnBalancePush(push)
		}
		for _, push := range decoded.Positions {
			snapshotter.OnPositionPush(push)
		}
	}
}
