package common

import (
	"context"
	"log"
	"sync"
	"time"
)

// TimeSync tracks the clock offset against a venue server so signed request
// timestamps stay inside the venue's receive window.
type TimeSync struct {
	serverTime   func(ctx context.Context) (int64, error)
	offset       int64 // ms, server - local
	syncInterval time.Duration
	mu           sync.RWMutex
}

func NewTimeSync(serverTime func(ctx context.Context) (int64, error)) *TimeSync {
	return &TimeSync{
		serverTime:   serverTime,
		syncInterval: 30 * time.Minute,
	}
}

// Start syncs once and then keeps the offset fresh until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		log.Printf("timesync: initial sync failed: %v", err)
	}
	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					log.Printf("timesync: sync failed: %v", err)
				}
			}
		}
	}()
}

// Sync queries server time and recomputes the offset, assuming symmetric
// network latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now().UnixMilli()
	server, err := ts.serverTime(ctx)
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()

	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.mu.Unlock()
	return nil
}

// Now returns the current time in ms adjusted for the server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
