// Package account turns control-channel polls and push feed changes into
// account snapshot and delta events.
package account

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"venue-gateway/internal/events"
	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/common"
)

// Snapshotter polls full account state on an interval and folds balance and
// position pushes into delta events between polls.
type Snapshotter struct {
	venueID  string
	control  common.ControlChannel
	bus      *events.Bus
	provider *instruments.Provider
	interval time.Duration
	nowNanos func() int64
	newID    func() string

	mu sync.Mutex
	// lastQty suppresses position pushes that carry no change; the venue
	// resends the full position on unrelated account activity.
	lastQty map[string]decimal.Decimal
}

func NewSnapshotter(venueID string, control common.ControlChannel, bus *events.Bus, provider *instruments.Provider, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Snapshotter{
		venueID:  venueID,
		control:  control,
		bus:      bus,
		provider: provider,
		interval: interval,
		nowNanos: func() int64 { return time.Now().UnixNano() },
		newID:    func() string { return uuid.NewString() },
		lastQty:  make(map[string]decimal.Decimal),
	}
}

// Run polls until ctx is done. The first snapshot fires immediately.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Snapshot(ctx); err != nil {
		log.Printf("account %s: initial snapshot failed: %v", s.venueID, err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Snapshot(ctx); err != nil {
				log.Printf("account %s: snapshot failed: %v", s.venueID, err)
			}
		}
	}
}

// Snapshot fetches balances and positions concurrently and publishes one full
// account snapshot. Partial failure fails the whole snapshot; deltas keep
// flowing regardless.
func (s *Snapshotter) Snapshot(ctx context.Context) error {
	var (
		wg        sync.WaitGroup
		state     common.AccountState
		stateErr  error
		reports   []common.PositionReport
		reportErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		state, stateErr = s.control.GetAccount(ctx)
	}()
	go func() {
		defer wg.Done()
		reports, reportErr = s.control.GetPositions(ctx)
	}()
	wg.Wait()
	if stateErr != nil {
		return stateErr
	}
	if reportErr != nil {
		return reportErr
	}

	equity := state.Equity
	hasEquity := state.HasEquity
	if !hasEquity {
		// The venue reports no account-level equity; approximate it by
		// converting every balance through last prices.
		if eq, ok := s.convertEquity(ctx, state.Balances); ok {
			equity, hasEquity = eq, true
		}
	}

	positions := make([]events.AccountPosition, 0, len(reports))
	for _, rep := range reports {
		inst, ok := s.provider.ResolveLocalMarketID(rep.LocalMarketID)
		if !ok {
			log.Printf("account %s: position on unknown market %q, skipping", s.venueID, rep.LocalMarketID)
			continue
		}
		positions = append(positions, events.AccountPosition{
			InstrumentID: inst.ID,
			Side:         rep.Side,
			Qty:          rep.Qty,
			EntryPrice:   rep.EntryPrice,
		})
	}

	s.bus.Publish(events.TopicAccountSnapshot, events.AccountSnapshot{
		VenueID:   s.venueID,
		EventID:   s.newID(),
		Balances:  state.Balances,
		Positions: positions,
		Equity:    equity,
		HasEquity: hasEquity,
		TsEvent:   s.nowNanos(),
	})
	return nil
}

// convertEquity sums balances valued in the quote stablecoin using last
// prices. Currencies without a quoted market are skipped rather than guessed.
func (s *Snapshotter) convertEquity(ctx context.Context, balances []common.Balance) (decimal.Decimal, bool) {
	tickers, err := s.control.GetTickers(ctx)
	if err != nil {
		log.Printf("account %s: ticker fetch for equity failed: %v", s.venueID, err)
		return decimal.Zero, false
	}

	var total decimal.Decimal
	for _, b := range balances {
		if b.Total.IsZero() {
			continue
		}
		currency := strings.ToLower(b.Currency)
		if currency == "usdt" {
			total = total.Add(b.Total)
			continue
		}
		price, ok := tickers[currency+"usdt"]
		if !ok {
			log.Printf("account %s: no usdt price for %s, excluded from equity", s.venueID, b.Currency)
			continue
		}
		total = total.Add(b.Total.Mul(price))
	}
	return total, true
}

// OnBalancePush publishes a pushed balance change. Full pushes replace prior
// balance state downstream; incremental ones merge.
func (s *Snapshotter) OnBalancePush(push common.BalancePush) {
	if len(push.Balances) == 0 {
		return
	}
	ts := push.TsEvent
	if ts == 0 {
		ts = s.nowNanos()
	}
	if push.Snapshot {
		s.bus.Publish(events.TopicAccountSnapshot, events.AccountSnapshot{
			VenueID:  s.venueID,
			EventID:  s.newID(),
			Balances: push.Balances,
			TsEvent:  ts,
		})
		return
	}
	s.bus.Publish(events.TopicAccountDelta, events.AccountDelta{
		VenueID:  s.venueID,
		EventID:  s.newID(),
		Balances: push.Balances,
		TsEvent:  ts,
	})
}

// OnPositionPush publishes a pushed position change, dropping resends whose
// quantity did not move.
func (s *Snapshotter) OnPositionPush(push common.PositionPush) {
	inst, ok := s.provider.ResolveLocalMarketID(push.LocalMarketID)
	if !ok {
		log.Printf("account %s: position push on unknown market %q, skipping", s.venueID, push.LocalMarketID)
		return
	}

	key := inst.ID + "|" + string(push.Side)
	s.mu.Lock()
	last, seen := s.lastQty[key]
	if seen && last.Equal(push.Qty) {
		s.mu.Unlock()
		return
	}
	s.lastQty[key] = push.Qty
	s.mu.Unlock()

	ts := push.TsEvent
	if ts == 0 {
		ts = s.nowNanos()
	}
	s.bus.Publish(events.TopicAccountDelta, events.AccountDelta{
		VenueID: s.venueID,
		EventID: s.newID(),
		Positions: []events.AccountPosition{{
			InstrumentID: inst.ID,
			Side:         push.Side,
			Qty:          push.Qty,
		}},
		TsEvent: ts,
	})
}
