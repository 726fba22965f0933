// Package state subscribes to the event bus and persists order, fill,
// position and account history, and hands orders that survived a restart back
// to the lifecycle engines.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"venue-gateway/internal/events"
	"venue-gateway/internal/lifecycle"
	"venue-gateway/internal/monitor"
	"venue-gateway/pkg/db"
	"venue-gateway/pkg/venue/common"
)

// Recorder folds lifecycle events into the store.
type Recorder struct {
	queries *db.Queries
	bus     *events.Bus
	metrics *monitor.Metrics

	wg     sync.WaitGroup
	unsubs []func()
}

func NewRecorder(queries *db.Queries, bus *events.Bus) *Recorder {
	return &Recorder{
		queries: queries,
		bus:     bus,
	}
}

// UseMetrics wires the metrics instance; call before Start.
func (r *Recorder) UseMetrics(m *monitor.Metrics) {
	r.metrics = m
}

// RestorableOrders returns the venue's persisted non-terminal orders in the
// engine's restore form, so a restarted engine resolves push events for
// orders placed by an earlier run.
func (r *Recorder) RestorableOrders(ctx context.Context, venueID string) ([]lifecycle.RestoredOrder, error) {
	open, err := r.queries.GetOpenOrders(ctx, venueID)
	if err != nil {
		return nil, err
	}
	restored := make([]lifecycle.RestoredOrder, 0, len(open))
	for _, o := range open {
		restored = append(restored, lifecycle.RestoredOrder{
			Intent: common.OrderIntent{
				ClientOrderID: o.ClientOrderID,
				StrategyID:    o.StrategyID,
				InstrumentID:  o.InstrumentID,
				Side:          common.Side(o.Side),
				Type:          common.OrderType(o.OrderType),
				Qty:           o.Qty,
				Price:         o.Price,
				TimeInForce:   common.TimeInForce(o.TimeInForce),
			},
			VenueOrderID: o.VenueOrderID,
			Status:       lifecycle.Status(o.Status),
			Filled:       o.FilledQty,
		})
	}
	return restored, nil
}

// Start subscribes to every lifecycle topic on one channel, so writes land in
// the order events were published.
func (r *Recorder) Start(ctx context.Context) {
	ch, unsub := r.bus.SubscribeAll(1024,
		events.TopicOrderSubmitted,
		events.TopicOrderAccepted,
		events.TopicOrderRejected,
		events.TopicOrderPendingCancel,
		events.TopicOrderCanceled,
		events.TopicOrderCancelRejected,
		events.TopicOrderFilled,
		events.TopicAccountSnapshot,
		events.TopicAccountDelta,
	)
	r.unsubs = append(r.unsubs, unsub)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for payload := range ch {
			r.record(ctx, payload)
		}
	}()
}

// Stop unsubscribes and waits for in-flight writes.
func (r *Recorder) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.wg.Wait()
}

func (r *Recorder) record(ctx context.Context, payload any) {
	var timer *monitor.Timer
	if r.metrics != nil {
		timer = monitor.NewTimer(r.metrics.DBLatency)
	}

	var err error
	switch ev := payload.(type) {
	case events.OrderSubmitted:
		err = r.queries.UpsertOrder(ctx, db.Order{
			ClientOrderID: ev.ClientOrderID,
			VenueID:       ev.VenueID,
			VenueOrderID:  ev.VenueOrderID,
			StrategyID:    ev.StrategyID,
			InstrumentID:  ev.InstrumentID,
			Side:          string(ev.Side),
			OrderType:     string(ev.OrderType),
			Qty:           ev.Qty,
			Price:         ev.Price,
			TimeInForce:   string(ev.TimeInForce),
			Status:        "SUBMITTED",
			TsEvent:       ev.TsEvent,
		})
	case events.OrderAccepted:
		err = r.updateStatus(ctx, ev.OrderMeta, "ACCEPTED", "")
	case events.OrderRejected:
		err = r.updateStatus(ctx, ev.OrderMeta, "REJECTED", ev.Reason)
	case events.OrderPendingCancel:
		err = r.updateStatus(ctx, ev.OrderMeta, "PENDING_CANCEL", "")
	case events.OrderCanceled:
		err = r.updateStatus(ctx, ev.OrderMeta, "CANCELED", "")
	case events.OrderCancelRejected:
		err = r.recordCancelRejected(ctx, ev)
	case events.OrderFilled:
		err = r.recordFill(ctx, ev)
	case events.AccountSnapshot:
		err = r.recordSnapshot(ctx, ev)
	case events.AccountDelta:
		err = r.recordDelta(ctx, ev)
	}
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		log.Printf("state: persist %T: %v", payload, err)
		if r.metrics != nil {
			r.metrics.IncrementErrors()
		}
	}
}

// updateStatus loads the stored order and rewrites it with the new status;
// events carry deltas, the store carries the merged row.
func (r *Recorder) updateStatus(ctx context.Context, meta events.OrderMeta, status, reason string) error {
	stored, err := r.queries.GetOrder(ctx, meta.ClientOrderID)
	if errors.Is(err, db.ErrNotFound) {
		// Order predates the store (or the submitted event was dropped);
		// keep what the event carries.
		stored = &db.Order{
			ClientOrderID: meta.ClientOrderID,
			VenueID:       meta.VenueID,
			StrategyID:    meta.StrategyID,
			InstrumentID:  meta.InstrumentID,
		}
	} else if err != nil {
		return err
	}
	stored.VenueOrderID = meta.VenueOrderID
	stored.Status = status
	stored.Reason = reason
	stored.TsEvent = meta.TsEvent
	return r.queries.UpsertOrder(ctx, *stored)
}

func (r *Recorder) recordCancelRejected(ctx context.Context, ev events.OrderCancelRejected) error {
	// The order reverts to its pre-cancel state; only record the reason.
	stored, err := r.queries.GetOrder(ctx, ev.ClientOrderID)
	if err != nil {
		return err
	}
	if terminalStatus(stored.Status) {
		// The order finished before the rejection landed; the stored row
		// already carries the final state.
		log.Printf("state: dropping cancel rejection for terminal order %s (%s)",
			ev.ClientOrderID, stored.Status)
		return nil
	}
	status := "ACCEPTED"
	if stored.FilledQty.IsPositive() {
		status = "PARTIALLY_FILLED"
	}
	stored.Status = status
	stored.Reason = ev.Reason
	stored.TsEvent = ev.TsEvent
	return r.queries.UpsertOrder(ctx, *stored)
}

func terminalStatus(status string) bool {
	return status == "FILLED" || status == "CANCELED" || status == "REJECTED"
}

func (r *Recorder) recordFill(ctx context.Context, ev events.OrderFilled) error {
	if err := r.queries.InsertFill(ctx, db.Fill{
		ClientOrderID:    ev.ClientOrderID,
		VenueID:          ev.VenueID,
		ExecutionID:      ev.ExecutionID,
		VenuePositionID:  ev.VenuePositionID,
		InstrumentID:     ev.InstrumentID,
		Side:             string(ev.Side),
		LastQty:          ev.LastQty,
		LastPx:           ev.LastPx,
		Liquidity:        string(ev.Liquidity),
		Commission:       ev.Commission,
		CommissionCcy:    ev.CommissionCcy,
		CommissionApprox: ev.CommissionApprox,
		TsEvent:          ev.TsEvent,
	}); err != nil {
		return err
	}

	stored, err := r.queries.GetOrder(ctx, ev.ClientOrderID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	stored.FilledQty = stored.FilledQty.Add(ev.LastQty)
	if stored.FilledQty.GreaterThanOrEqual(stored.Qty) {
		stored.Status = "FILLED"
	} else {
		stored.Status = "PARTIALLY_FILLED"
	}
	if ev.VenueOrderID != "" {
		stored.VenueOrderID = ev.VenueOrderID
	}
	stored.TsEvent = ev.TsEvent
	return r.queries.UpsertOrder(ctx, *stored)
}

func (r *Recorder) recordSnapshot(ctx context.Context, ev events.AccountSnapshot) error {
	balances, err := json.Marshal(ev.Balances)
	if err != nil {
		return err
	}
	if err := r.queries.InsertAccountSnapshot(ctx, db.AccountSnapshot{
		EventID:  ev.EventID,
		VenueID:  ev.VenueID,
		Balances: string(balances),
		Equity:   ev.Equity,
		TsEvent:  ev.TsEvent,
	}); err != nil {
		return err
	}
	// A full snapshot also refreshes every reported position.
	for _, p := range ev.Positions {
		if err := r.queries.UpsertPosition(ctx, db.Position{
			VenueID:      ev.VenueID,
			InstrumentID: p.InstrumentID,
			Side:         string(p.Side),
			Qty:          p.Qty,
			EntryPrice:   p.EntryPrice,
			TsEvent:      ev.TsEvent,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) recordDelta(ctx context.Context, ev events.AccountDelta) error {
	for _, p := range ev.Positions {
		if err := r.queries.UpsertPosition(ctx, db.Position{
			VenueID:      ev.VenueID,
			InstrumentID: p.InstrumentID,
			Side:         string(p.Side),
			Qty:          p.Qty,
			EntryPrice:   p.EntryPrice,
			TsEvent:      ev.TsEvent,
		}); err != nil {
			return err
		}
	}
	return nil
}
