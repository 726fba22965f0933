package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"venue-gateway/internal/events"
	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/common"
)

const testInstrumentID = "BTC_USDT.TEST"

func testInstrument() instruments.Instrument {
	return instruments.Instrument{
		ID:             testInstrumentID,
		Symbol:         "btc_usdt",
		LocalMarketIDs: []string{"btcusdt"},
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USDT",
		MakerFee:       decimal.RequireFromString("0.002"),
		TakerFee:       decimal.RequireFromString("0.003"),
		SizePrecision:  4,
	}
}

type mockControl struct {
	mu          sync.Mutex
	newOrderFn  func(common.OrderIntent) (common.OrderAck, error)
	cancelFn    func(symbol, clientOrderID string) error
	getOrderFn  func(symbol, clientOrderID string) (common.OrderStatusReport, error)
	newCalls    []string
	cancelCalls []string
	cancelAlls  []string
}

func (m *mockControl) NewOrder(_ context.Context, intent common.OrderIntent) (common.OrderAck, error) {
	m.mu.Lock()
	m.newCalls = append(m.newCalls, intent.ClientOrderID)
	fn := m.newOrderFn
	m.mu.Unlock()
	if fn != nil {
		return fn(intent)
	}
	return common.OrderAck{VenueOrderID: "V-" + intent.ClientOrderID, ClientOrderID: intent.ClientOrderID}, nil
}

func (m *mockControl) CancelOrder(_ context.Context, symbol, clientOrderID string) error {
	m.mu.Lock()
	m.cancelCalls = append(m.cancelCalls, clientOrderID)
	fn := m.cancelFn
	m.mu.Unlock()
	if fn != nil {
		return fn(symbol, clientOrderID)
	}
	return nil
}

func (m *mockControl) CancelAllOrders(_ context.Context, symbol string) error {
	m.mu.Lock()
	m.cancelAlls = append(m.cancelAlls, symbol)
	m.mu.Unlock()
	return nil
}

func (m *mockControl) GetOrder(_ context.Context, symbol, clientOrderID string) (common.OrderStatusReport, error) {
	m.mu.Lock()
	fn := m.getOrderFn
	m.mu.Unlock()
	if fn != nil {
		return fn(symbol, clientOrderID)
	}
	return common.OrderStatusReport{}, errors.New("order not found")
}

func (m *mockControl) GetAccount(context.Context) (common.AccountState, error) {
	return common.AccountState{}, nil
}

func (m *mockControl) GetPositions(context.Context) ([]common.PositionReport, error) {
	return nil, nil
}

func (m *mockControl) GetTickers(context.Context) (map[string]decimal.Decimal, error) {
	return nil, nil
}

func (m *mockControl) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancelCalls)
}

func (m *mockControl) newCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.newCalls)
}

type fixture struct {
	eng *Engine
	ctl *mockControl
	bus *events.Bus

	submitted     <-chan any
	accepted      <-chan any
	rejected      <-chan any
	pendingCancel <-chan any
	canceled      <-chan any
	cancelReject  <-chan any
	filled        <-chan any
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	if cfg.VenueID == "" {
		cfg.VenueID = "TEST"
	}
	provider, err := instruments.NewProvider([]instruments.Instrument{testInstrument()})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	ctl := &mockControl{}
	bus := events.NewBus()
	f := &fixture{ctl: ctl, bus: bus}
	f.submitted, _ = bus.Subscribe(events.TopicOrderSubmitted, 16)
	f.accepted, _ = bus.Subscribe(events.TopicOrderAccepted, 16)
	f.rejected, _ = bus.Subscribe(events.TopicOrderRejected, 16)
	f.pendingCancel, _ = bus.Subscribe(events.TopicOrderPendingCancel, 16)
	f.canceled, _ = bus.Subscribe(events.TopicOrderCanceled, 16)
	f.cancelReject, _ = bus.Subscribe(events.TopicOrderCancelRejected, 16)
	f.filled, _ = bus.Subscribe(events.TopicOrderFilled, 16)

	opts = append(opts, withClock(func() int64 { return 1700000000000000000 }))
	f.eng = NewEngine(cfg, ctl, bus, provider, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.eng.Run(ctx)
	return f
}

func limitIntent(clientOrderID string) common.OrderIntent {
	return common.OrderIntent{
		ClientOrderID: clientOrderID,
		StrategyID:    "S-001",
		InstrumentID:  testInstrumentID,
		Side:          common.SideBuy,
		Type:          common.OrderTypeLimit,
		Qty:           decimal.RequireFromString("2"),
		Price:         decimal.RequireFromString("30000"),
		TimeInForce:   common.TIFGTC,
	}
}

func waitEvent[T any](t *testing.T, ch <-chan any) T {
	t.Helper()
	select {
	case raw := <-ch:
		ev, ok := raw.(T)
		if !ok {
			t.Fatalf("unexpected event type %T", raw)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	var zero T
	return zero
}

func assertNoEvent(t *testing.T, ch <-chan any) {
	t.Helper()
	select {
	case raw := <-ch:
		t.Fatalf("unexpected event %#v", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmitHappyPath(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	sub := waitEvent[events.OrderSubmitted](t, f.submitted)
	if sub.ClientOrderID != "C-1" || sub.VenueOrderID != "" {
		t.Fatalf("submitted event = %+v", sub)
	}
	acc := waitEvent[events.OrderAccepted](t, f.accepted)
	if acc.VenueOrderID != "V-C-1" {
		t.Fatalf("accepted venue order id = %q", acc.VenueOrderID)
	}
}

func TestSubmitLocalValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*common.OrderIntent)
	}{
		{"unsupported type", func(i *common.OrderIntent) { i.Type = common.OrderTypeStopMarket }},
		{"unsupported tif", func(i *common.OrderIntent) { i.TimeInForce = common.TimeInForce("GTD") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{
				SupportedTypes: []common.OrderType{common.OrderTypeLimit, common.OrderTypeMarket},
				SupportedTIF:   []common.TimeInForce{common.TIFGTC, common.TIFIOC, common.TIFFOK},
			})
			intent := limitIntent("C-1")
			tc.mutate(&intent)

			if err := f.eng.Submit(context.Background(), intent); err == nil {
				t.Fatal("expected validation error")
			}
			rej := waitEvent[events.OrderRejected](t, f.rejected)
			if rej.ClientOrderID != "C-1" || rej.Reason == "" {
				t.Fatalf("rejected event = %+v", rej)
			}
			assertNoEvent(t, f.submitted)
			if f.ctl.newCount() != 0 {
				t.Fatal("venue must not be called for locally rejected orders")
			}
		})
	}
}

func TestSubmitVenueRejection(t *testing.T) {
	f := newFixture(t, Config{})
	f.ctl.newOrderFn = func(common.OrderIntent) (common.OrderAck, error) {
		return common.OrderAck{}, &common.VenueError{Code: 2009, Message: "insufficient balance"}
	}

	if err := f.eng.Submit(context.Background(), limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	rej := waitEvent[events.OrderRejected](t, f.rejected)
	if rej.Reason != "insufficient balance" {
		t.Fatalf("reason = %q", rej.Reason)
	}
}

func TestSubmitAmbiguousFailure(t *testing.T) {
	t.Run("order exists at venue", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.ctl.newOrderFn = func(common.OrderIntent) (common.OrderAck, error) {
			return common.OrderAck{}, errors.New("connection reset")
		}
		f.ctl.getOrderFn = func(_, clientOrderID string) (common.OrderStatusReport, error) {
			return common.OrderStatusReport{VenueOrderID: "V-9", ClientOrderID: clientOrderID}, nil
		}

		if err := f.eng.Submit(context.Background(), limitIntent("C-1")); err != nil {
			t.Fatalf("submit: %v", err)
		}
		waitEvent[events.OrderSubmitted](t, f.submitted)
		acc := waitEvent[events.OrderAccepted](t, f.accepted)
		if acc.VenueOrderID != "V-9" {
			t.Fatalf("accepted venue order id = %q", acc.VenueOrderID)
		}
		assertNoEvent(t, f.rejected)
	})

	t.Run("venue does not know the order", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.ctl.newOrderFn = func(common.OrderIntent) (common.OrderAck, error) {
			return common.OrderAck{}, errors.New("connection reset")
		}
		f.ctl.getOrderFn = func(_, _ string) (common.OrderStatusReport, error) {
			return common.OrderStatusReport{}, &common.VenueError{Code: 3001, Message: "order not found"}
		}

		if err := f.eng.Submit(context.Background(), limitIntent("C-1")); err != nil {
			t.Fatalf("submit: %v", err)
		}
		waitEvent[events.OrderSubmitted](t, f.submitted)
		rej := waitEvent[events.OrderRejected](t, f.rejected)
		if rej.Reason != "order not found" {
			t.Fatalf("reason = %q", rej.Reason)
		}
		assertNoEvent(t, f.accepted)
	})
}

func TestCancelHappyPath(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	// The pending-cancel event must be published before the venue call goes
	// out; the mock observes the subscriber channel at call time.
	sawPending := make(chan bool, 1)
	f.ctl.cancelFn = func(_, _ string) error {
		sawPending <- len(f.pendingCancel) > 0
		return nil
	}

	if err := f.eng.Cancel(ctx, "C-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !<-sawPending {
		t.Fatal("cancel call went out before the pending-cancel event")
	}
	waitEvent[events.OrderPendingCancel](t, f.pendingCancel)

	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateCanceled,
		ClientOrderID: "C-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitEvent[events.OrderCanceled](t, f.canceled)
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.eng.Cancel(context.Background(), "NOPE"); err == nil {
		t.Fatal("expected error for unknown client order id")
	}
}

func TestCancelBeforeAcceptanceIsQueued(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	release := make(chan struct{})
	f.ctl.newOrderFn = func(intent common.OrderIntent) (common.OrderAck, error) {
		<-release
		return common.OrderAck{VenueOrderID: "V-7"}, nil
	}

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)

	// No venue order id yet: the cancel must wait, not fail.
	if err := f.eng.Cancel(ctx, "C-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.ctl.cancelCount() != 0 {
		t.Fatal("cancel must not reach the venue before acceptance")
	}

	close(release)
	waitEvent[events.OrderAccepted](t, f.accepted)
	waitEvent[events.OrderPendingCancel](t, f.pendingCancel)
}

func TestCancelRejectionRestoresState(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	// Partial fill, then a cancel the venue refuses.
	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		Qty:           decimal.RequireFromString("1"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitEvent[events.OrderFilled](t, f.filled)

	f.ctl.cancelFn = func(_, _ string) error {
		return &common.VenueError{Code: 3008, Message: "order finished"}
	}
	if err := f.eng.Cancel(ctx, "C-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitEvent[events.OrderPendingCancel](t, f.pendingCancel)
	cr := waitEvent[events.OrderCancelRejected](t, f.cancelReject)
	if cr.Reason != "order finished" {
		t.Fatalf("reason = %q", cr.Reason)
	}

	// The order is live again: the remaining quantity can still fill.
	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		Qty:           decimal.RequireFromString("1"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-2",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitEvent[events.OrderFilled](t, f.filled)
}

func TestCancelRejectionAfterFillIsDropped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	// The cancel call stalls at the venue while the full quantity fills.
	release := make(chan struct{})
	f.ctl.cancelFn = func(_, _ string) error {
		<-release
		return &common.VenueError{Code: 3008, Message: "order finished"}
	}
	if err := f.eng.Cancel(ctx, "C-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitEvent[events.OrderPendingCancel](t, f.pendingCancel)

	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		Qty:           decimal.RequireFromString("2"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitEvent[events.OrderFilled](t, f.filled)

	// The late rejection for the now-FILLED order carries no information.
	close(release)
	assertNoEvent(t, f.cancelReject)
}

func TestCancelRejectionRestoreReflectsFillProgress(t *testing.T) {
	cases := []struct {
		name   string
		filled string
		want   Status
	}{
		{"nothing filled", "0", StatusAccepted},
		{"partially filled", "1", StatusPartiallyFilled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := instruments.NewProvider([]instruments.Instrument{testInstrument()})
			if err != nil {
				t.Fatalf("provider: %v", err)
			}
			bus := events.NewBus()
			rejects, _ := bus.Subscribe(events.TopicOrderCancelRejected, 16)
			eng := NewEngine(Config{VenueID: "TEST"}, &mockControl{}, bus, provider)

			o := &order{
				intent:      limitIntent("C-1"),
				instrument:  testInstrument(),
				status:      StatusPendingCancel,
				preCancel:   StatusAccepted,
				filled:      decimal.RequireFromString(tc.filled),
				seenExecIDs: make(map[string]bool),
			}
			eng.orders["C-1"] = o

			eng.cancelRejected(o, "order finished", 1)
			waitEvent[events.OrderCancelRejected](t, rejects)
			if o.status != tc.want {
				t.Fatalf("restored status = %s, want %s", o.status, tc.want)
			}
		})
	}
}

func TestFillDedupByExecutionID(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	fill := common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		Qty:           decimal.RequireFromString("1"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-1",
	}
	for i := 0; i < 3; i++ {
		if err := f.eng.OnVenueUpdate(ctx, fill); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	ev := waitEvent[events.OrderFilled](t, f.filled)
	if !ev.LastQty.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("last qty = %s", ev.LastQty)
	}
	assertNoEvent(t, f.filled)
}

func TestFillDedupByCumulativeQty(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	push := func(cum string) {
		t.Helper()
		if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
			Kind:          common.UpdateFilled,
			ClientOrderID: "C-1",
			VenueOrderID:  "V-C-1",
			Qty:           decimal.RequireFromString(cum),
			Cumulative:    true,
			Price:         decimal.RequireFromString("30000"),
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	push("0.5")
	ev := waitEvent[events.OrderFilled](t, f.filled)
	if !ev.LastQty.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("first increment = %s", ev.LastQty)
	}

	// Replay of the same cumulative total produces nothing.
	push("0.5")
	assertNoEvent(t, f.filled)

	push("2")
	ev = waitEvent[events.OrderFilled](t, f.filled)
	if !ev.LastQty.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("second increment = %s", ev.LastQty)
	}
}

func TestFillReachesTerminalAndDropsFurtherUpdates(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		Qty:           decimal.RequireFromString("2"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitEvent[events.OrderFilled](t, f.filled)

	// Anything after FILLED is dropped without events.
	for _, upd := range []common.OrderUpdate{
		{Kind: common.UpdateCanceled, ClientOrderID: "C-1"},
		{Kind: common.UpdateFilled, ClientOrderID: "C-1", Qty: decimal.RequireFromString("1"), ExecutionID: "E-2"},
		{Kind: common.UpdateAccepted, ClientOrderID: "C-1"},
	} {
		if err := f.eng.OnVenueUpdate(ctx, upd); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	assertNoEvent(t, f.filled)
	assertNoEvent(t, f.canceled)
	assertNoEvent(t, f.accepted)
}

func TestCanceledWhileSubmittedSynthesizesAcceptance(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	release := make(chan struct{})
	f.ctl.newOrderFn = func(common.OrderIntent) (common.OrderAck, error) {
		<-release
		return common.OrderAck{VenueOrderID: "V-7"}, nil
	}
	defer close(release)

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)

	// The push feed outran the REST round trip.
	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateCanceled,
		ClientOrderID: "C-1",
		VenueOrderID:  "V-7",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	waitEvent[events.OrderAccepted](t, f.accepted)
	waitEvent[events.OrderCanceled](t, f.canceled)
}

func TestFillWhileSubmittedSynthesizesAcceptance(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	release := make(chan struct{})
	f.ctl.newOrderFn = func(common.OrderIntent) (common.OrderAck, error) {
		<-release
		return common.OrderAck{VenueOrderID: "V-7"}, nil
	}
	defer close(release)

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)

	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		VenueOrderID:  "V-7",
		Qty:           decimal.RequireFromString("1"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	waitEvent[events.OrderAccepted](t, f.accepted)
	waitEvent[events.OrderFilled](t, f.filled)
}

func TestFillDuringPendingCancelCanComplete(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	if err := f.eng.Cancel(ctx, "C-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitEvent[events.OrderPendingCancel](t, f.pendingCancel)

	// The full quantity filled before the cancel landed: FILLED wins.
	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		Qty:           decimal.RequireFromString("2"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitEvent[events.OrderFilled](t, f.filled)

	// The late canceled push for the now-terminal order is dropped.
	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateCanceled,
		ClientOrderID: "C-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	assertNoEvent(t, f.canceled)
}

func TestRestoredOrdersResolveAfterRestart(t *testing.T) {
	provider, err := instruments.NewProvider([]instruments.Instrument{testInstrument()})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	bus := events.NewBus()
	filled, _ := bus.Subscribe(events.TopicOrderFilled, 16)
	canceled, _ := bus.Subscribe(events.TopicOrderCanceled, 16)

	eng := NewEngine(Config{VenueID: "TEST"}, &mockControl{}, bus, provider,
		withClock(func() int64 { return 1700000000000000000 }))
	eng.Restore([]RestoredOrder{
		{Intent: limitIntent("C-old"), VenueOrderID: "V-old", Status: StatusPartiallyFilled, Filled: decimal.RequireFromString("0.5")},
		{Intent: limitIntent("C-parked"), VenueOrderID: "V-parked", Status: StatusAccepted},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	// A cumulative fill addressed only by venue order id lands on the
	// restored order, with the persisted progress as its baseline.
	if err := eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:         common.UpdateFilled,
		VenueOrderID: "V-old",
		Qty:          decimal.RequireFromString("2"),
		Cumulative:   true,
		Price:        decimal.RequireFromString("30000"),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev := waitEvent[events.OrderFilled](t, filled)
	if ev.ClientOrderID != "C-old" {
		t.Fatalf("client order id = %q", ev.ClientOrderID)
	}
	if !ev.LastQty.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("increment = %s", ev.LastQty)
	}

	if err := eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:         common.UpdateCanceled,
		VenueOrderID: "V-parked",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	cv := waitEvent[events.OrderCanceled](t, canceled)
	if cv.ClientOrderID != "C-parked" {
		t.Fatalf("client order id = %q", cv.ClientOrderID)
	}
}

func TestUnknownOrderUpdateDropped(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.eng.OnVenueUpdate(context.Background(), common.OrderUpdate{
		Kind:         common.UpdateFilled,
		VenueOrderID: "V-unknown",
		Qty:          decimal.RequireFromString("1"),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	assertNoEvent(t, f.filled)
}

func TestCommissionApproximation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	// No venue-reported commission: approximate off the maker rate.
	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		Qty:           decimal.RequireFromString("1"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev := waitEvent[events.OrderFilled](t, f.filled)
	if !ev.CommissionApprox {
		t.Fatal("expected approximated commission")
	}
	if want := decimal.RequireFromString("60"); !ev.Commission.Equal(want) {
		t.Fatalf("commission = %s, want %s", ev.Commission, want)
	}
	if ev.Liquidity != common.LiquidityMaker {
		t.Fatalf("liquidity = %s", ev.Liquidity)
	}
	if ev.CommissionCcy != "USDT" {
		t.Fatalf("commission currency = %s", ev.CommissionCcy)
	}

	// Venue-reported commission passes through untouched.
	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: "C-1",
		Qty:           decimal.RequireFromString("0.5"),
		Price:         decimal.RequireFromString("30000"),
		ExecutionID:   "E-2",
		Commission:    decimal.RequireFromString("3.21"),
		Liquidity:     common.LiquidityTaker,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev = waitEvent[events.OrderFilled](t, f.filled)
	if ev.CommissionApprox {
		t.Fatal("venue-reported commission must not be flagged as approximate")
	}
	if want := decimal.RequireFromString("3.21"); !ev.Commission.Equal(want) {
		t.Fatalf("commission = %s, want %s", ev.Commission, want)
	}
}

type mockPositions struct {
	mu      sync.Mutex
	noted   map[string]common.Side
	evicted []string
}

func (m *mockPositions) NoteIntent(clientOrderID string, side common.Side) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.noted == nil {
		m.noted = make(map[string]common.Side)
	}
	m.noted[clientOrderID] = side
}

func (m *mockPositions) Attribute(clientOrderID, instrumentID, strategyID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	side := "LONG"
	if m.noted[clientOrderID] == common.SideSell {
		side = "SHORT"
	}
	return fmt.Sprintf("%s-%s-%s", instrumentID, strategyID, side)
}

func (m *mockPositions) Evict(clientOrderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, clientOrderID)
}

func TestHedgeModeFillAttribution(t *testing.T) {
	positions := &mockPositions{}
	f := newFixture(t, Config{HedgeMode: true}, WithPositions(positions))
	ctx := context.Background()

	buy := limitIntent("C-buy")
	sell := limitIntent("C-sell")
	sell.Side = common.SideSell
	for _, intent := range []common.OrderIntent{buy, sell} {
		if err := f.eng.Submit(ctx, intent); err != nil {
			t.Fatalf("submit %s: %v", intent.ClientOrderID, err)
		}
		waitEvent[events.OrderSubmitted](t, f.submitted)
		waitEvent[events.OrderAccepted](t, f.accepted)
	}

	// Interleave fills; each must land on its own order's position.
	steps := []struct {
		clientOrderID string
		wantSuffix    string
	}{
		{"C-buy", "LONG"},
		{"C-sell", "SHORT"},
		{"C-buy", "LONG"},
		{"C-sell", "SHORT"},
	}
	for i, step := range steps {
		if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
			Kind:          common.UpdateFilled,
			ClientOrderID: step.clientOrderID,
			Qty:           decimal.RequireFromString("0.5"),
			Price:         decimal.RequireFromString("30000"),
			ExecutionID:   fmt.Sprintf("E-%d", i),
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		ev := waitEvent[events.OrderFilled](t, f.filled)
		want := fmt.Sprintf("%s-S-001-%s", testInstrumentID, step.wantSuffix)
		if ev.VenuePositionID != want {
			t.Fatalf("step %d: position id = %q, want %q", i, ev.VenuePositionID, want)
		}
	}
}

func TestHedgeModeEvictionOnTerminal(t *testing.T) {
	positions := &mockPositions{}
	f := newFixture(t, Config{HedgeMode: true}, WithPositions(positions))
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	if err := f.eng.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateCanceled,
		ClientOrderID: "C-1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitEvent[events.OrderCanceled](t, f.canceled)

	positions.mu.Lock()
	defer positions.mu.Unlock()
	if len(positions.evicted) != 1 || positions.evicted[0] != "C-1" {
		t.Fatalf("evicted = %v", positions.evicted)
	}
}

type mockMirror struct {
	mu      sync.Mutex
	news    []string
	cancels []string
}

func (m *mockMirror) MirrorNewOrder(_ context.Context, intent common.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.news = append(m.news, intent.ClientOrderID)
	return nil
}

func (m *mockMirror) MirrorCancelOrder(_ context.Context, _, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, clientOrderID)
	return nil
}

func TestOrderMirroring(t *testing.T) {
	mirror := &mockMirror{}
	f := newFixture(t, Config{MirrorOrders: true}, WithMirror(mirror))
	ctx := context.Background()

	if err := f.eng.Submit(ctx, limitIntent("C-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitEvent[events.OrderSubmitted](t, f.submitted)
	waitEvent[events.OrderAccepted](t, f.accepted)

	if err := f.eng.Cancel(ctx, "C-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitEvent[events.OrderPendingCancel](t, f.pendingCancel)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mirror.mu.Lock()
		done := len(mirror.news) == 1 && len(mirror.cancels) == 1
		mirror.mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("mirror calls: news=%v cancels=%v", mirror.news, mirror.cancels)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelAll(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	for _, clientOrderID := range []string{"C-1", "C-2"} {
		if err := f.eng.Submit(ctx, limitIntent(clientOrderID)); err != nil {
			t.Fatalf("submit: %v", err)
		}
		waitEvent[events.OrderSubmitted](t, f.submitted)
		waitEvent[events.OrderAccepted](t, f.accepted)
	}

	if err := f.eng.CancelAll(ctx, testInstrumentID); err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	waitEvent[events.OrderPendingCancel](t, f.pendingCancel)
	waitEvent[events.OrderPendingCancel](t, f.pendingCancel)

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.ctl.mu.Lock()
		n := len(f.ctl.cancelAlls)
		f.ctl.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cancel-all never reached the venue")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
