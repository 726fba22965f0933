package db

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func openTestDB(t *testing.T) *Queries {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return database.Queries()
}

func TestOrderUpsertAndLookup(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	o := Order{
		ClientOrderID: "C-1",
		VenueID:       "ZB",
		StrategyID:    "S-1",
		InstrumentID:  "BTC_USDT.ZB",
		Side:          "BUY",
		OrderType:     "LIMIT",
		Qty:           decimal.RequireFromString("2"),
		Price:         decimal.RequireFromString("30000"),
		TimeInForce:   "GTC",
		FilledQty:     decimal.Zero,
		Status:        "SUBMITTED",
		TsEvent:       1,
	}
	if err := q.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Acceptance assigns the venue order id and moves the status.
	o.VenueOrderID = "V-9"
	o.Status = "ACCEPTED"
	o.TsEvent = 2
	if err := q.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := q.GetOrder(ctx, "C-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "ACCEPTED" || got.VenueOrderID != "V-9" {
		t.Fatalf("order = %+v", got)
	}
	if !got.Qty.Equal(o.Qty) || !got.Price.Equal(o.Price) {
		t.Fatalf("qty/price = %s/%s", got.Qty, got.Price)
	}

	// A later event without the venue id must not erase it.
	o.VenueOrderID = ""
	o.Status = "PARTIALLY_FILLED"
	o.FilledQty = decimal.RequireFromString("0.5")
	o.TsEvent = 3
	if err := q.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = q.GetOrderByVenueID(ctx, "V-9")
	if err != nil {
		t.Fatalf("get by venue id: %v", err)
	}
	if got.ClientOrderID != "C-1" || !got.FilledQty.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("order = %+v", got)
	}

	if _, err := q.GetOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenOrdersFilter(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	seed := []struct {
		id     string
		status string
	}{
		{"C-open", "ACCEPTED"},
		{"C-partial", "PARTIALLY_FILLED"},
		{"C-pending", "PENDING_CANCEL"},
		{"C-done", "FILLED"},
		{"C-dead", "REJECTED"},
	}
	for i, s := range seed {
		err := q.UpsertOrder(ctx, Order{
			ClientOrderID: s.id,
			VenueID:       "ZB",
			InstrumentID:  "BTC_USDT.ZB",
			Side:          "BUY",
			OrderType:     "LIMIT",
			Qty:           decimal.NewFromInt(1),
			FilledQty:     decimal.Zero,
			Status:        s.status,
			TsEvent:       int64(i),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", s.id, err)
		}
	}

	open, err := q.GetOpenOrders(ctx, "ZB")
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("open orders = %d, want 3", len(open))
	}

	recent, err := q.GetRecentOrders(ctx, "ZB", 2)
	if err != nil {
		t.Fatalf("recent orders: %v", err)
	}
	if len(recent) != 2 || recent[0].ClientOrderID != "C-dead" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestFillsRoundTrip(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	fills := []Fill{
		{
			ClientOrderID:   "C-1",
			VenueID:         "ZB",
			ExecutionID:     "E-1",
			VenuePositionID: "BTC_USDT.ZB-S-1-LONG",
			InstrumentID:    "BTC_USDT.ZB",
			Side:            "BUY",
			LastQty:         decimal.RequireFromString("0.5"),
			LastPx:          decimal.RequireFromString("30000"),
			Liquidity:       "MAKER",
			Commission:      decimal.RequireFromString("30"),
			CommissionCcy:   "USDT",
			TsEvent:         1,
		},
		{
			ClientOrderID:    "C-1",
			VenueID:          "ZB",
			InstrumentID:     "BTC_USDT.ZB",
			Side:             "BUY",
			LastQty:          decimal.RequireFromString("1.5"),
			LastPx:           decimal.RequireFromString("30010"),
			Commission:       decimal.RequireFromString("90.03"),
			CommissionCcy:    "USDT",
			CommissionApprox: true,
			TsEvent:          2,
		},
	}
	for _, f := range fills {
		if err := q.InsertFill(ctx, f); err != nil {
			t.Fatalf("insert fill: %v", err)
		}
	}

	got, err := q.GetFillsByOrder(ctx, "C-1")
	if err != nil {
		t.Fatalf("get fills: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("fills = %d", len(got))
	}
	if got[0].ExecutionID != "E-1" || got[0].CommissionApprox {
		t.Fatalf("fill 0 = %+v", got[0])
	}
	if !got[1].CommissionApprox || !got[1].LastQty.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("fill 1 = %+v", got[1])
	}
}

func TestPositionUpsert(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	p := Position{
		VenueID:      "ZB",
		InstrumentID: "BTC_USDT.ZB",
		Side:         "LONG",
		Qty:          decimal.RequireFromString("0.4"),
		EntryPrice:   decimal.RequireFromString("29000"),
		TsEvent:      1,
	}
	if err := q.UpsertPosition(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Long and short sides live in separate rows.
	short := p
	short.Side = "SHORT"
	short.Qty = decimal.RequireFromString("0.1")
	if err := q.UpsertPosition(ctx, short); err != nil {
		t.Fatalf("insert short: %v", err)
	}

	p.Qty = decimal.Zero
	p.TsEvent = 2
	if err := q.UpsertPosition(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := q.GetPositions(ctx, "ZB")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("positions = %+v", got)
	}
	if !got[0].Qty.IsZero() || got[0].Side != "LONG" {
		t.Fatalf("long = %+v", got[0])
	}
	if !got[1].Qty.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("short = %+v", got[1])
	}
}

func TestAccountSnapshots(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	for i, s := range []AccountSnapshot{
		{EventID: "ev-1", VenueID: "ZB", Balances: `[{"Currency":"USDT"}]`, Equity: decimal.RequireFromString("1000")},
		{EventID: "ev-2", VenueID: "ZB", Balances: `[{"Currency":"USDT"}]`, Equity: decimal.RequireFromString("1010")},
	} {
		s.TsEvent = int64(i)
		if err := q.InsertAccountSnapshot(ctx, s); err != nil {
			t.Fatalf("insert: %v", err)
		}
		// Replaying the same event id must not duplicate.
		if err := q.InsertAccountSnapshot(ctx, s); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}

	got, err := q.GetLatestAccountSnapshot(ctx, "ZB")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.EventID != "ev-2" || !got.Equity.Equal(decimal.RequireFromString("1010")) {
		t.Fatalf("snapshot = %+v", got)
	}

	if _, err := q.GetLatestAccountSnapshot(ctx, "OTHER"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
