package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"venue-gateway/internal/events"
	"venue-gateway/internal/lifecycle"
	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/common"
)

// dry_run_demo walks a few realistic order flows through the lifecycle engine
// against an in-memory venue stub. It does not touch the exchange or database.
//
// Usage:
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) Submit a LIMIT BUY, accept it and fill it in two executions.
//   2) Submit then cancel a second order.
//   3) Print every lifecycle event the engine publishes.

type stubVenue struct{}

func (stubVenue) NewOrder(_ context.Context, intent common.OrderIntent) (common.OrderAck, error) {
	return common.OrderAck{VenueOrderID: "V-" + intent.ClientOrderID, ClientOrderID: intent.ClientOrderID}, nil
}
func (stubVenue) CancelOrder(context.Context, string, string) error { return nil }
func (stubVenue) CancelAllOrders(context.Context, string) error     { return nil }
func (stubVenue) GetOrder(context.Context, string, string) (common.OrderStatusReport, error) {
	return common.OrderStatusReport{}, nil
}
func (stubVenue) GetAccount(context.Context) (common.AccountState, error) {
	return common.AccountState{}, nil
}
func (stubVenue) GetPositions(context.Context) ([]common.PositionReport, error) { return nil, nil }
func (stubVenue) GetTickers(context.Context) (map[string]decimal.Decimal, error) {
	return nil, nil
}

func main() {
	log.Println("=== DRY-RUN demo starting ===")

	provider, err := instruments.NewProvider([]instruments.Instrument{{
		ID:            "BTC_USDT.DEMO",
		Symbol:        "btc_usdt",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		MakerFee:      decimal.NewFromFloat(0.002),
		TakerFee:      decimal.NewFromFloat(0.003),
		SizePrecision: 4,
	}})
	if err != nil {
		log.Fatalf("instruments: %v", err)
	}

	bus := events.NewBus()
	logAllEvents(bus)

	engine := lifecycle.NewEngine(lifecycle.Config{
		VenueID:        "DEMO",
		Market:         common.MarketSpot,
		SupportedTypes: []common.OrderType{common.OrderTypeLimit, common.OrderTypeMarket},
	}, stubVenue{}, bus, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	log.Println("[SCENARIO 1] LIMIT BUY filled in two executions")
	filled := uuid.NewString()
	mustSubmit(ctx, engine, common.OrderIntent{
		ClientOrderID: filled,
		InstrumentID:  "BTC_USDT.DEMO",
		Side:          common.SideBuy,
		Type:          common.OrderTypeLimit,
		Qty:           decimal.NewFromInt(1),
		Price:         decimal.NewFromInt(30000),
	})
	time.Sleep(100 * time.Millisecond)
	pushFill(ctx, engine, filled, "0.4")
	pushFill(ctx, engine, filled, "0.6")

	log.Println("[SCENARIO 2] Submit then cancel")
	canceled := uuid.NewString()
	mustSubmit(ctx, engine, common.OrderIntent{
		ClientOrderID: canceled,
		InstrumentID:  "BTC_USDT.DEMO",
		Side:          common.SideSell,
		Type:          common.OrderTypeLimit,
		Qty:           decimal.NewFromInt(1),
		Price:         decimal.NewFromInt(40000),
	})
	time.Sleep(100 * time.Millisecond)
	if err := engine.Cancel(ctx, canceled); err != nil {
		log.Fatalf("cancel: %v", err)
	}
	_ = engine.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateCanceled,
		ClientOrderID: canceled,
	})

	time.Sleep(200 * time.Millisecond)
	log.Println("=== DRY-RUN demo finished ===")
}

func mustSubmit(ctx context.Context, engine *lifecycle.Engine, intent common.OrderIntent) {
	if err := engine.Submit(ctx, intent); err != nil {
		log.Fatalf("submit: %v", err)
	}
}

func pushFill(ctx context.Context, engine *lifecycle.Engine, clientOrderID, qty string) {
	_ = engine.OnVenueUpdate(ctx, common.OrderUpdate{
		Kind:          common.UpdateFilled,
		ClientOrderID: clientOrderID,
		ExecutionID:   uuid.NewString(),
		Qty:           decimal.RequireFromString(qty),
		Price:         decimal.NewFromInt(30000),
	})
}

func logAllEvents(bus *events.Bus) {
	ch, _ := bus.SubscribeAll(256,
		events.TopicOrderSubmitted,
		events.TopicOrderAccepted,
		events.TopicOrderRejected,
		events.TopicOrderPendingCancel,
		events.TopicOrderCanceled,
		events.TopicOrderCancelRejected,
		events.TopicOrderFilled,
	)
	go func() {
		for msg := range ch {
			log.Printf("[EVENT] %T %+v", msg, msg)
		}
	}()
}
