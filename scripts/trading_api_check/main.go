package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"venue-gateway/pkg/config"
	"venue-gateway/pkg/venue/common"
	"venue-gateway/pkg/venue/zb"
)

// trading_api_check exercises the signed ZB control channels end-to-end:
// account queries, ticker queries, open position queries and (optionally) a
// tiny real order that is canceled right away.
//
// Usage:
//   go run ./scripts/trading_api_check
//
// Environment (same as the main binary):
//   ZB_API_KEY / ZB_API_SECRET
//
// Control test behaviour:
//   TRADING_CHECK_PLACE_ORDERS  (default "false")
//        - false: query-only checks, no order is sent
//        - true : submits a far-from-market LIMIT order and cancels it
//
//   CHECK_SPOT_SYMBOL    (default "btc_usdt")
//   CHECK_FUTURES_SYMBOL (default "BTC_USDT")
//
// Keep TRADING_CHECK_PLACE_ORDERS=false until the connection checks pass.

func main() {
	log.Println("=== Trading API check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.ZBAPIKey == "" || cfg.ZBAPISecret == "" {
		log.Fatal("ZB_API_KEY/ZB_API_SECRET empty, nothing to check")
	}

	placeOrders := getenv("TRADING_CHECK_PLACE_ORDERS", "false") == "true"
	spotSymbol := getenv("CHECK_SPOT_SYMBOL", "btc_usdt")
	futuresSymbol := getenv("CHECK_FUTURES_SYMBOL", "BTC_USDT")

	log.Printf("Config: placeOrders=%v spotSymbol=%s futuresSymbol=%s", placeOrders, spotSymbol, futuresSymbol)

	zbCfg := zb.Config{
		APIKey:            cfg.ZBAPIKey,
		APISecret:         cfg.ZBAPISecret,
		RequestsPerSecond: float64(cfg.RequestsPerSecond),
	}

	if cfg.EnableZBSpot {
		checkChannel("SPOT", zb.NewSpotClient(zbCfg), spotSymbol, placeOrders)
	} else {
		log.Println("[SPOT] disabled, skipping")
	}

	if cfg.EnableZBFutures {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		client := zb.NewFuturesClient(zbCfg)
		client.StartTimeSync(ctx)
		checkChannel("FUTURES", client, futuresSymbol, placeOrders)
	} else {
		log.Println("[FUTURES] disabled, skipping")
	}

	log.Println("=== Trading API check finished ===")
}

func checkChannel(tag string, c common.ControlChannel, symbol string, placeOrders bool) {
	log.Printf("---- [%s] Checking control channel ----", tag)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	account, err := c.GetAccount(ctx)
	if err != nil {
		log.Printf("[%s] GetAccount error: %v", tag, err)
	} else {
		log.Printf("[%s] balances=%d hasEquity=%v equity=%s", tag, len(account.Balances), account.HasEquity, account.Equity)
	}

	tickers, err := c.GetTickers(ctx)
	if err != nil {
		log.Printf("[%s] GetTickers error: %v", tag, err)
	} else {
		log.Printf("[%s] tickers=%d", tag, len(tickers))
	}

	positions, err := c.GetPositions(ctx)
	if err != nil {
		log.Printf("[%s] GetPositions error: %v", tag, err)
	} else {
		log.Printf("[%s] open positions=%d", tag, len(positions))
	}

	if !placeOrders {
		log.Printf("[%s] order placement skipped (TRADING_CHECK_PLACE_ORDERS=false)", tag)
		return
	}

	clientOrderID := uuid.NewString()
	intent := common.OrderIntent{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          common.SideBuy,
		Type:          common.OrderTypeLimit,
		// Far below market so the order rests instead of filling.
		Price: decimal.NewFromInt(1000),
		Qty:   decimal.RequireFromString("0.001"),
	}
	ack, err := c.NewOrder(ctx, intent)
	if err != nil {
		log.Printf("[%s] NewOrder error: %v", tag, err)
		return
	}
	log.Printf("[%s] order placed: venue id %s", tag, ack.VenueOrderID)

	if err := c.CancelOrder(ctx, symbol, clientOrderID); err != nil {
		log.Printf("[%s] CancelOrder error: %v", tag, err)
		return
	}
	log.Printf("[%s] order canceled", tag)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
