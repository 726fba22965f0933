package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"venue-gateway/pkg/config"
	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/zb"
)

// This script tests the ZB user data streams end-to-end:
// - connects the spot and/or futures push sockets
// - decodes every frame with the production codecs
// - logs the resulting order, balance and position events
//
// Usage:
//   go run ./scripts/user_stream_check
//
// Make sure ZB_API_KEY / ZB_API_SECRET are set in .env and the connections
// are enabled.

func main() {
	log.Println("=== User Stream check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := instruments.LoadFile(cfg.InstrumentsPath)
	if err != nil {
		log.Fatalf("load instruments error: %v", err)
	}

	zbCfg := zb.Config{
		APIKey:            cfg.ZBAPIKey,
		APISecret:         cfg.ZBAPISecret,
		RequestsPerSecond: float64(cfg.RequestsPerSecond),
	}

	if cfg.EnableZBSpot && cfg.ZBAPIKey != "" && cfg.ZBAPISecret != "" {
		log.Println("[SPOT] starting user stream listener...")
		stream := zb.NewSpotUserStream(zbCfg, provider.Symbols(), logFrames("SPOT", zb.SpotCodec{}))
		if err := stream.Start(ctx); err != nil {
			log.Fatalf("[SPOT] start: %v", err)
		}
		defer stream.Stop()
	} else {
		log.Println("[SPOT] skipped (disabled or missing key/secret)")
	}

	if cfg.EnableZBFutures && cfg.ZBAPIKey != "" && cfg.ZBAPISecret != "" {
		log.Println("[FUTURES] starting user stream listener...")
		stream := zb.NewFuturesUserStream(zbCfg, logFrames("FUTURES", zb.FuturesCodec{}))
		if err := stream.Start(ctx); err != nil {
			log.Fatalf("[FUTURES] start: %v", err)
		}
		defer stream.Stop()
	} else {
		log.Println("[FUTURES] skipped (disabled or missing key/secret)")
	}

	log.Println("User streams started. Place some test orders on ZB to see events.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	select {
	case <-sigCh:
		log.Println("Interrupt received, shutting down user stream check...")
	case <-time.After(10 * time.Minute):
		log.Println("Timeout reached, stopping user stream check...")
	}

	cancel()
	time.Sleep(2 * time.Second)
	log.Println("=== User Stream check finished ===")
}

func logFrames(tag string, codec zb.Codec) zb.Handler {
	return func(raw []byte) {
		decoded, err := codec.Decode(raw)
		if err != nil {
			log.Printf("[%s] decode error: %v (frame %s)", tag, err, raw)
			return
		}
		for _, upd := range decoded.Orders {
			log.Printf("[%s] order update: %+v", tag, upd)
		}
		for _, b := range decoded.Balances {
			log.Printf("[%s] balance push: %+v", tag, b)
		}
		for _, p := range decoded.Positions {
			log.Printf("[%s] position push: %+v", tag, p)
		}
	}
}
