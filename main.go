package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"venue-gateway/internal/api"
	"venue-gateway/internal/events"
	"venue-gateway/internal/gateway"
	"venue-gateway/internal/monitor"
	"venue-gateway/internal/state"
	"venue-gateway/pkg/config"
	"venue-gateway/pkg/db"
	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/zb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	queries := database.Queries()

	provider, err := instruments.LoadFile(cfg.InstrumentsPath)
	if err != nil {
		log.Fatalf("load instruments: %v", err)
	}
	log.Printf("main: loaded %d instruments from %s", len(provider.All()), cfg.InstrumentsPath)

	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	recorder := state.NewRecorder(queries, bus)
	recorder.UseMetrics(metrics)
	recorder.Start(ctx)
	defer recorder.Stop()

	zbCfg := zb.Config{
		APIKey:            cfg.ZBAPIKey,
		APISecret:         cfg.ZBAPISecret,
		RequestsPerSecond: float64(cfg.RequestsPerSecond),
	}
	deps := gateway.Deps{
		Bus:              bus,
		Provider:         provider,
		Metrics:          metrics,
		SnapshotInterval: cfg.SnapshotInterval,
	}

	registry := gateway.NewRegistry()
	if cfg.EnableZBSpot {
		registry.Register(gateway.NewZBSpot(ctx, zbCfg, deps))
	}
	if cfg.EnableZBFutures {
		registry.Register(gateway.NewZBFutures(ctx, zbCfg, cfg.MirrorOrders, deps))
	}
	if len(registry.All()) == 0 {
		log.Fatal("no venue connections enabled; set ENABLE_ZB_SPOT or ENABLE_ZB_FUTURES")
	}

	// Orders left open by an earlier run go back into their engines before
	// the loops start, so push events for them resolve.
	for _, v := range registry.All() {
		restored, err := recorder.RestorableOrders(ctx, v.ID)
		if err != nil {
			log.Fatalf("load open orders for %s: %v", v.ID, err)
		}
		v.Engine.Restore(restored)
	}

	if err := registry.StartAll(ctx); err != nil {
		log.Fatalf("start venues: %v", err)
	}
	defer registry.StopAll()

	server := api.NewServer(registry, queries, bus, metrics, cfg.JWTSecret)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		log.Printf("main: api listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("main: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: api shutdown: %v", err)
	}
}
