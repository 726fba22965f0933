package gateway

import (
	"context"
	"time"

	"venue-gateway/internal/account"
	"venue-gateway/internal/events"
	"venue-gateway/internal/lifecycle"
	"venue-gateway/internal/monitor"
	"venue-gateway/internal/position"
	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/common"
	"venue-gateway/pkg/venue/zb"
)

// Deps are the shared collaborators every venue connection wires against.
type Deps struct {
	Bus              *events.Bus
	Provider         *instruments.Provider
	Metrics          *monitor.Metrics
	SnapshotInterval time.Duration
}

// NewZBSpot builds the ZB spot connection: REST control channel, spot user
// stream and a lifecycle engine restricted to the order shapes spot accepts.
func NewZBSpot(ctx context.Context, cfg zb.Config, deps Deps) *Venue {
	const venueID = "ZB"

	client := zb.NewSpotClient(cfg)
	snapshotter := account.NewSnapshotter(venueID, client, deps.Bus, deps.Provider, deps.SnapshotInterval)

	engine := lifecycle.NewEngine(lifecycle.Config{
		VenueID:        venueID,
		Market:         common.MarketSpot,
		SupportedTypes: []common.OrderType{common.OrderTypeLimit},
	}, client, deps.Bus, deps.Provider,
		lifecycle.WithMetrics(deps.Metrics),
	)

	codec := zb.SpotCodec{}
	stream := zb.NewSpotUserStream(cfg, deps.Provider.Symbols(),
		streamHandler(ctx, venueID, codec, engine, snapshotter, deps.Metrics))

	return NewVenue(venueID, engine, snapshotter, stream)
}

// NewZBFutures builds the ZB futures connection. Futures accounts are always
// hedge mode on this venue, and successful control calls are mirrored on the
// websocket when enabled.
func NewZBFutures(ctx context.Context, cfg zb.Config, mirrorOrders bool, deps Deps) *Venue {
	const venueID = "ZB-FUTURES"

	client := zb.NewFuturesClient(cfg)
	client.StartTimeSync(ctx)
	snapshotter := account.NewSnapshotter(venueID, client, deps.Bus, deps.Provider, deps.SnapshotInterval)

	codec := zb.FuturesCodec{}
	var engine *lifecycle.Engine
	stream := zb.NewFuturesUserStream(cfg, func(raw []byte) {
		streamHandler(ctx, venueID, codec, engine, snapshotter, deps.Metrics)(raw)
	})

	engine = lifecycle.NewEngine(lifecycle.Config{
		VenueID:      venueID,
		Market:       common.MarketFutures,
		HedgeMode:    true,
		MirrorOrders: mirrorOrders,
		SupportedTypes: []common.OrderType{
			common.OrderTypeMarket,
			common.OrderTypeLimit,
		},
		SupportedTIF: []common.TimeInForce{common.TIFGTC, common.TIFIOC, common.TIFFOK},
	}, client, deps.Bus, deps.Provider,
		lifecycle.WithPositions(position.NewReconciler()),
		lifecycle.WithMirror(stream),
		lifecycle.WithMetrics(deps.Metrics),
	)

	return NewVenue(venueID, engine, snapshotter, stream)
}
