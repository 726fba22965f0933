package common

import "github.com/shopspring/decimal"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide is the intended exposure of a hedge-mode position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionFlat  PositionSide = "FLAT"
)

// OrderType denotes the order types the gateway understands. Which of these a
// venue actually accepts is venue-specific and validated before submission.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// LiquiditySide classifies a fill as maker or taker; it decides the fee rate.
type LiquiditySide string

const (
	LiquidityMaker LiquiditySide = "MAKER"
	LiquidityTaker LiquiditySide = "TAKER"
)

// MarketType distinguishes spot vs futures venue connections.
type MarketType string

const (
	MarketSpot    MarketType = "SPOT"
	MarketFutures MarketType = "FUTURES"
)

// OrderIntent captures an order to be sent to a venue. ClientOrderID is
// assigned by the caller before any channel call and never changes.
type OrderIntent struct {
	ClientOrderID string
	StrategyID    string
	InstrumentID  string
	Symbol        string // venue-local symbol, e.g. "btc_usdt"
	Side          Side
	Type          OrderType
	Qty           decimal.Decimal
	Price         decimal.Decimal // required for LIMIT
	TimeInForce   TimeInForce
	PostOnly      bool
	PositionID    string       // explicit target position, optional
	PositionSide  PositionSide // intended exposure under hedge mode
	Market        MarketType
}

// OrderAck is the venue acknowledgement of a new-order call.
type OrderAck struct {
	VenueOrderID  string
	ClientOrderID string
}

// OrderStatusReport is the control-channel view of a single order, used by the
// verification fallback.
type OrderStatusReport struct {
	VenueOrderID  string
	ClientOrderID string
	FilledQty     decimal.Decimal
	Status        string // raw venue status, informational only
}

// Balance is a per-currency balance entry.
type Balance struct {
	Currency string
	Total    decimal.Decimal
	Free     decimal.Decimal
	Locked   decimal.Decimal
}

// PositionReport is the control-channel view of an open venue position.
type PositionReport struct {
	LocalMarketID string
	Side          PositionSide
	Qty           decimal.Decimal
	EntryPrice    decimal.Decimal
}

// AccountState is a full balance (and, for futures, equity) report.
type AccountState struct {
	Balances  []Balance
	Equity    decimal.Decimal // venue-reported; zero when the venue has none
	HasEquity bool
}
