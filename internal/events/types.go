// Package events defines the canonical lifecycle events the gateway emits and
// the in-process bus that carries them to the store and API layers.
package events

import (
	"github.com/shopspring/decimal"

	"venue-gateway/pkg/venue/common"
)

// Topic enumerates the bus topics.
type Topic string

const (
	TopicOrderSubmitted      Topic = "order.submitted"
	TopicOrderAccepted       Topic = "order.accepted"
	TopicOrderRejected       Topic = "order.rejected"
	TopicOrderPendingCancel  Topic = "order.pending_cancel"
	TopicOrderCanceled       Topic = "order.canceled"
	TopicOrderCancelRejected Topic = "order.cancel_rejected"
	TopicOrderFilled         Topic = "order.filled"
	TopicAccountSnapshot     Topic = "account.snapshot"
	TopicAccountDelta        Topic = "account.delta"
)

// OrderMeta is carried by every order lifecycle event.
type OrderMeta struct {
	VenueID       string
	StrategyID    string
	InstrumentID  string
	ClientOrderID string
	VenueOrderID  string // empty until the order is accepted
	TsEvent       int64  // ns
}

type OrderSubmitted struct {
	OrderMeta
	Side        common.Side
	OrderType   common.OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal
	TimeInForce common.TimeInForce
}

type OrderAccepted struct {
	OrderMeta
}

type OrderRejected struct {
	OrderMeta
	Reason string
}

type OrderPendingCancel struct {
	OrderMeta
}

type OrderCanceled struct {
	OrderMeta
}

type OrderCancelRejected struct {
	OrderMeta
	Reason string
}

type OrderFilled struct {
	OrderMeta
	ExecutionID     string
	VenuePositionID string
	Side            common.Side
	LastQty         decimal.Decimal
	LastPx          decimal.Decimal
	Liquidity       common.LiquiditySide
	Commission      decimal.Decimal
	CommissionCcy   string
	// CommissionApprox marks a commission computed locally from fee tables
	// rather than reported by the venue.
	CommissionApprox bool
}

// AccountPosition is the position slice of an account event.
type AccountPosition struct {
	InstrumentID string
	Side         common.PositionSide
	Qty          decimal.Decimal
	EntryPrice   decimal.Decimal
}

// AccountSnapshot is a full reported account state; it replaces any prior
// state, never merges into it.
type AccountSnapshot struct {
	VenueID   string
	EventID   string
	Balances  []common.Balance
	Positions []AccountPosition
	Equity    decimal.Decimal
	HasEquity bool
	TsEvent   int64
}

// AccountDelta is an incremental balance/position change between snapshots.
type AccountDelta struct {
	VenueID   string
	EventID   string
	Balances  []common.Balance
	Positions []AccountPosition
	TsEvent   int64
}
