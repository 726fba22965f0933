package common

import "github.com/shopspring/decimal"

// UpdateKind is the closed set of canonical order updates a codec may produce.
// The engine never sees raw venue status codes.
type UpdateKind int

const (
	UpdateAccepted UpdateKind = iota
	UpdateFilled
	UpdatePendingCancel
	UpdateCanceled
	UpdateCancelRejected
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateAccepted:
		return "ACCEPTED"
	case UpdateFilled:
		return "FILLED"
	case UpdatePendingCancel:
		return "PENDING_CANCEL"
	case UpdateCanceled:
		return "CANCELED"
	case UpdateCancelRejected:
		return "CANCEL_REJECTED"
	default:
		return "UNKNOWN"
	}
}

// OrderUpdate is a decoded per-order push event. Exactly one of ClientOrderID
// or VenueOrderID may be empty depending on what the venue includes.
type OrderUpdate struct {
	Kind          UpdateKind
	VenueOrderID  string
	ClientOrderID string
	LocalMarketID string
	Side          Side
	OrderType     OrderType

	// Fill fields. Some venues report the cumulative filled total rather than
	// the last trade size; Cumulative signals which one Qty carries.
	Qty         decimal.Decimal
	Cumulative  bool
	Price       decimal.Decimal
	Commission  decimal.Decimal // venue-reported when available, else zero
	Liquidity   LiquiditySide
	ExecutionID string

	Reason  string // for CANCEL_REJECTED
	TsEvent int64  // ns
}

// BalancePush is a decoded incremental or full balance push.
type BalancePush struct {
	Balances []Balance
	Snapshot bool // full replacement vs delta
	TsEvent  int64
}

// PositionPush is a decoded position change push.
type PositionPush struct {
	LocalMarketID string
	Side          PositionSide
	Qty           decimal.Decimal
	TsEvent       int64
}
