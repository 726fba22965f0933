package db

import (
	"github.com/shopspring/decimal"
)

// Order is the stored view of one order's lifecycle.
type Order struct {
	ClientOrderID string
	VenueID       string
	VenueOrderID  string
	StrategyID    string
	InstrumentID  string
	Side          string
	OrderType     string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   string
	FilledQty     decimal.Decimal
	Status        string
	Reason        string
	TsEvent       int64
}

// Fill is one execution on an order.
type Fill struct {
	ID               int64
	ClientOrderID    string
	VenueID          string
	ExecutionID      string
	VenuePositionID  string
	InstrumentID     string
	Side             string
	LastQty          decimal.Decimal
	LastPx           decimal.Decimal
	Liquidity        string
	Commission       decimal.Decimal
	CommissionCcy    string
	CommissionApprox bool
	TsEvent          int64
}

// Position is the last reported quantity on one side of an instrument.
type Position struct {
	VenueID      string
	InstrumentID string
	Side         string
	Qty          decimal.Decimal
	EntryPrice   decimal.Decimal
	TsEvent      int64
}

// AccountSnapshot is one stored full account report. Balances carry the raw
// JSON document as published.
type AccountSnapshot struct {
	EventID  string
	VenueID  string
	Balances string
	Equity   decimal.Decimal
	TsEvent  int64
}
