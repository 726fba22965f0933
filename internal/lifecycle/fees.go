package lifecycle

import (
	"github.com/shopspring/decimal"

	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/common"
)

// FeeModel computes the commission for a fill when the venue does not report
// one. Kept behind an interface so a venue-authoritative source can replace
// the approximation without touching the state machine.
type FeeModel interface {
	Commission(inst instruments.Instrument, ordType common.OrderType, lastQty, lastPx decimal.Decimal) (decimal.Decimal, common.LiquiditySide)
}

// TableFeeModel approximates commission as price * qty * fee rate from the
// instrument's fee table, classifying market orders as taker and everything
// else as maker. This is an approximation, not a venue-reported value;
// OrderFilled events produced from it carry CommissionApprox.
type TableFeeModel struct{}

func (TableFeeModel) Commission(inst instruments.Instrument, ordType common.OrderType, lastQty, lastPx decimal.Decimal) (decimal.Decimal, common.LiquiditySide) {
	notional := lastPx.Mul(lastQty)
	if ordType == common.OrderTypeMarket {
		return notional.Mul(inst.TakerFee), common.LiquidityTaker
	}
	return notional.Mul(inst.MakerFee), common.LiquidityMaker
}
