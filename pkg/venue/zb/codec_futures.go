package zb

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"venue-gateway/pkg/venue/common"
)

// ZB futures user-data protocol: JSON frames with a "channel" field, or
// channel-less control frames carrying an "action" ("login"/"pong"). Order
// state travels on Trade.orderChange with the showStatus enum:
//
//	1 accepted, 2 partially filled, 3 filled, 4 canceling, 5 canceled,
//	6 cancel failed, 7 partially filled and canceled
//
// tradeAmount is the cumulative filled total, not the last trade size, and
// the venue assigns no trade id; modifyTime stands in for the execution id.
const (
	futChanOrderChange = "Trade.orderChange"
	futChanOrderAck    = "Trade.order"
	futChanCancelAck   = "Trade.cancelOrder"
	futChanCancelAll   = "Trade.cancelAllOrders"
	futChanAssetChange = "Fund.assetChange"
	futChanBalance     = "Fund.balance"
	futChanPositions   = "Positions.change"

	futStatusAccepted        = 1
	futStatusPartial         = 2
	futStatusFilled          = 3
	futStatusCanceling       = 4
	futStatusCanceled        = 5
	futStatusCancelFailed    = 6
	futStatusPartialCanceled = 7
)

// FuturesCodec decodes ZB futures user-data frames.
type FuturesCodec struct{}

func (FuturesCodec) Decode(raw []byte) (Decoded, error) {
	var msg struct {
		Channel   string          `json:"channel"`
		ErrorCode *int            `json:"errorCode"`
		ErrorMsg  string          `json:"errorMsg"`
		Action    string          `json:"action"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Decoded{}, fmt.Errorf("futures frame: %w", err)
	}
	if msg.ErrorCode != nil {
		return Decoded{}, fmt.Errorf("futures subscribe failed: channel=%s code=%d msg=%s",
			msg.Channel, *msg.ErrorCode, msg.ErrorMsg)
	}
	if msg.Channel == "" {
		// login ack / pong
		return Decoded{}, nil
	}

	switch msg.Channel {
	case futChanOrderChange:
		upd, err := decodeFuturesOrderChange(msg.Data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Orders: []common.OrderUpdate{upd}}, nil
	case futChanOrderAck:
		upd, err := decodeFuturesOrderAck(msg.Data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Orders: []common.OrderUpdate{upd}}, nil
	case futChanCancelAck:
		var venueOrderID string
		if err := json.Unmarshal(msg.Data, &venueOrderID); err != nil {
			return Decoded{}, fmt.Errorf("futures cancel ack: %w", err)
		}
		return Decoded{Orders: []common.OrderUpdate{{
			Kind:         common.UpdateCanceled,
			VenueOrderID: venueOrderID,
		}}}, nil
	case futChanCancelAll:
		// Per-order cancels arrive individually on Trade.orderChange.
		return Decoded{}, nil
	case futChanAssetChange:
		push, err := decodeFuturesAsset(msg.Data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Balances: []common.BalancePush{push}}, nil
	case futChanBalance:
		push, err := decodeFuturesBalanceSnapshot(msg.Data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Balances: []common.BalancePush{push}}, nil
	case futChanPositions:
		push, err := decodeFuturesPosition(msg.Data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Positions: []common.PositionPush{push}}, nil
	default:
		return Decoded{}, nil
	}
}

type futuresOrder struct {
	ID          json.Number `json:"id"`
	OrderCode   string      `json:"orderCode"`
	MarketID    json.Number `json:"marketId"`
	ShowStatus  int         `json:"showStatus"`
	TradeAmount string      `json:"tradeAmount"`
	AvgPrice    string      `json:"avgPrice"`
	Action      int         `json:"action"`
	Type        int         `json:"type"`
	ModifyTime  json.Number `json:"modifyTime"`
}

func decodeFuturesOrderChange(data json.RawMessage) (common.OrderUpdate, error) {
	var o futuresOrder
	if err := json.Unmarshal(data, &o); err != nil {
		return common.OrderUpdate{}, fmt.Errorf("futures order change: %w", err)
	}

	tsMillis, err := o.ModifyTime.Int64()
	if err != nil {
		return common.OrderUpdate{}, fmt.Errorf("futures order change modifyTime: %w", err)
	}

	upd := common.OrderUpdate{
		VenueOrderID:  o.ID.String(),
		ClientOrderID: o.OrderCode,
		LocalMarketID: o.MarketID.String(),
		Side:          futuresOrderSide(o.Type),
		OrderType:     futuresOrderType(o.Action),
		TsEvent:       millisToNanos(tsMillis),
	}

	switch o.ShowStatus {
	case futStatusAccepted:
		upd.Kind = common.UpdateAccepted
	case futStatusPartial, futStatusFilled:
		cum, err := decimal.NewFromString(o.TradeAmount)
		if err != nil {
			return common.OrderUpdate{}, fmt.Errorf("futures order change tradeAmount: %w", err)
		}
		price, err := decimal.NewFromString(o.AvgPrice)
		if err != nil {
			return common.OrderUpdate{}, fmt.Errorf("futures order change avgPrice: %w", err)
		}
		upd.Kind = common.UpdateFilled
		upd.Qty = cum
		upd.Cumulative = true
		upd.Price = price
		// No native trade id; modifyTime is the best available stand-in. The
		// engine dedups on (venue order id, cumulative) rather than this id.
		upd.ExecutionID = o.ModifyTime.String()
	case futStatusCanceling:
		upd.Kind = common.UpdatePendingCancel
	case futStatusCanceled, futStatusPartialCanceled:
		upd.Kind = common.UpdateCanceled
	case futStatusCancelFailed:
		upd.Kind = common.UpdateCancelRejected
		upd.Reason = "venue reported cancel failed"
	default:
		return common.OrderUpdate{}, fmt.Errorf("futures order change unknown showStatus %d", o.ShowStatus)
	}

	return upd, nil
}

func decodeFuturesOrderAck(data json.RawMessage) (common.OrderUpdate, error) {
	var ack struct {
		OrderID   json.Number `json:"orderId"`
		OrderCode string      `json:"orderCode"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return common.OrderUpdate{}, fmt.Errorf("futures order ack: %w", err)
	}
	return common.OrderUpdate{
		Kind:          common.UpdateAccepted,
		VenueOrderID:  ack.OrderID.String(),
		ClientOrderID: ack.OrderCode,
	}, nil
}

type futuresAsset struct {
	CurrencyName string      `json:"currencyName"`
	Amount       json.Number `json:"amount"`
	FreezeAmount json.Number `json:"freezeAmount"`
}

func (a futuresAsset) balance() (common.Balance, error) {
	free, err := decimal.NewFromString(a.Amount.String())
	if err != nil {
		return common.Balance{}, fmt.Errorf("futures asset %s amount: %w", a.CurrencyName, err)
	}
	locked, err := decimal.NewFromString(a.FreezeAmount.String())
	if err != nil {
		return common.Balance{}, fmt.Errorf("futures asset %s freezeAmount: %w", a.CurrencyName, err)
	}
	return common.Balance{
		Currency: a.CurrencyName,
		Free:     free,
		Locked:   locked,
		Total:    free.Add(locked),
	}, nil
}

func decodeFuturesAsset(data json.RawMessage) (common.BalancePush, error) {
	var a futuresAsset
	if err := json.Unmarshal(data, &a); err != nil {
		return common.BalancePush{}, fmt.Errorf("futures asset change: %w", err)
	}
	b, err := a.balance()
	if err != nil {
		return common.BalancePush{}, err
	}
	return common.BalancePush{Balances: []common.Balance{b}}, nil
}

func decodeFuturesBalanceSnapshot(data json.RawMessage) (common.BalancePush, error) {
	var assets []futuresAsset
	if err := json.Unmarshal(data, &assets); err != nil {
		return common.BalancePush{}, fmt.Errorf("futures balance snapshot: %w", err)
	}
	balances := make([]common.Balance, 0, len(assets))
	for _, a := range assets {
		b, err := a.balance()
		if err != nil {
			return common.BalancePush{}, err
		}
		balances = append(balances, b)
	}
	return common.BalancePush{Balances: balances, Snapshot: true}, nil
}

func decodeFuturesPosition(data json.RawMessage) (common.PositionPush, error) {
	var p struct {
		MarketName string      `json:"marketName"`
		Side       int         `json:"side"`
		Amount     json.Number `json:"amount"`
		ModifyTime json.Number `json:"modifyTime"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return common.PositionPush{}, fmt.Errorf("futures position change: %w", err)
	}
	qty, err := decimal.NewFromString(p.Amount.String())
	if err != nil {
		return common.PositionPush{}, fmt.Errorf("futures position amount: %w", err)
	}
	tsMillis, _ := p.ModifyTime.Int64()

	side := common.PositionShort
	if p.Side == 1 {
		side = common.PositionLong
	}
	return common.PositionPush{
		LocalMarketID: p.MarketName,
		Side:          side,
		Qty:           qty,
		TsEvent:       millisToNanos(tsMillis),
	}, nil
}

// futuresOrderSide maps the futures order type enum: 1 open long, 2 open
// short, 3 close long, 4 close short.
func futuresOrderSide(v int) common.Side {
	if v == 1 || v == 4 {
		return common.SideBuy
	}
	return common.SideSell
}

// futuresOrderType maps the futures action enum: 11 and 12 cross the book
// immediately, everything else (limit, post only, IOC, FOK) is price-bound.
func futuresOrderType(action int) common.OrderType {
	if action == 11 || action == 12 {
		return common.OrderTypeMarket
	}
	return common.OrderTypeLimit
}
