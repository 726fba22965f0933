package zb

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"venue-gateway/pkg/venue/common"
)

// ZB spot user-data protocol: each frame is either the literal text "pong" or
// a JSON object with a "channel" field. Order updates arrive as a positional
// record array on channel "push_user_incr_record":
//
//	[0]=venue order id, [3]=completed amount, [5]=entrust type,
//	[7]=status, [8]=fees, [13]=trade id, [14]=price, [15]=quantity,
//	[16]=timestamp ms
//
// Status codes: 0 pending, 1 canceled, 2 filled, 3 partially filled.
const (
	spotChanOrderRecord = "push_user_incr_record"
	spotChanAsset       = "push_user_asset"

	spotStatusPending  = 0
	spotStatusCanceled = 1
	spotStatusFilled   = 2
	spotStatusPartial  = 3

	spotSubscribeOK = 1000
)

// SpotCodec decodes ZB spot user-data frames.
type SpotCodec struct{}

func (SpotCodec) Decode(raw []byte) (Decoded, error) {
	if string(raw) == "pong" {
		return Decoded{}, nil
	}

	var msg struct {
		Channel string          `json:"channel"`
		Code    *int            `json:"code"`
		Market  string          `json:"market"`
		Record  []json.Number   `json:"record"`
		Coins   json.RawMessage `json:"coins"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Decoded{}, fmt.Errorf("spot frame: %w", err)
	}
	if msg.Code != nil && *msg.Code != spotSubscribeOK {
		return Decoded{}, fmt.Errorf("spot subscribe failed: code=%d channel=%s", *msg.Code, msg.Channel)
	}

	switch msg.Channel {
	case spotChanOrderRecord:
		upd, err := decodeSpotRecord(msg.Market, msg.Record)
		if err != nil {
			return Decoded{}, err
		}
		if upd == nil {
			return Decoded{}, nil
		}
		return Decoded{Orders: []common.OrderUpdate{*upd}}, nil
	case spotChanAsset:
		push, err := decodeSpotAssets(msg.Coins)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Balances: []common.BalancePush{push}}, nil
	case "":
		return Decoded{}, fmt.Errorf("spot frame without channel: %s", truncate(raw))
	default:
		// Subscription acks and channels the gateway does not consume.
		return Decoded{}, nil
	}
}

func decodeSpotRecord(market string, rec []json.Number) (*common.OrderUpdate, error) {
	if len(rec) < 17 {
		return nil, fmt.Errorf("spot order record too short: %d fields", len(rec))
	}

	status, err := rec[7].Int64()
	if err != nil {
		return nil, fmt.Errorf("spot order record status: %w", err)
	}
	tsMillis, err := rec[16].Int64()
	if err != nil {
		return nil, fmt.Errorf("spot order record timestamp: %w", err)
	}
	entrustType, err := rec[5].Int64()
	if err != nil {
		return nil, fmt.Errorf("spot order record entrust type: %w", err)
	}
	completed, err := decimal.NewFromString(rec[3].String())
	if err != nil {
		return nil, fmt.Errorf("spot order record completed amount: %w", err)
	}

	upd := common.OrderUpdate{
		VenueOrderID:  rec[0].String(),
		LocalMarketID: trimSpotMarket(market),
		Side:          spotOrderSide(entrustType),
		OrderType:     common.OrderTypeLimit, // spot accepts only LIMIT
		TsEvent:       millisToNanos(tsMillis),
	}

	switch {
	case status == spotStatusCanceled:
		upd.Kind = common.UpdateCanceled
	case status == spotStatusFilled || (status == spotStatusPartial && completed.IsPositive()):
		price, err := decimal.NewFromString(rec[14].String())
		if err != nil {
			return nil, fmt.Errorf("spot order record price: %w", err)
		}
		qty, err := decimal.NewFromString(rec[15].String())
		if err != nil {
			return nil, fmt.Errorf("spot order record qty: %w", err)
		}
		fees, err := decimal.NewFromString(rec[8].String())
		if err != nil {
			return nil, fmt.Errorf("spot order record fees: %w", err)
		}
		upd.Kind = common.UpdateFilled
		upd.Qty = qty
		upd.Cumulative = false // spot reports the last trade size directly
		upd.Price = price
		upd.Commission = fees
		upd.Liquidity = spotLiquidity(entrustType)
		upd.ExecutionID = rec[13].String()
	case status == spotStatusPending || status == spotStatusPartial:
		upd.Kind = common.UpdateAccepted
	default:
		return nil, fmt.Errorf("spot order record unknown status %d", status)
	}

	return &upd, nil
}

func decodeSpotAssets(coins json.RawMessage) (common.BalancePush, error) {
	var entries []struct {
		Key       string `json:"key"`
		Available string `json:"available"`
		Freeze    string `json:"freez"`
	}
	if err := json.Unmarshal(coins, &entries); err != nil {
		return common.BalancePush{}, fmt.Errorf("spot asset push: %w", err)
	}

	balances := make([]common.Balance, 0, len(entries))
	for _, e := range entries {
		free, err := decimal.NewFromString(e.Available)
		if err != nil {
			return common.BalancePush{}, fmt.Errorf("spot asset %s available: %w", e.Key, err)
		}
		locked, err := decimal.NewFromString(e.Freeze)
		if err != nil {
			return common.BalancePush{}, fmt.Errorf("spot asset %s freez: %w", e.Key, err)
		}
		balances = append(balances, common.Balance{
			Currency: e.Key,
			Free:     free,
			Locked:   locked,
			Total:    free.Add(locked),
		})
	}
	return common.BalancePush{Balances: balances, Snapshot: true}, nil
}

// spotOrderSide maps the spot entrust type enum: odd values are buys.
func spotOrderSide(v int64) common.Side {
	if v%2 == 1 {
		return common.SideBuy
	}
	return common.SideSell
}

// spotLiquidity maps the spot entrust type enum: 0/1 rest on the book.
func spotLiquidity(v int64) common.LiquiditySide {
	if v == 0 || v == 1 {
		return common.LiquidityMaker
	}
	return common.LiquidityTaker
}

// trimSpotMarket strips the "default" suffix the spot stream appends to the
// subscribed market name.
func trimSpotMarket(market string) string {
	const suffix = "default"
	if len(market) > len(suffix) && market[len(market)-len(suffix):] == suffix {
		return market[:len(market)-len(suffix)]
	}
	return market
}

func truncate(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
