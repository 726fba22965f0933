package zb

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"venue-gateway/pkg/venue/common"
)

func futuresOrderChangeFrame(showStatus int, tradeAmount string) []byte {
	return []byte(fmt.Sprintf(
		`{"channel":"Trade.orderChange","data":{"id":6860,"orderCode":"C-1","marketId":100,
		"showStatus":%d,"tradeAmount":"%s","avgPrice":"30100","action":1,"type":1,
		"modifyTime":1700000000500}}`, showStatus, tradeAmount))
}

func TestFuturesDecodeOrderChange(t *testing.T) {
	cases := []struct {
		name       string
		showStatus int
		wantKind   common.UpdateKind
	}{
		{"accepted", futStatusAccepted, common.UpdateAccepted},
		{"partial", futStatusPartial, common.UpdateFilled},
		{"filled", futStatusFilled, common.UpdateFilled},
		{"canceling", futStatusCanceling, common.UpdatePendingCancel},
		{"canceled", futStatusCanceled, common.UpdateCanceled},
		{"partial then canceled", futStatusPartialCanceled, common.UpdateCanceled},
		{"cancel failed", futStatusCancelFailed, common.UpdateCancelRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec, err := FuturesCodec{}.Decode(futuresOrderChangeFrame(tc.showStatus, "0.5"))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(dec.Orders) != 1 {
				t.Fatalf("orders = %+v", dec.Orders)
			}
			upd := dec.Orders[0]
			if upd.Kind != tc.wantKind {
				t.Fatalf("kind = %s, want %s", upd.Kind, tc.wantKind)
			}
			if upd.VenueOrderID != "6860" || upd.ClientOrderID != "C-1" {
				t.Fatalf("ids = %q / %q", upd.VenueOrderID, upd.ClientOrderID)
			}
			if upd.LocalMarketID != "100" {
				t.Fatalf("market = %q", upd.LocalMarketID)
			}
		})
	}
}

func TestFuturesDecodeFillIsCumulative(t *testing.T) {
	dec, err := FuturesCodec{}.Decode(futuresOrderChangeFrame(futStatusPartial, "0.75"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	upd := dec.Orders[0]
	if !upd.Cumulative {
		t.Fatal("futures tradeAmount is cumulative")
	}
	if !upd.Qty.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("qty = %s", upd.Qty)
	}
	if !upd.Price.Equal(decimal.RequireFromString("30100")) {
		t.Fatalf("price = %s", upd.Price)
	}
	// No native trade id on this venue: modifyTime stands in.
	if upd.ExecutionID != "1700000000500" {
		t.Fatalf("execution id = %q", upd.ExecutionID)
	}
	if !upd.Commission.IsZero() || upd.Liquidity != "" {
		t.Fatalf("commission must be unreported, got %s / %s", upd.Commission, upd.Liquidity)
	}
	if upd.Side != common.SideBuy || upd.OrderType != common.OrderTypeLimit {
		t.Fatalf("side=%s type=%s", upd.Side, upd.OrderType)
	}
}

func TestFuturesDecodeOrderAck(t *testing.T) {
	raw := []byte(`{"channel":"Trade.order","data":{"orderId":"6861","orderCode":"C-2"}}`)
	dec, err := FuturesCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	upd := dec.Orders[0]
	if upd.Kind != common.UpdateAccepted || upd.VenueOrderID != "6861" || upd.ClientOrderID != "C-2" {
		t.Fatalf("ack = %+v", upd)
	}
}

func TestFuturesDecodeCancelAck(t *testing.T) {
	raw := []byte(`{"channel":"Trade.cancelOrder","data":"6861"}`)
	dec, err := FuturesCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	upd := dec.Orders[0]
	if upd.Kind != common.UpdateCanceled || upd.VenueOrderID != "6861" {
		t.Fatalf("cancel ack = %+v", upd)
	}
}

func TestFuturesDecodeAssetChange(t *testing.T) {
	raw := []byte(`{"channel":"Fund.assetChange","data":
		{"currencyName":"usdt","amount":"800","freezeAmount":"200"}}`)
	dec, err := FuturesCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	push := dec.Balances[0]
	if push.Snapshot {
		t.Fatal("asset change is incremental")
	}
	b := push.Balances[0]
	if b.Currency != "usdt" || !b.Total.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("balance = %+v", b)
	}
}

func TestFuturesDecodeBalanceSnapshot(t *testing.T) {
	raw := []byte(`{"channel":"Fund.balance","data":[
		{"currencyName":"usdt","amount":"800","freezeAmount":"200"},
		{"currencyName":"qc","amount":"10","freezeAmount":"0"}]}`)
	dec, err := FuturesCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	push := dec.Balances[0]
	if !push.Snapshot || len(push.Balances) != 2 {
		t.Fatalf("push = %+v", push)
	}
}

func TestFuturesDecodePositionChange(t *testing.T) {
	raw := []byte(`{"channel":"Positions.change","data":
		{"marketName":"BTC_USDT","side":1,"amount":"0.4","modifyTime":1700000000000}}`)
	dec, err := FuturesCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := dec.Positions[0]
	if p.LocalMarketID != "BTC_USDT" || p.Side != common.PositionLong {
		t.Fatalf("position = %+v", p)
	}
	if !p.Qty.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("qty = %s", p.Qty)
	}

	raw = []byte(`{"channel":"Positions.change","data":
		{"marketName":"BTC_USDT","side":0,"amount":"0.4","modifyTime":1}}`)
	dec, err = FuturesCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Positions[0].Side != common.PositionShort {
		t.Fatalf("side = %s", dec.Positions[0].Side)
	}
}

func TestFuturesDecodeControlAndErrorFrames(t *testing.T) {
	dec, err := FuturesCodec{}.Decode([]byte(`{"action":"login","result":true}`))
	if err != nil {
		t.Fatalf("login ack: %v", err)
	}
	if len(dec.Orders) != 0 {
		t.Fatalf("orders = %+v", dec.Orders)
	}

	if _, err := (FuturesCodec{}).Decode([]byte(
		`{"channel":"Trade.order","errorCode":12011,"errorMsg":"signature error"}`)); err == nil {
		t.Fatal("expected error for errorCode frame")
	}

	if _, err := (FuturesCodec{}).Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestFuturesOrderTypeMapping(t *testing.T) {
	cases := []struct {
		action int
		want   common.OrderType
	}{
		{1, common.OrderTypeLimit},
		{3, common.OrderTypeLimit},  // IOC
		{4, common.OrderTypeLimit},  // post only
		{31, common.OrderTypeLimit}, // FOK
		{11, common.OrderTypeMarket},
		{12, common.OrderTypeMarket},
	}
	for _, tc := range cases {
		if got := futuresOrderType(tc.action); got != tc.want {
			t.Errorf("action %d: %s, want %s", tc.action, got, tc.want)
		}
	}
}
