package zb

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"venue-gateway/pkg/venue/common"
)

const (
	futuresBaseURL = "https://futures.zb.com/Server/api/v2"

	futuresCodeOK = 10000
)

// FuturesClient is the ZB futures control channel. Signed requests carry
// ZB-APIKEY/ZB-TIMESTAMP/ZB-SIGN headers with an HMAC-SHA256 signature over
// timestamp+method+path+body. The futures account always runs in hedge mode.
type FuturesClient struct {
	cfg      Config
	core     restCore
	timeSync *common.TimeSync
}

func NewFuturesClient(cfg Config) *FuturesClient {
	cfg = cfg.withDefaults()
	c := &FuturesClient{cfg: cfg, core: newRestCore(cfg)}
	c.timeSync = common.NewTimeSync(c.serverTime)
	return c
}

var _ common.ControlChannel = (*FuturesClient)(nil)

// StartTimeSync keeps the signing clock aligned with the venue.
func (c *FuturesClient) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

func (c *FuturesClient) serverTime(ctx context.Context) (int64, error) {
	body, err := c.core.getJSON(ctx, futuresBaseURL+"/common/time", nil, nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Data int64 `json:"data"`
	}
	if err := decodeInto(body, &resp); err != nil {
		return 0, err
	}
	return resp.Data, nil
}

func (c *FuturesClient) now() int64 {
	return c.timeSync.Now()
}

func (c *FuturesClient) headers(method, path string, payload []byte) map[string]string {
	ts := strconv.FormatInt(c.now(), 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(ts + method + path))
	mac.Write(payload)
	return map[string]string{
		"ZB-APIKEY":    c.cfg.APIKey,
		"ZB-TIMESTAMP": ts,
		"ZB-SIGN":      base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

type futuresResponse struct {
	Code int             `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

func (c *FuturesClient) checked(body []byte) (futuresResponse, error) {
	var resp futuresResponse
	if err := decodeInto(body, &resp); err != nil {
		return futuresResponse{}, err
	}
	if resp.Code != futuresCodeOK {
		return futuresResponse{}, &common.VenueError{Code: resp.Code, Message: resp.Desc}
	}
	return resp, nil
}

func (c *FuturesClient) post(ctx context.Context, path string, payload any) (futuresResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return futuresResponse{}, err
	}
	body, err := c.core.postJSON(ctx, futuresBaseURL+path, c.headers("POST", path, raw), raw)
	if err != nil {
		return futuresResponse{}, err
	}
	return c.checked(body)
}

func (c *FuturesClient) get(ctx context.Context, path string, params url.Values) (futuresResponse, error) {
	body, err := c.core.getJSON(ctx, futuresBaseURL+path, c.headers("GET", path, []byte(params.Encode())), params)
	if err != nil {
		return futuresResponse{}, err
	}
	return c.checked(body)
}

// futuresSide folds order side and hedge-mode position side into the venue's
// combined enum: 1 open long, 2 open short, 3 close long, 4 close short.
func futuresSide(side common.Side, posSide common.PositionSide) int {
	switch {
	case side == common.SideBuy && posSide == common.PositionShort:
		return 4
	case side == common.SideSell && posSide == common.PositionLong:
		return 3
	case side == common.SideSell:
		return 2
	default:
		return 1
	}
}

func futuresAction(intent common.OrderIntent) int {
	if intent.Type == common.OrderTypeMarket {
		return 11 // best-price immediate
	}
	if intent.PostOnly {
		return 4
	}
	switch intent.TimeInForce {
	case common.TIFIOC:
		return 3
	case common.TIFFOK:
		return 31
	default:
		return 1 // resting limit
	}
}

// OrderParams is the wire form of a futures new-order call, shared by the
// REST client and the websocket mirror.
type OrderParams struct {
	Symbol    string `json:"symbol"`
	Side      int    `json:"side"`
	Amount    string `json:"amount"`
	Price     string `json:"price,omitempty"`
	Action    int    `json:"action"`
	OrderCode string `json:"orderCode"`
}

func buildFuturesOrderParams(intent common.OrderIntent) OrderParams {
	p := OrderParams{
		Symbol:    intent.Symbol,
		Side:      futuresSide(intent.Side, intent.PositionSide),
		Amount:    intent.Qty.String(),
		Action:    futuresAction(intent),
		OrderCode: intent.ClientOrderID,
	}
	if intent.Type != common.OrderTypeMarket {
		p.Price = intent.Price.String()
	}
	return p
}

func (c *FuturesClient) NewOrder(ctx context.Context, intent common.OrderIntent) (common.OrderAck, error) {
	resp, err := c.post(ctx, "/trade/order", buildFuturesOrderParams(intent))
	if err != nil {
		return common.OrderAck{}, err
	}
	var ack struct {
		OrderID   json.Number `json:"orderId"`
		OrderCode string      `json:"orderCode"`
	}
	if err := json.Unmarshal(resp.Data, &ack); err != nil {
		return common.OrderAck{}, fmt.Errorf("decode order ack: %w", err)
	}
	return common.OrderAck{VenueOrderID: ack.OrderID.String(), ClientOrderID: ack.OrderCode}, nil
}

func (c *FuturesClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, err := c.post(ctx, "/trade/cancelOrder", map[string]string{
		"symbol":    symbol,
		"orderCode": clientOrderID,
	})
	return err
}

func (c *FuturesClient) CancelAllOrders(ctx context.Context, symbol string) error {
	_, err := c.post(ctx, "/trade/cancelAllOrders", map[string]string{"symbol": symbol})
	return err
}

func (c *FuturesClient) GetOrder(ctx context.Context, symbol, clientOrderID string) (common.OrderStatusReport, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderCode", clientOrderID)

	resp, err := c.get(ctx, "/trade/getOrder", params)
	if err != nil {
		return common.OrderStatusReport{}, err
	}
	var ord struct {
		ID          json.Number `json:"id"`
		TradeAmount string      `json:"tradeAmount"`
		ShowStatus  int         `json:"showStatus"`
	}
	if err := json.Unmarshal(resp.Data, &ord); err != nil {
		return common.OrderStatusReport{}, fmt.Errorf("decode getOrder: %w", err)
	}
	filled, _ := decimal.NewFromString(ord.TradeAmount)
	return common.OrderStatusReport{
		VenueOrderID:  ord.ID.String(),
		ClientOrderID: clientOrderID,
		FilledQty:     filled,
		Status:        strconv.Itoa(ord.ShowStatus),
	}, nil
}

func (c *FuturesClient) GetAccount(ctx context.Context) (common.AccountState, error) {
	resp, err := c.get(ctx, "/Fund/balance", url.Values{})
	if err != nil {
		return common.AccountState{}, err
	}
	var data struct {
		Account struct {
			AccountNetBalance json.Number `json:"accountNetBalance"`
		} `json:"account"`
		Assets []futuresAsset `json:"assets"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return common.AccountState{}, fmt.Errorf("decode balance: %w", err)
	}

	state := common.AccountState{}
	for _, a := range data.Assets {
		b, err := a.balance()
		if err != nil {
			return common.AccountState{}, err
		}
		state.Balances = append(state.Balances, b)
	}
	if equity, err := decimal.NewFromString(data.Account.AccountNetBalance.String()); err == nil {
		state.Equity = equity
		state.HasEquity = true
	}
	return state, nil
}

func (c *FuturesClient) GetPositions(ctx context.Context) ([]common.PositionReport, error) {
	resp, err := c.get(ctx, "/Positions/getPositions", url.Values{})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		MarketName string      `json:"marketName"`
		Side       int         `json:"side"`
		Amount     json.Number `json:"amount"`
		AvgPrice   json.Number `json:"avgPrice"`
	}
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	out := make([]common.PositionReport, 0, len(rows))
	for _, row := range rows {
		qty, err := decimal.NewFromString(row.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("position %s amount: %w", row.MarketName, err)
		}
		entry, _ := decimal.NewFromString(row.AvgPrice.String())
		side := common.PositionShort
		if row.Side == 1 {
			side = common.PositionLong
		}
		out = append(out, common.PositionReport{
			LocalMarketID: row.MarketName,
			Side:          side,
			Qty:           qty,
			EntryPrice:    entry,
		})
	}
	return out, nil
}

// GetTickers is unused for futures; equity is venue-reported.
func (c *FuturesClient) GetTickers(ctx context.Context) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}
