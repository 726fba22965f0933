package zb

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"venue-gateway/pkg/venue/common"
)

const (
	spotTradeURL  = "https://trade.zb.com/api"
	spotMarketURL = "https://api.zb.com/data/v1"

	spotCodeOK = 1000
)

// SpotClient is the ZB spot control channel. All trade endpoints are
// GET-with-signature; the signature is HMAC-MD5 over the sorted query using
// the SHA1 digest of the secret key.
type SpotClient struct {
	cfg  Config
	core restCore
}

func NewSpotClient(cfg Config) *SpotClient {
	cfg = cfg.withDefaults()
	return &SpotClient{cfg: cfg, core: newRestCore(cfg)}
}

var _ common.ControlChannel = (*SpotClient)(nil)

type spotResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
}

func (c *SpotClient) signed(ctx context.Context, method string, params url.Values) (spotResponse, error) {
	params.Set("method", method)
	params.Set("accesskey", c.cfg.APIKey)

	digest := sha1.Sum([]byte(c.cfg.APISecret))
	mac := hmac.New(md5.New, []byte(hex.EncodeToString(digest[:])))
	mac.Write([]byte(params.Encode()))
	params.Set("sign", hex.EncodeToString(mac.Sum(nil)))
	params.Set("reqTime", strconv.FormatInt(time.Now().UnixMilli(), 10))

	body, err := c.core.getForm(ctx, spotTradeURL+"/"+method, params)
	if err != nil {
		return spotResponse{}, err
	}
	var resp spotResponse
	if err := decodeInto(body, &resp); err != nil {
		return spotResponse{}, err
	}
	// The trade API reports success either with code 1000 or by omitting the
	// code entirely on some endpoints.
	if resp.Code != 0 && resp.Code != spotCodeOK {
		return spotResponse{}, &common.VenueError{Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
}

func (c *SpotClient) NewOrder(ctx context.Context, intent common.OrderIntent) (common.OrderAck, error) {
	tradeType := "0"
	if intent.Side == common.SideBuy {
		tradeType = "1"
	}
	params := url.Values{}
	params.Set("currency", intent.Symbol)
	params.Set("amount", intent.Qty.String())
	params.Set("price", intent.Price.String())
	params.Set("tradeType", tradeType)
	params.Set("customerOrderId", intent.ClientOrderID)
	if intent.PostOnly {
		params.Set("orderType", "1")
	} else if intent.TimeInForce == common.TIFIOC {
		params.Set("orderType", "2")
	}

	resp, err := c.signed(ctx, "order", params)
	if err != nil {
		return common.OrderAck{}, err
	}
	return common.OrderAck{VenueOrderID: resp.ID, ClientOrderID: intent.ClientOrderID}, nil
}

func (c *SpotClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	params := url.Values{}
	params.Set("currency", symbol)
	params.Set("customerOrderId", clientOrderID)
	_, err := c.signed(ctx, "cancelOrder", params)
	return err
}

func (c *SpotClient) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("currency", symbol)
	_, err := c.signed(ctx, "cancelAllOrders", params)
	return err
}

func (c *SpotClient) GetOrder(ctx context.Context, symbol, clientOrderID string) (common.OrderStatusReport, error) {
	params := url.Values{}
	params.Set("currency", symbol)
	params.Set("customerOrderId", clientOrderID)

	resp, err := c.signed(ctx, "getOrder", params)
	if err != nil {
		return common.OrderStatusReport{}, err
	}
	var ord struct {
		ID          json.Number `json:"id"`
		TradeAmount json.Number `json:"trade_amount"`
		Status      int         `json:"status"`
	}
	// getOrder returns the order object at the top level, not under result.
	full := resp.Result
	if len(full) == 0 {
		full = []byte(fmt.Sprintf(`{"id":%q}`, resp.ID))
	}
	if err := json.Unmarshal(full, &ord); err != nil {
		return common.OrderStatusReport{}, fmt.Errorf("decode getOrder: %w", err)
	}
	filled, _ := decimal.NewFromString(ord.TradeAmount.String())
	return common.OrderStatusReport{
		VenueOrderID:  ord.ID.String(),
		ClientOrderID: clientOrderID,
		FilledQty:     filled,
		Status:        strconv.Itoa(ord.Status),
	}, nil
}

func (c *SpotClient) GetAccount(ctx context.Context) (common.AccountState, error) {
	resp, err := c.signed(ctx, "getAccountInfo", params0())
	if err != nil {
		return common.AccountState{}, err
	}
	var result struct {
		Coins []struct {
			Key       string `json:"key"`
			Available string `json:"available"`
			Freeze    string `json:"freez"`
		} `json:"coins"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return common.AccountState{}, fmt.Errorf("decode getAccountInfo: %w", err)
	}

	state := common.AccountState{}
	for _, coin := range result.Coins {
		free, err := decimal.NewFromString(coin.Available)
		if err != nil {
			return common.AccountState{}, fmt.Errorf("coin %s available: %w", coin.Key, err)
		}
		locked, err := decimal.NewFromString(coin.Freeze)
		if err != nil {
			return common.AccountState{}, fmt.Errorf("coin %s freez: %w", coin.Key, err)
		}
		state.Balances = append(state.Balances, common.Balance{
			Currency: coin.Key,
			Free:     free,
			Locked:   locked,
			Total:    free.Add(locked),
		})
	}
	return state, nil
}

// GetPositions returns nothing for spot; the account is cash-settled.
func (c *SpotClient) GetPositions(ctx context.Context) ([]common.PositionReport, error) {
	return nil, nil
}

// GetTickers returns last price per market from the public ticker endpoint,
// used for quote-currency equity conversion.
func (c *SpotClient) GetTickers(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := c.core.getJSON(ctx, spotMarketURL+"/allTicker", nil, nil)
	if err != nil {
		return nil, err
	}
	var tickers map[string]struct {
		Last json.Number `json:"last"`
	}
	if err := decodeInto(body, &tickers); err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(tickers))
	for sym, t := range tickers {
		p, err := decimal.NewFromString(t.Last.String())
		if err != nil {
			continue
		}
		prices[sym] = p
	}
	return prices, nil
}

func params0() url.Values { return url.Values{} }
