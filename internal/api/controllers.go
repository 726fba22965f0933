package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"venue-gateway/pkg/db"
	"venue-gateway/pkg/venue/common"
)

type submitOrderRequest struct {
	VenueID       string `json:"venue_id" binding:"required,min=1"`
	ClientOrderID string `json:"client_order_id"`
	StrategyID    string `json:"strategy_id"`
	InstrumentID  string `json:"instrument_id" binding:"required,min=1"`
	Side          string `json:"side" binding:"required,oneof=BUY SELL"`
	Type          string `json:"type" binding:"required,oneof=LIMIT MARKET STOP_MARKET STOP_LIMIT"`
	Qty           string `json:"qty" binding:"required,min=1"`
	Price         string `json:"price"`
	TimeInForce   string `json:"time_in_force" binding:"omitempty,oneof=GTC IOC FOK"`
	PostOnly      bool   `json:"post_only"`
	PositionID    string `json:"position_id"`
}

func (s *Server) submitOrder(c *gin.Context) {
	var req submitOrderRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": err.Error()})
		return
	}

	qty, err := decimal.NewFromString(req.Qty)
	if err != nil || !qty.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_QTY", "error": "qty must be a positive decimal"})
		return
	}
	var price decimal.Decimal
	if req.Price != "" {
		if price, err = decimal.NewFromString(req.Price); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PRICE", "error": "price must be a decimal"})
			return
		}
	}
	if common.OrderType(req.Type) == common.OrderTypeLimit && !price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PRICE", "error": "limit orders require a positive price"})
		return
	}

	venue, err := s.Registry.Get(req.VenueID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "VENUE_NOT_FOUND", "error": "unknown venue " + req.VenueID})
		return
	}

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}
	intent := common.OrderIntent{
		ClientOrderID: clientOrderID,
		StrategyID:    req.StrategyID,
		InstrumentID:  req.InstrumentID,
		Side:          common.Side(req.Side),
		Type:          common.OrderType(req.Type),
		Qty:           qty,
		Price:         price,
		TimeInForce:   common.TimeInForce(req.TimeInForce),
		PostOnly:      req.PostOnly,
		PositionID:    req.PositionID,
	}
	if err := venue.Engine.Submit(c.Request.Context(), intent); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "ORDER_REJECTED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"client_order_id": intent.ClientOrderID})
}

func (s *Server) cancelOrder(c *gin.Context) {
	venueID := c.Query("venue_id")
	venue, err := s.Registry.Get(venueID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "VENUE_NOT_FOUND", "error": "unknown venue " + venueID})
		return
	}
	clientOrderID := c.Param("clientOrderID")
	if err := venue.Engine.Cancel(c.Request.Context(), clientOrderID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CANCEL_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"client_order_id": clientOrderID})
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	venueID := c.Query("venue_id")
	venue, err := s.Registry.Get(venueID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "VENUE_NOT_FOUND", "error": "unknown venue " + venueID})
		return
	}
	instrumentID := c.Query("instrument_id")
	if instrumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_INSTRUMENT", "error": "instrument_id is required"})
		return
	}
	if err := venue.Engine.CancelAll(c.Request.Context(), instrumentID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "CANCEL_ALL_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"instrument_id": instrumentID})
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.Queries.GetOrder(c.Request.Context(), c.Param("clientOrderID"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "ORDER_NOT_FOUND", "error": "unknown order"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "QUERY_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, orderJSON(o))
}

func (s *Server) listOrders(c *gin.Context) {
	venueID := c.Query("venue_id")
	if venueID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_VENUE", "error": "venue_id is required"})
		return
	}

	var (
		orders []db.Order
		err    error
	)
	if c.Query("open") == "true" {
		orders, err = s.Queries.GetOpenOrders(c.Request.Context(), venueID)
	} else {
		limit := 100
		if v := c.Query("limit"); v != "" {
			if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
				limit = n
			}
		}
		orders, err = s.Queries.GetRecentOrders(c.Request.Context(), venueID, limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "QUERY_FAILED", "error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(orders))
	for i := range orders {
		out = append(out, orderJSON(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) getOrderFills(c *gin.Context) {
	fills, err := s.Queries.GetFillsByOrder(c.Request.Context(), c.Param("clientOrderID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "QUERY_FAILED", "error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(fills))
	for _, f := range fills {
		out = append(out, gin.H{
			"execution_id":      f.ExecutionID,
			"venue_position_id": f.VenuePositionID,
			"side":              f.Side,
			"last_qty":          f.LastQty.String(),
			"last_px":           f.LastPx.String(),
			"liquidity":         f.Liquidity,
			"commission":        f.Commission.String(),
			"commission_ccy":    f.CommissionCcy,
			"commission_approx": f.CommissionApprox,
			"ts_event":          f.TsEvent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"fills": out})
}

func (s *Server) getPositions(c *gin.Context) {
	venueID := c.Query("venue_id")
	if venueID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_VENUE", "error": "venue_id is required"})
		return
	}
	positions, err := s.Queries.GetPositions(c.Request.Context(), venueID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "QUERY_FAILED", "error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"instrument_id": p.InstrumentID,
			"side":          p.Side,
			"qty":           p.Qty.String(),
			"entry_price":   p.EntryPrice.String(),
			"ts_event":      p.TsEvent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) getAccount(c *gin.Context) {
	venueID := c.Query("venue_id")
	if venueID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_VENUE", "error": "venue_id is required"})
		return
	}
	snap, err := s.Queries.GetLatestAccountSnapshot(c.Request.Context(), venueID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NO_SNAPSHOT", "error": "no account snapshot recorded yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "QUERY_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event_id": snap.EventID,
		"venue_id": snap.VenueID,
		"balances": jsonRaw(snap.Balances),
		"equity":   snap.Equity.String(),
		"ts_event": snap.TsEvent,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "METRICS_DISABLED", "error": "metrics not wired"})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func jsonRaw(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

func orderJSON(o *db.Order) gin.H {
	return gin.H{
		"client_order_id": o.ClientOrderID,
		"venue_id":        o.VenueID,
		"venue_order_id":  o.VenueOrderID,
		"strategy_id":     o.StrategyID,
		"instrument_id":   o.InstrumentID,
		"side":            o.Side,
		"order_type":      o.OrderType,
		"qty":             o.Qty.String(),
		"price":           o.Price.String(),
		"time_in_force":   o.TimeInForce,
		"filled_qty":      o.FilledQty.String(),
		"status":          o.Status,
		"reason":          o.Reason,
		"ts_event":        o.TsEvent,
	}
}
