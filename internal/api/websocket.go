package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"venue-gateway/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents pushes the order lifecycle feed over a websocket. One
// subscription spans every order topic so clients see events in the order
// they were published.
func (s *Server) streamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.SubscribeAll(256,
		events.TopicOrderSubmitted,
		events.TopicOrderAccepted,
		events.TopicOrderRejected,
		events.TopicOrderPendingCancel,
		events.TopicOrderCanceled,
		events.TopicOrderCancelRejected,
		events.TopicOrderFilled,
	)
	defer unsub()

	for msg := range stream {
		if err := conn.WriteJSON(envelope(msg)); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

// envelope tags the payload with its event type so clients can dispatch
// without probing fields.
func envelope(msg any) gin.H {
	var kind string
	switch msg.(type) {
	case events.OrderSubmitted:
		kind = "order.submitted"
	case events.OrderAccepted:
		kind = "order.accepted"
	case events.OrderRejected:
		kind = "order.rejected"
	case events.OrderPendingCancel:
		kind = "order.pending_cancel"
	case events.OrderCanceled:
		kind = "order.canceled"
	case events.OrderCancelRejected:
		kind = "order.cancel_rejected"
	case events.OrderFilled:
		kind = "order.filled"
	default:
		kind = "unknown"
	}
	return gin.H{"type": kind, "data": msg}
}
