package zb

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"venue-gateway/pkg/venue/common"
)

const (
	spotStreamURL    = "wss://api.zb.com/websocket"
	futuresStreamURL = "wss://futures.zb.com/ws/private/api/v2"

	pingInterval = 20 * time.Second

	// Spot requires one subscription per market and caps subscribe calls at
	// 60 per second.
	spotSubscribeSpacing = time.Second / 60
)

// Handler receives every inbound frame. Decoding happens downstream in the
// venue codec; the stream itself never interprets payloads.
type Handler func(raw []byte)

// UserStream is a long-lived ZB user-data websocket connection. One instance
// serves one venue connection; writes are serialized through a mutex because
// both the ping loop and order mirroring share the socket.
type UserStream struct {
	cfg     Config
	url     string
	futures bool
	markets []string // spot: markets to subscribe for order updates
	handler Handler

	mu       sync.Mutex // guards conn writes
	conn     *websocket.Conn
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewSpotUserStream(cfg Config, markets []string, handler Handler) *UserStream {
	return &UserStream{
		cfg:      cfg.withDefaults(),
		url:      spotStreamURL,
		markets:  markets,
		handler:  handler,
		stopChan: make(chan struct{}),
	}
}

func NewFuturesUserStream(cfg Config, handler Handler) *UserStream {
	return &UserStream{
		cfg:      cfg.withDefaults(),
		url:      futuresStreamURL,
		futures:  true,
		handler:  handler,
		stopChan: make(chan struct{}),
	}
}

// Start dials, authenticates, subscribes and launches the ping and reader
// loops. The reader stops on connection failure; reconnecting is the owner's
// decision.
func (s *UserStream) Start(ctx context.Context) error {
	if s.handler == nil {
		return errors.New("user stream: handler not set")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("user stream dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.futures {
		if err := s.loginFutures(); err != nil {
			conn.Close()
			return err
		}
	} else if err := s.subscribeSpot(ctx); err != nil {
		conn.Close()
		return err
	}
	log.Printf("user stream: connected to %s", s.url)

	go s.pingLoop(ctx)
	go s.readLoop()
	return nil
}

// Stop closes the connection and halts the ping loop.
func (s *UserStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
}

func (s *UserStream) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("user stream: not connected")
	}
	return s.conn.WriteJSON(v)
}

func (s *UserStream) loginFutures() error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(s.cfg.APISecret))
	mac.Write([]byte(ts + "GET" + "login"))
	return s.writeJSON(map[string]string{
		"action":    "login",
		"ZB-APIKEY": s.cfg.APIKey,
		"ZB-TIMESTAMP": ts,
		"ZB-SIGN":   base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	})
}

func (s *UserStream) subscribeSpot(ctx context.Context) error {
	digest := signSpotChannel(s.cfg.APISecret)
	for _, market := range s.markets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(spotSubscribeSpacing):
		}
		frame := map[string]string{
			"event":     "addChannel",
			"channel":   market + "default_push_user_incr_record",
			"accesskey": s.cfg.APIKey,
			"sign":      digest,
		}
		if err := s.writeJSON(frame); err != nil {
			return fmt.Errorf("subscribe %s: %w", market, err)
		}
	}
	return nil
}

func (s *UserStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			var err error
			if s.futures {
				err = s.writeJSON(map[string]string{"action": "ping"})
			} else {
				s.mu.Lock()
				if s.conn != nil {
					err = s.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				}
				s.mu.Unlock()
			}
			if err != nil {
				log.Printf("user stream: ping error: %v", err)
			}
		}
	}
}

func (s *UserStream) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				log.Printf("user stream: read error: %v", err)
			}
			return
		}
		s.handler(msg)
	}
}

// MirrorNewOrder duplicates a new-order call on the socket. The venue matches
// on orderCode, so the REST ack and the socket ack reference the same order.
func (s *UserStream) MirrorNewOrder(ctx context.Context, intent common.OrderIntent) error {
	if !s.futures {
		return errors.New("user stream: spot does not accept orders over the socket")
	}
	params := buildFuturesOrderParams(intent)
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	frame["action"] = "Trade.order"
	return s.writeJSON(frame)
}

// MirrorCancelOrder duplicates a cancel call on the socket.
func (s *UserStream) MirrorCancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if !s.futures {
		return errors.New("user stream: spot does not accept cancels over the socket")
	}
	return s.writeJSON(map[string]any{
		"action":    "Trade.cancelOrder",
		"symbol":    symbol,
		"orderCode": clientOrderID,
	})
}

var _ common.OrderMirror = (*UserStream)(nil)

func signSpotChannel(secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("channel"))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
