package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ControlChannel is the request/response side of a venue connection. The
// gateway only depends on this narrow surface; the concrete client owns
// signing, retries and transport details.
type ControlChannel interface {
	NewOrder(ctx context.Context, intent OrderIntent) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOrder(ctx context.Context, symbol, clientOrderID string) (OrderStatusReport, error)
	GetAccount(ctx context.Context) (AccountState, error)
	GetPositions(ctx context.Context) ([]PositionReport, error)
	// GetTickers returns last price per venue-local symbol, used for equity
	// conversion on venues that do not report equity themselves.
	GetTickers(ctx context.Context) (map[string]decimal.Decimal, error)
}

// OrderMirror optionally duplicates mutating calls on the event channel. Some
// venues accept orders over the push socket with lower latency than REST; the
// engine fires the mirror after the control call succeeded and ignores errors.
type OrderMirror interface {
	MirrorNewOrder(ctx context.Context, intent OrderIntent) error
	MirrorCancelOrder(ctx context.Context, symbol, clientOrderID string) error
}

// VenueError is a typed rejection from the venue: the venue received the call
// and explicitly refused it. Anything else coming back from a mutating control
// call is a transport-level failure whose real outcome is unknown.
type VenueError struct {
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Message)
}

// AsVenueError reports whether err is (or wraps) a typed venue rejection.
func AsVenueError(err error) (*VenueError, bool) {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
