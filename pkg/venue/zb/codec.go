// Package zb implements the ZB exchange venue: wire codecs for the user-data
// push feed, a signed HTTP control client, and the websocket event channel.
package zb

import (
	"venue-gateway/pkg/venue/common"
)

// Decoded is the result of decoding one inbound frame. A single frame may
// carry order, balance and position information at once.
type Decoded struct {
	Orders    []common.OrderUpdate
	Balances  []common.BalancePush
	Positions []common.PositionPush
}

// Codec translates raw venue frames into canonical events. Implementations
// are pure and stateless; a decode failure never carries side effects.
type Codec interface {
	Decode(raw []byte) (Decoded, error)
}

func millisToNanos(ms int64) int64 {
	return ms * 1_000_000
}
