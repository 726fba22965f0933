// Package db persists order lifecycle history, fills, positions and account
// snapshots to SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("record not found")

// Queries is the typed query layer over the gateway schema.
type Queries struct {
	db *sql.DB
}

// ----------------------------------------
// Order queries
// ----------------------------------------

// UpsertOrder inserts an order row or refreshes its mutable fields. Every
// lifecycle event upserts, so replayed events are harmless.
func (q *Queries) UpsertOrder(ctx context.Context, o Order) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (client_order_id, venue_id, venue_order_id, strategy_id,
		                    instrument_id, side, order_type, qty, price, time_in_force,
		                    filled_qty, status, reason, ts_event, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(client_order_id) DO UPDATE SET
			venue_order_id = CASE WHEN excluded.venue_order_id != '' THEN excluded.venue_order_id ELSE orders.venue_order_id END,
			filled_qty = excluded.filled_qty,
			status = excluded.status,
			reason = excluded.reason,
			ts_event = excluded.ts_event,
			updated_at = CURRENT_TIMESTAMP
	`, o.ClientOrderID, o.VenueID, o.VenueOrderID, o.StrategyID,
		o.InstrumentID, o.Side, o.OrderType, o.Qty.String(), o.Price.String(), o.TimeInForce,
		o.FilledQty.String(), o.Status, o.Reason, o.TsEvent)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// GetOrder returns one order by client order id.
func (q *Queries) GetOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT client_order_id, venue_id, COALESCE(venue_order_id, ''), COALESCE(strategy_id, ''),
		       instrument_id, side, order_type, qty, COALESCE(price, '0'), COALESCE(time_in_force, ''),
		       filled_qty, status, COALESCE(reason, ''), ts_event
		FROM orders
		WHERE client_order_id = ?
	`, clientOrderID)
	return scanOrder(row)
}

// GetOrderByVenueID resolves a venue-assigned order id back to the stored
// order, used when a push event predates this process.
func (q *Queries) GetOrderByVenueID(ctx context.Context, venueOrderID string) (*Order, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT client_order_id, venue_id, COALESCE(venue_order_id, ''), COALESCE(strategy_id, ''),
		       instrument_id, side, order_type, qty, COALESCE(price, '0'), COALESCE(time_in_force, ''),
		       filled_qty, status, COALESCE(reason, ''), ts_event
		FROM orders
		WHERE venue_order_id = ?
	`, venueOrderID)
	return scanOrder(row)
}

// GetOpenOrders returns orders in non-terminal states, newest first.
func (q *Queries) GetOpenOrders(ctx context.Context, venueID string) ([]Order, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT client_order_id, venue_id, COALESCE(venue_order_id, ''), COALESCE(strategy_id, ''),
		       instrument_id, side, order_type, qty, COALESCE(price, '0'), COALESCE(time_in_force, ''),
		       filled_qty, status, COALESCE(reason, ''), ts_event
		FROM orders
		WHERE venue_id = ?
		  AND status IN ('SUBMITTED', 'ACCEPTED', 'PARTIALLY_FILLED', 'PENDING_CANCEL')
		ORDER BY ts_event DESC
	`, venueID)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// GetRecentOrders returns the newest orders on a venue regardless of state.
func (q *Queries) GetRecentOrders(ctx context.Context, venueID string, limit int) ([]Order, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT client_order_id, venue_id, COALESCE(venue_order_id, ''), COALESCE(strategy_id, ''),
		       instrument_id, side, order_type, qty, COALESCE(price, '0'), COALESCE(time_in_force, ''),
		       filled_qty, status, COALESCE(reason, ''), ts_event
		FROM orders
		WHERE venue_id = ?
		ORDER BY ts_event DESC
		LIMIT ?
	`, venueID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o                     Order
		qty, price, filledQty string
	)
	err := row.Scan(&o.ClientOrderID, &o.VenueID, &o.VenueOrderID, &o.StrategyID,
		&o.InstrumentID, &o.Side, &o.OrderType, &qty, &price, &o.TimeInForce,
		&filledQty, &o.Status, &o.Reason, &o.TsEvent)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if o.Qty, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("order %s qty: %w", o.ClientOrderID, err)
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("order %s price: %w", o.ClientOrderID, err)
	}
	if o.FilledQty, err = decimal.NewFromString(filledQty); err != nil {
		return nil, fmt.Errorf("order %s filled_qty: %w", o.ClientOrderID, err)
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ----------------------------------------
// Fill queries
// ----------------------------------------

// InsertFill appends one execution.
func (q *Queries) InsertFill(ctx context.Context, f Fill) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO fills (client_order_id, venue_id, execution_id, venue_position_id,
		                   instrument_id, side, last_qty, last_px, liquidity,
		                   commission, commission_ccy, commission_approx, ts_event)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ClientOrderID, f.VenueID, f.ExecutionID, f.VenuePositionID,
		f.InstrumentID, f.Side, f.LastQty.String(), f.LastPx.String(), f.Liquidity,
		f.Commission.String(), f.CommissionCcy, boolToInt(f.CommissionApprox), f.TsEvent)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// GetFillsByOrder returns all executions on one order, oldest first.
func (q *Queries) GetFillsByOrder(ctx context.Context, clientOrderID string) ([]Fill, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, client_order_id, venue_id, COALESCE(execution_id, ''), COALESCE(venue_position_id, ''),
		       instrument_id, side, last_qty, last_px, COALESCE(liquidity, ''),
		       commission, COALESCE(commission_ccy, ''), commission_approx, ts_event
		FROM fills
		WHERE client_order_id = ?
		ORDER BY id ASC
	`, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		var (
			f                       Fill
			lastQty, lastPx, commis string
			approx                  int
		)
		if err := rows.Scan(&f.ID, &f.ClientOrderID, &f.VenueID, &f.ExecutionID, &f.VenuePositionID,
			&f.InstrumentID, &f.Side, &lastQty, &lastPx, &f.Liquidity,
			&commis, &f.CommissionCcy, &approx, &f.TsEvent); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		if f.LastQty, err = decimal.NewFromString(lastQty); err != nil {
			return nil, fmt.Errorf("fill %d last_qty: %w", f.ID, err)
		}
		if f.LastPx, err = decimal.NewFromString(lastPx); err != nil {
			return nil, fmt.Errorf("fill %d last_px: %w", f.ID, err)
		}
		if f.Commission, err = decimal.NewFromString(commis); err != nil {
			return nil, fmt.Errorf("fill %d commission: %w", f.ID, err)
		}
		f.CommissionApprox = approx != 0
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ----------------------------------------
// Position queries
// ----------------------------------------

// UpsertPosition records the latest reported quantity for one side of an
// instrument. A zero quantity keeps the row as an explicit flat marker.
func (q *Queries) UpsertPosition(ctx context.Context, p Position) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO positions (venue_id, instrument_id, side, qty, entry_price, ts_event, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(venue_id, instrument_id, side) DO UPDATE SET
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			ts_event = excluded.ts_event,
			updated_at = CURRENT_TIMESTAMP
	`, p.VenueID, p.InstrumentID, p.Side, p.Qty.String(), p.EntryPrice.String(), p.TsEvent)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// GetPositions returns every tracked position on a venue.
func (q *Queries) GetPositions(ctx context.Context, venueID string) ([]Position, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT venue_id, instrument_id, side, qty, COALESCE(entry_price, '0'), ts_event
		FROM positions
		WHERE venue_id = ?
		ORDER BY instrument_id, side
	`, venueID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var (
			p        Position
			qty, avg string
		)
		if err := rows.Scan(&p.VenueID, &p.InstrumentID, &p.Side, &qty, &avg, &p.TsEvent); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if p.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("position %s qty: %w", p.InstrumentID, err)
		}
		if p.EntryPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("position %s entry_price: %w", p.InstrumentID, err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ----------------------------------------
// Account snapshot queries
// ----------------------------------------

// InsertAccountSnapshot stores one full account report. The event id makes
// replays idempotent.
func (q *Queries) InsertAccountSnapshot(ctx context.Context, s AccountSnapshot) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO account_snapshots (event_id, venue_id, balances, equity, ts_event)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, s.EventID, s.VenueID, s.Balances, s.Equity.String(), s.TsEvent)
	if err != nil {
		return fmt.Errorf("insert account snapshot: %w", err)
	}
	return nil
}

// GetLatestAccountSnapshot returns the newest stored snapshot for a venue.
func (q *Queries) GetLatestAccountSnapshot(ctx context.Context, venueID string) (*AccountSnapshot, error) {
	var (
		s      AccountSnapshot
		equity string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT event_id, venue_id, balances, COALESCE(equity, '0'), ts_event
		FROM account_snapshots
		WHERE venue_id = ?
		ORDER BY ts_event DESC
		LIMIT 1
	`, venueID).Scan(&s.EventID, &s.VenueID, &s.Balances, &equity, &s.TsEvent)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account snapshot: %w", err)
	}
	if s.Equity, err = decimal.NewFromString(equity); err != nil {
		return nil, fmt.Errorf("snapshot %s equity: %w", s.EventID, err)
	}
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
