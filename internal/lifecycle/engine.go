package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"venue-gateway/internal/events"
	"venue-gateway/internal/monitor"
	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/common"
)

// RestoredOrder is a non-terminal order persisted by an earlier run, handed
// back to the engine so push events for it resolve after a restart.
type RestoredOrder struct {
	Intent       common.OrderIntent
	VenueOrderID string
	Status       Status
	Filled       decimal.Decimal
}

// PositionAttributor is the hedge-mode side cache (internal/position). All
// calls happen on the engine goroutine.
type PositionAttributor interface {
	NoteIntent(clientOrderID string, side common.Side)
	Attribute(clientOrderID, instrumentID, strategyID string) string
	Evict(clientOrderID string)
}

// Config holds per-venue engine settings.
type Config struct {
	VenueID string
	Market  common.MarketType
	// HedgeMode marks venues that always keep long and short positions
	// separate; fills must then be attributed by intended side.
	HedgeMode bool
	// MirrorOrders duplicates successful submits/cancels on the event
	// channel for lower latency.
	MirrorOrders bool
	// SupportedTypes / SupportedTIF define what the venue accepts; anything
	// else is rejected locally with no network call.
	SupportedTypes []common.OrderType
	SupportedTIF   []common.TimeInForce
	QueueSize      int
}

// Engine is the order lifecycle state machine for one venue connection.
type Engine struct {
	cfg       Config
	control   common.ControlChannel
	mirror    common.OrderMirror
	bus       *events.Bus
	provider  *instruments.Provider
	positions PositionAttributor
	fees      FeeModel
	metrics   *monitor.Metrics
	nowNanos  func() int64

	msgs chan message

	// Loop-owned state; never touched off the engine goroutine.
	orders     map[string]*order          // client order id -> order
	byVenueID  map[string]string          // venue order id -> client order id
	lastFilled map[string]decimal.Decimal // venue order id -> cumulative filled
}

type message interface{ isMessage() }

type submitMsg struct {
	intent common.OrderIntent
}

type cancelMsg struct {
	clientOrderID string
	reply         chan error
}

type cancelAllMsg struct {
	instrumentID string
}

type venueUpdateMsg struct {
	upd common.OrderUpdate
}

type submitAckMsg struct {
	clientOrderID string
	ack           common.OrderAck
	err           error
}

type cancelAckMsg struct {
	clientOrderID string
	err           error
}

type verifyResultMsg struct {
	clientOrderID string
	report        common.OrderStatusReport
	err           error
}

func (submitMsg) isMessage()       {}
func (cancelMsg) isMessage()       {}
func (cancelAllMsg) isMessage()    {}
func (venueUpdateMsg) isMessage()  {}
func (submitAckMsg) isMessage()    {}
func (cancelAckMsg) isMessage()    {}
func (verifyResultMsg) isMessage() {}

// NewEngine wires an engine. positions may be nil when the venue needs no
// hedge attribution.
func NewEngine(cfg Config, control common.ControlChannel, bus *events.Bus, provider *instruments.Provider, opts ...Option) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	e := &Engine{
		cfg:        cfg,
		control:    control,
		bus:        bus,
		provider:   provider,
		fees:       TableFeeModel{},
		nowNanos:   func() int64 { return time.Now().UnixNano() },
		msgs:       make(chan message, cfg.QueueSize),
		orders:     make(map[string]*order),
		byVenueID:  make(map[string]string),
		lastFilled: make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option customizes an Engine.
type Option func(*Engine)

func WithMirror(m common.OrderMirror) Option    { return func(e *Engine) { e.mirror = m } }
func WithPositions(p PositionAttributor) Option { return func(e *Engine) { e.positions = p } }
func WithFeeModel(f FeeModel) Option            { return func(e *Engine) { e.fees = f } }
func WithMetrics(m *monitor.Metrics) Option     { return func(e *Engine) { e.metrics = m } }
func withClock(now func() int64) Option         { return func(e *Engine) { e.nowNanos = now } }

// Restore re-registers orders that survived a restart, so push events that
// reference them by venue order id resolve again. Must be called before Run;
// the maps are not safe against a running loop.
func (e *Engine) Restore(restored []RestoredOrder) {
	for _, ro := range restored {
		clientOrderID := ro.Intent.ClientOrderID
		if clientOrderID == "" || ro.Status.IsTerminal() {
			continue
		}
		if _, dup := e.orders[clientOrderID]; dup {
			continue
		}
		inst, ok := e.provider.Get(ro.Intent.InstrumentID)
		if !ok {
			log.Printf("engine %s: cannot restore %s: unknown instrument %s",
				e.cfg.VenueID, clientOrderID, ro.Intent.InstrumentID)
			continue
		}
		intent := ro.Intent
		if intent.Symbol == "" {
			intent.Symbol = inst.Symbol
		}
		if e.cfg.HedgeMode && intent.PositionID == "" && e.positions != nil {
			e.positions.NoteIntent(clientOrderID, intent.Side)
		}
		o := &order{
			intent:       intent,
			instrument:   inst,
			venueOrderID: ro.VenueOrderID,
			status:       ro.Status,
			filled:       ro.Filled,
			seenExecIDs:  make(map[string]bool),
		}
		e.orders[clientOrderID] = o
		if ro.VenueOrderID != "" {
			e.byVenueID[ro.VenueOrderID] = clientOrderID
			e.lastFilled[ro.VenueOrderID] = ro.Filled
		}
		log.Printf("engine %s: restored order %s (%s, filled %s)",
			e.cfg.VenueID, clientOrderID, ro.Status, ro.Filled)
	}
}

// Run processes messages until ctx is done. All engine state is confined to
// this goroutine; control-call completions are folded back in as messages.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-e.msgs:
			e.process(ctx, m)
		}
	}
}

func (e *Engine) enqueue(ctx context.Context, m message) error {
	select {
	case e.msgs <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates the intent against the venue's supported order types and
// time-in-force set, then hands it to the engine loop. Unsupported intents
// are rejected locally with zero side effects beyond the rejection event.
func (e *Engine) Submit(ctx context.Context, intent common.OrderIntent) error {
	if intent.ClientOrderID == "" {
		return fmt.Errorf("submit: client order id is required")
	}
	if reason, ok := e.validate(intent); !ok {
		e.bus.Publish(events.TopicOrderRejected, events.OrderRejected{
			OrderMeta: events.OrderMeta{
				VenueID:       e.cfg.VenueID,
				StrategyID:    intent.StrategyID,
				InstrumentID:  intent.InstrumentID,
				ClientOrderID: intent.ClientOrderID,
				TsEvent:       e.nowNanos(),
			},
			Reason: reason,
		})
		if e.metrics != nil {
			e.metrics.IncrementRejected()
		}
		return fmt.Errorf("submit %s: %s", intent.ClientOrderID, reason)
	}
	return e.enqueue(ctx, submitMsg{intent: intent})
}

// Cancel requests cancellation. An unknown client order id is a caller error
// reported synchronously; everything else is resolved through events.
func (e *Engine) Cancel(ctx context.Context, clientOrderID string) error {
	reply := make(chan error, 1)
	if err := e.enqueue(ctx, cancelMsg{clientOrderID: clientOrderID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels every non-terminal order on the instrument.
func (e *Engine) CancelAll(ctx context.Context, instrumentID string) error {
	return e.enqueue(ctx, cancelAllMsg{instrumentID: instrumentID})
}

// OnVenueUpdate feeds one decoded push event into the engine loop. It is the
// gateway's bridge from the event channel.
func (e *Engine) OnVenueUpdate(ctx context.Context, upd common.OrderUpdate) error {
	return e.enqueue(ctx, venueUpdateMsg{upd: upd})
}

func (e *Engine) validate(intent common.OrderIntent) (string, bool) {
	if len(e.cfg.SupportedTypes) > 0 && !containsType(e.cfg.SupportedTypes, intent.Type) {
		return fmt.Sprintf("%s orders not supported by venue %s; supported: %v",
			intent.Type, e.cfg.VenueID, e.cfg.SupportedTypes), false
	}
	if intent.TimeInForce != "" && len(e.cfg.SupportedTIF) > 0 && !containsTIF(e.cfg.SupportedTIF, intent.TimeInForce) {
		return fmt.Sprintf("time in force %s not supported by venue %s; supported: %v",
			intent.TimeInForce, e.cfg.VenueID, e.cfg.SupportedTIF), false
	}
	return "", true
}

func containsType(set []common.OrderType, t common.OrderType) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

func containsTIF(set []common.TimeInForce, t common.TimeInForce) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

// ---- engine loop ----------------------------------------------------------

func (e *Engine) process(ctx context.Context, m message) {
	switch msg := m.(type) {
	case submitMsg:
		e.handleSubmit(ctx, msg)
	case cancelMsg:
		e.handleCancel(ctx, msg)
	case cancelAllMsg:
		e.handleCancelAll(ctx, msg)
	case venueUpdateMsg:
		e.handleVenueUpdate(msg.upd)
	case submitAckMsg:
		e.handleSubmitAck(ctx, msg)
	case cancelAckMsg:
		e.handleCancelAck(msg)
	case verifyResultMsg:
		e.handleVerifyResult(msg)
	}
}

func (e *Engine) handleSubmit(ctx context.Context, msg submitMsg) {
	intent := msg.intent
	if _, dup := e.orders[intent.ClientOrderID]; dup {
		log.Printf("engine %s: duplicate client order id %s, dropping submit", e.cfg.VenueID, intent.ClientOrderID)
		return
	}

	inst, ok := e.provider.Get(intent.InstrumentID)
	if !ok {
		log.Printf("engine %s: unknown instrument %s, rejecting %s", e.cfg.VenueID, intent.InstrumentID, intent.ClientOrderID)
		e.emitRejected(&order{intent: intent}, "unknown instrument "+intent.InstrumentID, e.nowNanos())
		return
	}
	if intent.Symbol == "" {
		intent.Symbol = inst.Symbol
	}

	// Hedge mode: remember which side of the book this order means to open
	// so the first fill can be attributed to the right position.
	if e.cfg.HedgeMode && intent.PositionID == "" {
		if intent.Side == common.SideBuy {
			intent.PositionSide = common.PositionLong
		} else {
			intent.PositionSide = common.PositionShort
		}
		if e.positions != nil {
			e.positions.NoteIntent(intent.ClientOrderID, intent.Side)
		}
	}

	o := &order{intent: intent, instrument: inst, status: StatusInitiated, seenExecIDs: make(map[string]bool)}
	e.orders[intent.ClientOrderID] = o

	o.setStatus(StatusSubmitted)
	e.bus.Publish(events.TopicOrderSubmitted, events.OrderSubmitted{
		OrderMeta:   e.meta(o, e.nowNanos()),
		Side:        intent.Side,
		OrderType:   intent.Type,
		Qty:         intent.Qty,
		Price:       intent.Price,
		TimeInForce: intent.TimeInForce,
	})
	if e.metrics != nil {
		e.metrics.IncrementSubmitted()
	}

	go func() {
		timer := monitor.NewTimer(e.controlHistogram())
		ack, err := e.control.NewOrder(ctx, intent)
		timer.Stop()
		if err == nil && e.cfg.MirrorOrders && e.mirror != nil {
			if merr := e.mirror.MirrorNewOrder(ctx, intent); merr != nil {
				log.Printf("engine %s: order mirror failed for %s: %v", e.cfg.VenueID, intent.ClientOrderID, merr)
			}
		}
		_ = e.enqueue(ctx, submitAckMsg{clientOrderID: intent.ClientOrderID, ack: ack, err: err})
	}()
}

func (e *Engine) handleSubmitAck(ctx context.Context, msg submitAckMsg) {
	o, ok := e.orders[msg.clientOrderID]
	if !ok {
		log.Printf("engine %s: submit ack for unknown order %s", e.cfg.VenueID, msg.clientOrderID)
		return
	}

	switch {
	case msg.err == nil:
		e.applyAccepted(ctx, o, msg.ack.VenueOrderID, e.nowNanos())
	default:
		if ve, typed := common.AsVenueError(msg.err); typed {
			e.rejectOrder(o, ve.Message)
			return
		}
		// Transport failure: the venue may still have the order. Never
		// assume rejection; verify through the control channel.
		log.Printf("engine %s: submit %s failed ambiguously (%v), verifying order status",
			e.cfg.VenueID, o.intent.ClientOrderID, msg.err)
		go func() {
			report, err := e.control.GetOrder(ctx, o.intent.Symbol, o.intent.ClientOrderID)
			_ = e.enqueue(ctx, verifyResultMsg{clientOrderID: o.intent.ClientOrderID, report: report, err: err})
		}()
	}
}

func (e *Engine) handleVerifyResult(msg verifyResultMsg) {
	o, ok := e.orders[msg.clientOrderID]
	if !ok {
		log.Printf("engine %s: verify result for unknown order %s", e.cfg.VenueID, msg.clientOrderID)
		return
	}
	if msg.err != nil {
		reason := msg.err.Error()
		if ve, typed := common.AsVenueError(msg.err); typed {
			reason = ve.Message
		}
		e.rejectOrder(o, reason)
		return
	}
	// The venue knows the order: it went through after all.
	e.applyAccepted(context.Background(), o, msg.report.VenueOrderID, e.nowNanos())
}

func (e *Engine) rejectOrder(o *order, reason string) {
	if o.status.IsTerminal() {
		log.Printf("engine %s: dropping rejection for terminal order %s", e.cfg.VenueID, o.intent.ClientOrderID)
		return
	}
	if !o.setStatus(StatusRejected) {
		log.Printf("engine %s: illegal transition %s -> REJECTED for %s", e.cfg.VenueID, o.status, o.intent.ClientOrderID)
		return
	}
	e.emitRejected(o, reason, e.nowNanos())
	e.evictPosition(o)
}

func (e *Engine) handleCancel(ctx context.Context, msg cancelMsg) {
	o, ok := e.orders[msg.clientOrderID]
	if !ok {
		msg.reply <- fmt.Errorf("cancel: unknown order %s", msg.clientOrderID)
		return
	}
	if o.status.IsTerminal() {
		msg.reply <- fmt.Errorf("cancel: order %s already %s", msg.clientOrderID, o.status)
		return
	}
	msg.reply <- nil

	if o.venueOrderID == "" {
		// Submit still in flight: sequence the cancel after acceptance.
		o.cancelQueued = true
		return
	}
	e.startCancel(ctx, o)
}

// startCancel emits the pending-cancel event strictly before the control call
// leaves, so a cancel acknowledgement can never be observed without the
// pending state.
func (e *Engine) startCancel(ctx context.Context, o *order) {
	prior := o.status
	if !o.setStatus(StatusPendingCancel) {
		log.Printf("engine %s: illegal transition %s -> PENDING_CANCEL for %s", e.cfg.VenueID, o.status, o.intent.ClientOrderID)
		return
	}
	o.preCancel = prior
	e.bus.Publish(events.TopicOrderPendingCancel, events.OrderPendingCancel{OrderMeta: e.meta(o, e.nowNanos())})

	symbol, clientOrderID := o.intent.Symbol, o.intent.ClientOrderID
	go func() {
		timer := monitor.NewTimer(e.controlHistogram())
		err := e.control.CancelOrder(ctx, symbol, clientOrderID)
		timer.Stop()
		if err == nil && e.cfg.MirrorOrders && e.mirror != nil {
			if merr := e.mirror.MirrorCancelOrder(ctx, symbol, clientOrderID); merr != nil {
				log.Printf("engine %s: cancel mirror failed for %s: %v", e.cfg.VenueID, clientOrderID, merr)
			}
		}
		_ = e.enqueue(ctx, cancelAckMsg{clientOrderID: clientOrderID, err: err})
	}()
}

func (e *Engine) handleCancelAck(msg cancelAckMsg) {
	if msg.err == nil {
		// The canceled event arrives on the push feed; nothing to do here.
		return
	}
	o, ok := e.orders[msg.clientOrderID]
	if !ok {
		return
	}
	reason := msg.err.Error()
	if ve, typed := common.AsVenueError(msg.err); typed {
		reason = ve.Message
	}
	e.cancelRejected(o, reason, e.nowNanos())
}

func (e *Engine) cancelRejected(o *order, reason string, ts int64) {
	if o.status.IsTerminal() {
		// The order finished before the cancel call resolved; the rejection
		// carries no information about a terminal order.
		log.Printf("engine %s: dropping cancel rejection for terminal order %s (%s)",
			e.cfg.VenueID, o.intent.ClientOrderID, o.status)
		return
	}
	if o.status == StatusPendingCancel {
		restored := o.preCancel
		if restored == "" {
			restored = StatusAccepted
		}
		if restored == StatusAccepted && o.filled.IsPositive() {
			// A fill landed while the cancel was pending.
			restored = StatusPartiallyFilled
		}
		// The order stays live in its pre-cancel state.
		o.status = restored
	}
	e.bus.Publish(events.TopicOrderCancelRejected, events.OrderCancelRejected{
		OrderMeta: e.meta(o, ts),
		Reason:    reason,
	})
}

func (e *Engine) handleCancelAll(ctx context.Context, msg cancelAllMsg) {
	var symbol string
	for _, o := range e.orders {
		if o.intent.InstrumentID != msg.instrumentID || o.status.IsTerminal() {
			continue
		}
		symbol = o.intent.Symbol
		if o.status == StatusPendingCancel {
			continue
		}
		if o.venueOrderID == "" {
			o.cancelQueued = true
			continue
		}
		prior := o.status
		if o.setStatus(StatusPendingCancel) {
			o.preCancel = prior
			e.bus.Publish(events.TopicOrderPendingCancel, events.OrderPendingCancel{OrderMeta: e.meta(o, e.nowNanos())})
		}
	}
	if symbol == "" {
		if inst, ok := e.provider.Get(msg.instrumentID); ok {
			symbol = inst.Symbol
		} else {
			return
		}
	}
	go func(symbol string) {
		if err := e.control.CancelAllOrders(ctx, symbol); err != nil {
			log.Printf("engine %s: cancel all %s failed: %v", e.cfg.VenueID, symbol, err)
		}
	}(symbol)
}

// ---- push event application ----------------------------------------------

func (e *Engine) handleVenueUpdate(upd common.OrderUpdate) {
	o := e.resolveOrder(upd)
	if o == nil {
		// A push can race ahead of the local submit round trip for orders
		// this engine never placed; that is expected, not an error.
		log.Printf("engine %s: dropping %s update for unknown order (venue id %q, client id %q)",
			e.cfg.VenueID, upd.Kind, upd.VenueOrderID, upd.ClientOrderID)
		return
	}
	if o.status.IsTerminal() {
		log.Printf("engine %s: dropping %s update for terminal order %s (%s)",
			e.cfg.VenueID, upd.Kind, o.intent.ClientOrderID, o.status)
		return
	}

	ts := upd.TsEvent
	if ts == 0 {
		ts = e.nowNanos()
	}

	switch upd.Kind {
	case common.UpdateAccepted:
		if o.status != StatusSubmitted {
			// Acceptance for an order already accepted, filling or in
			// pending-cancel carries no information.
			return
		}
		e.applyAccepted(context.Background(), o, upd.VenueOrderID, ts)
	case common.UpdateFilled:
		e.applyFill(o, upd, ts)
	case common.UpdatePendingCancel:
		if o.status == StatusPendingCancel {
			return
		}
		prior := o.status
		if o.setStatus(StatusPendingCancel) {
			o.preCancel = prior
			e.bus.Publish(events.TopicOrderPendingCancel, events.OrderPendingCancel{OrderMeta: e.meta(o, ts)})
		}
	case common.UpdateCanceled:
		// Venues may cancel without ever pushing an explicit accept.
		if o.status == StatusSubmitted {
			e.applyAccepted(context.Background(), o, upd.VenueOrderID, ts)
		}
		if !o.setStatus(StatusCanceled) {
			log.Printf("engine %s: illegal transition %s -> CANCELED for %s", e.cfg.VenueID, o.status, o.intent.ClientOrderID)
			return
		}
		e.bus.Publish(events.TopicOrderCanceled, events.OrderCanceled{OrderMeta: e.meta(o, ts)})
		e.evictPosition(o)
	case common.UpdateCancelRejected:
		reason := upd.Reason
		if reason == "" {
			reason = "cancel rejected by venue"
		}
		e.cancelRejected(o, reason, ts)
	}
}

func (e *Engine) resolveOrder(upd common.OrderUpdate) *order {
	if upd.ClientOrderID != "" {
		if o, ok := e.orders[upd.ClientOrderID]; ok {
			return o
		}
	}
	if upd.VenueOrderID != "" {
		if cid, ok := e.byVenueID[upd.VenueOrderID]; ok {
			return e.orders[cid]
		}
	}
	return nil
}

func (e *Engine) applyAccepted(ctx context.Context, o *order, venueOrderID string, ts int64) {
	if o.status.IsTerminal() || o.status == StatusPendingCancel {
		log.Printf("engine %s: dropping accept for %s in state %s", e.cfg.VenueID, o.intent.ClientOrderID, o.status)
		return
	}
	if venueOrderID != "" {
		if o.venueOrderID == "" {
			o.venueOrderID = venueOrderID
			e.byVenueID[venueOrderID] = o.intent.ClientOrderID
		} else if o.venueOrderID != venueOrderID {
			// Venue order id is immutable once assigned; keep the first.
			log.Printf("engine %s: conflicting venue order ids for %s: %s vs %s",
				e.cfg.VenueID, o.intent.ClientOrderID, o.venueOrderID, venueOrderID)
		}
	}
	if o.status == StatusSubmitted {
		o.setStatus(StatusAccepted)
		e.bus.Publish(events.TopicOrderAccepted, events.OrderAccepted{OrderMeta: e.meta(o, ts)})
	}
	if o.cancelQueued && o.venueOrderID != "" {
		o.cancelQueued = false
		e.startCancel(ctx, o)
	}
}

func (e *Engine) applyFill(o *order, upd common.OrderUpdate, ts int64) {
	// An order can fill straight out of SUBMITTED when the accept push was
	// lost or is still in flight; synthesize the acceptance first.
	if o.status == StatusSubmitted {
		e.applyAccepted(context.Background(), o, upd.VenueOrderID, ts)
	}

	venueID := o.venueOrderID
	if venueID == "" {
		venueID = upd.VenueOrderID
	}

	var lastQty decimal.Decimal
	if upd.Cumulative {
		// Reconstruct the increment from the cumulative total; a repeated
		// push shows no growth and is dropped.
		prev := e.lastFilled[venueID]
		lastQty = upd.Qty.Sub(prev)
		if !lastQty.IsPositive() {
			log.Printf("engine %s: duplicate fill push for %s (cumulative %s), dropping",
				e.cfg.VenueID, o.intent.ClientOrderID, upd.Qty)
			return
		}
		e.lastFilled[venueID] = upd.Qty
	} else {
		if upd.ExecutionID != "" && o.seenExecIDs[upd.ExecutionID] {
			log.Printf("engine %s: duplicate execution %s for %s, dropping",
				e.cfg.VenueID, upd.ExecutionID, o.intent.ClientOrderID)
			return
		}
		lastQty = upd.Qty
		if upd.ExecutionID != "" {
			o.seenExecIDs[upd.ExecutionID] = true
		}
		e.lastFilled[venueID] = e.lastFilled[venueID].Add(lastQty)
	}

	ordType := upd.OrderType
	if ordType == "" {
		ordType = o.intent.Type
	}

	commission := upd.Commission
	liquidity := upd.Liquidity
	approx := false
	if commission.IsZero() && liquidity == "" {
		commission, liquidity = e.fees.Commission(o.instrument, ordType, lastQty, upd.Price)
		approx = true
	}

	venuePositionID := o.intent.PositionID
	if venuePositionID == "" && e.cfg.HedgeMode && e.positions != nil {
		venuePositionID = e.positions.Attribute(o.intent.ClientOrderID, o.intent.InstrumentID, o.intent.StrategyID)
	}

	o.filled = o.filled.Add(lastQty)
	if o.fullyFilled() {
		if !o.setStatus(StatusFilled) {
			log.Printf("engine %s: illegal transition %s -> FILLED for %s", e.cfg.VenueID, o.status, o.intent.ClientOrderID)
			return
		}
	} else if o.status == StatusAccepted {
		o.setStatus(StatusPartiallyFilled)
	}

	e.bus.Publish(events.TopicOrderFilled, events.OrderFilled{
		OrderMeta:        e.meta(o, ts),
		ExecutionID:      upd.ExecutionID,
		VenuePositionID:  venuePositionID,
		Side:             o.intent.Side,
		LastQty:          lastQty,
		LastPx:           upd.Price,
		Liquidity:        liquidity,
		Commission:       commission,
		CommissionCcy:    o.instrument.QuoteCurrency,
		CommissionApprox: approx,
	})

	if e.metrics != nil {
		e.metrics.IncrementFilled()
	}

	if o.status.IsTerminal() {
		e.evictPosition(o)
	}
}

func (e *Engine) evictPosition(o *order) {
	if e.positions != nil {
		e.positions.Evict(o.intent.ClientOrderID)
	}
}

func (e *Engine) meta(o *order, ts int64) events.OrderMeta {
	return events.OrderMeta{
		VenueID:       e.cfg.VenueID,
		StrategyID:    o.intent.StrategyID,
		InstrumentID:  o.intent.InstrumentID,
		ClientOrderID: o.intent.ClientOrderID,
		VenueOrderID:  o.venueOrderID,
		TsEvent:       ts,
	}
}

func (e *Engine) emitRejected(o *order, reason string, ts int64) {
	e.bus.Publish(events.TopicOrderRejected, events.OrderRejected{
		OrderMeta: e.meta(o, ts),
		Reason:    reason,
	})
	if e.metrics != nil {
		e.metrics.IncrementRejected()
	}
}

// controlHistogram returns the control-call latency histogram, or nil when
// metrics are not wired; a nil histogram makes Timer a no-op.
func (e *Engine) controlHistogram() *monitor.LatencyHistogram {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.ControlLatency
}
