// Package paper is an in-memory derivatives venue. It implements
// exchange.Client so the risk engine can run end to end without an account:
// marks are pushed in with SetMark, which fires conditional orders and
// liquidations.
package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/internal/id"
)

// Mode is the account's position mode.
type Mode string

const (
	// Hedge keeps long and short positions on a symbol apart. Orders must
	// name the position side.
	Hedge Mode = "hedge"
	// OneWay nets a symbol into a single position. Orders must not name a
	// position side.
	OneWay Mode = "one_way"
)

// DefaultMaintenanceMargin is the maintenance margin rate used when Config
// leaves it zero.
const DefaultMaintenanceMargin = 0.005

type Config struct {
	Mode              Mode
	Currency          string
	Balance           float64
	MaintenanceMargin float64

	// CancelNeedsPositionSide makes hedge-mode cancels without a position
	// side fail with KindPositionModeMismatch.
	CancelNeedsPositionSide bool

	Now func() time.Time
}

type posKey struct {
	symbol string
	side   exchange.Side
}

type position struct {
	contracts float64
	entry     float64
	leverage  float64
	realized  float64
}

type order struct {
	exchange.Order
	direction exchange.TriggerDirection
}

// Exchange is safe for concurrent use.
type Exchange struct {
	mu        sync.Mutex
	cfg       Config
	balance   float64
	markets   map[string]exchange.Market
	marks     map[string]float64
	positions map[posKey]*position
	orders    map[string]*order
	leverage  map[string]float64
	failures  map[string][]error
}

var _ exchange.Client = (*Exchange)(nil)

func New(cfg Config) *Exchange {
	if cfg.Mode == "" {
		cfg.Mode = Hedge
	}
	if cfg.Currency == "" {
		cfg.Currency = "USDT"
	}
	if cfg.MaintenanceMargin <= 0 {
		cfg.MaintenanceMargin = DefaultMaintenanceMargin
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Exchange{
		cfg:       cfg,
		balance:   cfg.Balance,
		markets:   make(map[string]exchange.Market),
		marks:     make(map[string]float64),
		positions: make(map[posKey]*position),
		orders:    make(map[string]*order),
		leverage:  make(map[string]float64),
		failures:  make(map[string][]error),
	}
}

// Mode returns the configured position mode.
func (e *Exchange) Mode() Mode { return e.cfg.Mode }

// AddMarket registers instrument metadata.
func (e *Exchange) AddMarket(m exchange.Market) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m.Active = true
	e.markets[m.Symbol] = m
}

// SetLeverage sets the leverage applied to positions opened on symbol by
// later market orders.
func (e *Exchange) SetLeverage(symbol string, leverage float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[symbol] = leverage
}

// Mark returns the last mark for symbol.
func (e *Exchange) Mark(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.marks[symbol]
	return p, ok
}

// FailNext queues err to be returned by the next call of op, where op is one
// of the operation names used in classified errors ("create_order",
// "cancel_order", "fetch_order", "fetch_open_orders", "fetch_positions",
// "fetch_balance", "load_markets").
func (e *Exchange) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = append(e.failures[op], err)
}

func (e *Exchange) injectedLocked(op string) error {
	q := e.failures[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	e.failures[op] = q[1:]
	return err
}

// OpenPosition seeds a position directly, bypassing order placement. A mark
// equal to entry is set if the symbol has none.
func (e *Exchange) OpenPosition(symbol string, side exchange.Side, contracts, entry, leverage float64) error {
	if !side.Valid() {
		return fmt.Errorf("paper: invalid side %q", side)
	}
	if contracts <= 0 || entry <= 0 {
		return fmt.Errorf("paper: contracts and entry must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Mode == OneWay {
		if _, ok := e.positions[posKey{symbol, opposite(side)}]; ok {
			return fmt.Errorf("paper: one-way account already holds %s %s", symbol, opposite(side))
		}
	}
	k := posKey{symbol, side}
	if p, ok := e.positions[k]; ok {
		p.entry = (p.entry*p.contracts + entry*contracts) / (p.contracts + contracts)
		p.contracts += contracts
		if leverage > 0 {
			p.leverage = leverage
		}
	} else {
		e.positions[k] = &position{contracts: contracts, entry: entry, leverage: normLeverage(leverage)}
	}
	if _, ok := e.marks[symbol]; !ok {
		e.marks[symbol] = entry
	}
	return nil
}

// SetMark publishes a new mark price for symbol. Conditional orders whose
// trigger is crossed are filled, then positions beyond their liquidation
// price are closed. The resulting events are returned in order.
func (e *Exchange) SetMark(symbol string, price float64) ([]Event, error) {
	if price <= 0 {
		return nil, fmt.Errorf("paper: mark must be positive, got %v", price)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.marks[symbol] = price
	var events []Event

	for _, o := range e.sortedOrdersLocked(symbol) {
		if o.Status != exchange.StatusOpen || o.Type != exchange.Stop {
			continue
		}
		if !hitTrigger(o.direction, o.TriggerPrice, price) {
			continue
		}
		ev, ok := e.fillLocked(o, price)
		if ok {
			events = append(events, ev)
		} else {
			o.Status = exchange.StatusCanceled
			events = append(events, Event{Kind: EventStopCanceled, Symbol: symbol, Side: o.PositionSide, OrderID: o.ID, Price: price})
		}
	}

	for _, side := range []exchange.Side{exchange.Long, exchange.Short} {
		k := posKey{symbol, side}
		p, ok := e.positions[k]
		if !ok {
			continue
		}
		liq := liquidationPrice(side, p.entry, p.leverage, e.cfg.MaintenanceMargin)
		if !hitLiquidation(side, liq, price) {
			continue
		}
		amount := p.contracts
		e.reduceLocked(k, p, amount, liq)
		e.cancelReduceOnlyLocked(symbol, side)
		events = append(events, Event{Kind: EventLiquidated, Symbol: symbol, Side: side, Price: liq, Amount: amount})
	}
	return events, nil
}

func (e *Exchange) LoadMarkets(ctx context.Context) (map[string]exchange.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked("load_markets"); err != nil {
		return nil, err
	}
	out := make(map[string]exchange.Market, len(e.markets))
	for k, m := range e.markets {
		out[k] = m
	}
	return out, nil
}

func (e *Exchange) FetchPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked("fetch_positions"); err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	out := make([]exchange.Position, 0, len(e.positions))
	for k, p := range e.positions {
		if len(want) > 0 && !want[k.symbol] {
			continue
		}
		out = append(out, e.snapshotLocked(k, p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Side < out[j].Side
	})
	return out, nil
}

func (e *Exchange) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked("fetch_balance"); err != nil {
		return exchange.Balance{}, err
	}

	var upnl, used float64
	for k, p := range e.positions {
		s := e.snapshotLocked(k, p)
		upnl += s.UnrealizedPnl
		used += p.contracts * p.entry / p.leverage
	}
	total := e.balance + upnl
	return exchange.Balance{
		Currency:  e.cfg.Currency,
		Total:     total,
		Free:      total - used,
		Used:      used,
		UpdatedAt: e.cfg.Now(),
	}, nil
}

func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked("fetch_open_orders"); err != nil {
		return nil, err
	}
	var out []exchange.Order
	for _, o := range e.sortedOrdersLocked(symbol) {
		if o.Status == exchange.StatusOpen {
			out = append(out, o.Order)
		}
	}
	return out, nil
}

func (e *Exchange) FetchOrder(ctx context.Context, orderID, symbol string) (exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked("fetch_order"); err != nil {
		return exchange.Order{}, err
	}
	o, ok := e.orders[orderID]
	if !ok || (symbol != "" && o.Symbol != symbol) {
		return exchange.Order{}, exchange.NewError(exchange.KindNotFound, "fetch_order", "order "+orderID+" does not exist")
	}
	return o.Order, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, orderID, symbol string, params exchange.CancelParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked("cancel_order"); err != nil {
		return err
	}

	if e.cfg.Mode == Hedge && e.cfg.CancelNeedsPositionSide && params.PositionSide == "" {
		return exchange.NewError(exchange.KindPositionModeMismatch, "cancel_order", "position side required in hedge mode")
	}
	if e.cfg.Mode == OneWay && params.PositionSide != "" {
		return exchange.NewError(exchange.KindPositionModeMismatch, "cancel_order", "position side not allowed in one-way mode")
	}

	o, ok := e.orders[orderID]
	if !ok || (symbol != "" && o.Symbol != symbol) || o.Status != exchange.StatusOpen {
		return exchange.NewError(exchange.KindNotFound, "cancel_order", "order "+orderID+" not exists or too late to cancel")
	}
	o.Status = exchange.StatusCanceled
	return nil
}

func (e *Exchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injectedLocked("create_order"); err != nil {
		return exchange.Order{}, err
	}

	const op = "create_order"
	if err := e.checkModeLocked(req); err != nil {
		return exchange.Order{}, err
	}
	if req.Amount <= 0 {
		return exchange.Order{}, exchange.NewError(exchange.KindRejected, op, "amount must be positive")
	}
	if m, ok := e.markets[req.Symbol]; ok && m.MinAmount > 0 && req.Amount < m.MinAmount {
		return exchange.Order{}, exchange.NewError(exchange.KindRejected, op,
			fmt.Sprintf("amount %v below minimum %v", req.Amount, m.MinAmount))
	}
	mark, ok := e.marks[req.Symbol]
	if !ok {
		return exchange.Order{}, exchange.NewError(exchange.KindRejected, op, "no mark price for "+req.Symbol)
	}

	posSide := e.targetSideLocked(req)
	if req.ReduceOnly {
		if _, ok := e.positions[posKey{req.Symbol, posSide}]; !ok {
			return exchange.Order{}, exchange.NewError(exchange.KindRejected, op, "reduce-only order without a position")
		}
	}

	o := &order{Order: exchange.Order{
		ID:            id.New(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Type:          req.Type,
		Side:          req.Side,
		Status:        exchange.StatusOpen,
		Amount:        req.Amount,
		Price:         req.Price,
		TriggerPrice:  req.TriggerPrice,
		ReduceOnly:    req.ReduceOnly,
		PositionSide:  posSide,
		CreatedAt:     e.cfg.Now(),
	}}

	switch req.Type {
	case exchange.MarketOrder:
		e.orders[o.ID] = o
		if _, ok := e.fillLocked(o, mark); !ok {
			o.Status = exchange.StatusCanceled
		}
	case exchange.Stop:
		if req.TriggerPrice <= 0 {
			return exchange.Order{}, exchange.NewError(exchange.KindRejected, op, "stop order needs a trigger price")
		}
		o.direction = req.TriggerDirection
		if o.direction == exchange.TriggerNone {
			o.direction = exchange.TriggerFalling
			if req.Side == exchange.Buy {
				o.direction = exchange.TriggerRising
			}
		}
		if hitTrigger(o.direction, req.TriggerPrice, mark) {
			return exchange.Order{}, exchange.NewError(exchange.KindRejected, op,
				fmt.Sprintf("trigger %v would fire immediately at mark %v", req.TriggerPrice, mark))
		}
		e.orders[o.ID] = o
	default:
		return exchange.Order{}, exchange.NewError(exchange.KindRejected, op, fmt.Sprintf("unsupported order type %q", req.Type))
	}
	return o.Order, nil
}

func (e *Exchange) checkModeLocked(req exchange.OrderRequest) error {
	switch e.cfg.Mode {
	case Hedge:
		if req.PositionSide == "" {
			return exchange.NewError(exchange.KindPositionModeMismatch, "create_order", "position idx not match position mode")
		}
	case OneWay:
		if req.PositionSide != "" {
			return exchange.NewError(exchange.KindPositionModeMismatch, "create_order", "position idx not match position mode")
		}
	}
	return nil
}

// targetSideLocked is the position an order adds to (or, if reduce-only,
// takes from).
func (e *Exchange) targetSideLocked(req exchange.OrderRequest) exchange.Side {
	if req.PositionSide != "" {
		return req.PositionSide
	}
	opens := exchange.Long
	if req.Side == exchange.Sell {
		opens = exchange.Short
	}
	if req.ReduceOnly {
		return opposite(opens)
	}
	return opens
}

// fillLocked executes o at price. It reports false when a reduce-only order
// has nothing left to reduce.
func (e *Exchange) fillLocked(o *order, price float64) (Event, bool) {
	side := o.PositionSide
	amount := o.Amount

	reducing := o.ReduceOnly || o.Side == side.Closing()
	if e.cfg.Mode == OneWay && !o.ReduceOnly {
		// netting: an opposite order eats into the existing position first
		if p, ok := e.positions[posKey{o.Symbol, opposite(side)}]; ok {
			cut := math.Min(amount, p.contracts)
			e.reduceLocked(posKey{o.Symbol, opposite(side)}, p, cut, price)
			amount -= cut
			reducing = false
		}
	}

	if reducing {
		k := posKey{o.Symbol, side}
		p, ok := e.positions[k]
		if !ok {
			return Event{}, false
		}
		amount = math.Min(amount, p.contracts)
		e.reduceLocked(k, p, amount, price)
		if _, still := e.positions[k]; !still {
			e.cancelReduceOnlyLocked(o.Symbol, side)
		}
	} else if amount > 0 {
		k := posKey{o.Symbol, side}
		if p, ok := e.positions[k]; ok {
			p.entry = (p.entry*p.contracts + price*amount) / (p.contracts + amount)
			p.contracts += amount
		} else {
			e.positions[k] = &position{contracts: amount, entry: price, leverage: normLeverage(e.leverage[o.Symbol])}
		}
	}

	o.Status = exchange.StatusFilled
	o.Filled = o.Amount
	o.Price = price

	kind := EventOrderFilled
	if o.Type == exchange.Stop {
		kind = EventStopFilled
	}
	return Event{Kind: kind, Symbol: o.Symbol, Side: side, OrderID: o.ID, Price: price, Amount: o.Amount}, true
}

func (e *Exchange) reduceLocked(k posKey, p *position, amount, price float64) {
	pnl := amount * (price - p.entry)
	if k.side == exchange.Short {
		pnl = -pnl
	}
	e.balance += pnl
	p.realized += pnl
	p.contracts -= amount
	if p.contracts <= 1e-12 {
		delete(e.positions, k)
	}
}

func (e *Exchange) cancelReduceOnlyLocked(symbol string, side exchange.Side) {
	for _, o := range e.orders {
		if o.Symbol == symbol && o.PositionSide == side && o.ReduceOnly && o.Status == exchange.StatusOpen {
			o.Status = exchange.StatusCanceled
		}
	}
}

func (e *Exchange) snapshotLocked(k posKey, p *position) exchange.Position {
	mark := e.marks[k.symbol]
	upnl := p.contracts * (mark - p.entry)
	if k.side == exchange.Short {
		upnl = -upnl
	}
	return exchange.Position{
		Symbol:           k.symbol,
		Side:             k.side,
		EntryPrice:       p.entry,
		MarkPrice:        mark,
		LiquidationPrice: liquidationPrice(k.side, p.entry, p.leverage, e.cfg.MaintenanceMargin),
		Contracts:        p.contracts,
		Leverage:         p.leverage,
		Notional:         p.contracts * mark,
		UnrealizedPnl:    upnl,
		RealizedPnl:      p.realized,
	}
}

// sortedOrdersLocked returns orders for symbol (all when empty) oldest first.
func (e *Exchange) sortedOrdersLocked(symbol string) []*order {
	out := make([]*order, 0, len(e.orders))
	for _, o := range e.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	// ULIDs sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func opposite(s exchange.Side) exchange.Side {
	if s == exchange.Long {
		return exchange.Short
	}
	return exchange.Long
}

func normLeverage(l float64) float64 {
	if l <= 0 {
		return 1
	}
	return l
}
