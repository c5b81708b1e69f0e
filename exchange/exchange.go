// Package exchange defines the contract trailguard expects from a derivatives
// exchange: position and order snapshots in, order mutations out, and a
// closed set of classified errors.
package exchange

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Client is the exchange collaborator consumed by the risk engine. Every call
// is fallible and bounded by the implementation's own request timeout.
type Client interface {
	LoadMarkets(ctx context.Context) (map[string]Market, error)
	FetchPositions(ctx context.Context, symbols []string) ([]Position, error)
	FetchBalance(ctx context.Context) (Balance, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	FetchOrder(ctx context.Context, id, symbol string) (Order, error)
	CancelOrder(ctx context.Context, id, symbol string, params CancelParams) error
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
}

// Side is the direction of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Valid reports whether s is long or short.
func (s Side) Valid() bool { return s == Long || s == Short }

// Opening is the order side that adds exposure to a position on s.
func (s Side) Opening() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// Closing is the order side that reduces a position on s.
func (s Side) Closing() OrderSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// ParseSide accepts long/short as well as the buy/sell spellings some venues
// use for position sides.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, true
	case "short", "sell":
		return Short, true
	}
	return "", false
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

type OrderType string

const (
	MarketOrder OrderType = "market"
	Limit       OrderType = "limit"
	Stop        OrderType = "stop"
)

type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusFilled   OrderStatus = "filled"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
)

// Done reports whether the order executed (filled or closed).
func (s OrderStatus) Done() bool { return s == StatusFilled || s == StatusClosed }

type MarginMode string

const (
	Isolated MarginMode = "isolated"
	Cross    MarginMode = "cross"
)

// TriggerBy selects the price a conditional order watches.
type TriggerBy string

const (
	TriggerLastPrice  TriggerBy = "last"
	TriggerMarkPrice  TriggerBy = "mark"
	TriggerIndexPrice TriggerBy = "index"
)

// TriggerDirection tells the exchange whether the trigger fires when the
// price rises to or falls to the trigger price.
type TriggerDirection int

const (
	TriggerNone TriggerDirection = iota
	TriggerRising
	TriggerFalling
)

type TimeInForce string

const (
	GoodTillCancel    TimeInForce = "GTC"
	ImmediateOrCancel TimeInForce = "IOC"
)

// Market is the instrument metadata needed to size and price orders.
type Market struct {
	Symbol          string
	Base            string
	Quote           string
	Settle          string
	AmountIncrement float64 // lot size step
	PriceIncrement  float64 // tick size
	MinAmount       float64
	Active          bool
}

// Decimals is the number of fractional digits an increment such as 0.1,
// 0.025 or 5 allows. It is -1 for a non-positive increment.
func Decimals(inc float64) int {
	if inc <= 0 {
		return -1
	}
	s := strconv.FormatFloat(inc, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// FormatStep renders v with exactly the digits inc allows, so binary
// rounding noise like 102.30000000000001 goes out as "102.3". Without an
// increment v is rendered in its shortest form.
func FormatStep(v, inc float64) string {
	d := Decimals(inc)
	if d < 0 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', d, 64)
}

// Position is a read-only snapshot of one open position. Absent numeric
// fields are zero.
type Position struct {
	Symbol           string
	Side             Side
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	Contracts        float64
	Leverage         float64
	Notional         float64
	UnrealizedPnl    float64
	RealizedPnl      float64
}

// PnL is the combined unrealized and realized profit of the position.
func (p Position) PnL() float64 { return p.UnrealizedPnl + p.RealizedPnl }

type Balance struct {
	Currency  string
	Total     float64
	Free      float64
	Used      float64
	UpdatedAt time.Time
}

type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Type          OrderType
	Side          OrderSide
	Status        OrderStatus
	Amount        float64
	Filled        float64
	Price         float64
	TriggerPrice  float64
	ReduceOnly    bool
	PositionSide  Side
	CreatedAt     time.Time
}

// OrderRequest carries everything needed to place an order. PositionSide is
// the hedge-mode tag; leave it empty for one-way accounts.
type OrderRequest struct {
	Symbol           string
	Type             OrderType
	Side             OrderSide
	Amount           float64
	Price            float64
	MarginMode       MarginMode
	PositionSide     Side
	TriggerPrice     float64
	TriggerBy        TriggerBy
	TriggerDirection TriggerDirection
	ReduceOnly       bool
	CloseOnTrigger   bool
	TimeInForce      TimeInForce
	ClientOrderID    string
}

// CancelParams optionally tags a cancel with the position side, which some
// venues demand for hedge-mode accounts.
type CancelParams struct {
	PositionSide Side
}

// SafeSymbol returns a filesystem-safe encoding of a unified symbol such as
// "BTC/USDT:USDT".
func SafeSymbol(symbol string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(symbol)
}
