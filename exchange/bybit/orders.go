package bybit

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/internal/id"
)

type orderRow struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	StopOrderType string `json:"stopOrderType"`
	OrderStatus   string `json:"orderStatus"`
	Qty           string `json:"qty"`
	CumExecQty    string `json:"cumExecQty"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	TriggerPrice  string `json:"triggerPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	PositionIdx   int    `json:"positionIdx"`
	CreatedTime   string `json:"createdTime"`
}

func (r orderRow) toOrder() exchange.Order {
	o := exchange.Order{
		ID:            r.OrderID,
		ClientOrderID: r.OrderLinkID,
		Symbol:        r.Symbol,
		Status:        orderStatus(r.OrderStatus),
		Amount:        num(r.Qty),
		Filled:        num(r.CumExecQty),
		Price:         num(r.AvgPrice),
		TriggerPrice:  num(r.TriggerPrice),
		ReduceOnly:    r.ReduceOnly,
		CreatedAt:     millis(r.CreatedTime),
	}
	if o.Price == 0 {
		o.Price = num(r.Price)
	}
	switch r.Side {
	case "Buy":
		o.Side = exchange.Buy
	case "Sell":
		o.Side = exchange.Sell
	}
	switch {
	case o.TriggerPrice > 0 || r.StopOrderType != "":
		o.Type = exchange.Stop
	case r.OrderType == "Limit":
		o.Type = exchange.Limit
	default:
		o.Type = exchange.MarketOrder
	}
	switch r.PositionIdx {
	case idxLong:
		o.PositionSide = exchange.Long
	case idxShort:
		o.PositionSide = exchange.Short
	}
	return o
}

// orderStatus maps v5 statuses. Anything not terminal is treated as open.
func orderStatus(s string) exchange.OrderStatus {
	switch s {
	case "Filled":
		return exchange.StatusFilled
	case "Cancelled", "Deactivated", "Rejected", "PartiallyFilledCanceled":
		return exchange.StatusCanceled
	}
	return exchange.StatusOpen
}

type orderList struct {
	List           []orderRow `json:"list"`
	NextPageCursor string     `json:"nextPageCursor"`
}

// FetchOpenOrders lists active and untriggered conditional orders.
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	var out []exchange.Order
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", c.cfg.Category)
		params.Set("limit", "50")
		if symbol != "" {
			params.Set("symbol", symbol)
		} else {
			params.Set("settleCoin", c.cfg.SettleCoin)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var res orderList
		if err := c.get(ctx, "fetch_open_orders", "/v5/order/realtime", params, true, &res); err != nil {
			return nil, err
		}
		for _, r := range res.List {
			o := r.toOrder()
			if o.Status == exchange.StatusOpen {
				out = append(out, o)
			}
		}
		if res.NextPageCursor == "" || res.NextPageCursor == cursor || len(res.List) == 0 {
			break
		}
		cursor = res.NextPageCursor
	}
	return out, nil
}

// FetchOrder looks in the realtime book first and falls back to history,
// since orders leave the realtime endpoint shortly after they finish.
func (c *Client) FetchOrder(ctx context.Context, orderID, symbol string) (exchange.Order, error) {
	for _, endpoint := range []string{"/v5/order/realtime", "/v5/order/history"} {
		params := url.Values{}
		params.Set("category", c.cfg.Category)
		params.Set("orderId", orderID)
		if symbol != "" {
			params.Set("symbol", symbol)
		}

		var res orderList
		if err := c.get(ctx, "fetch_order", endpoint, params, true, &res); err != nil {
			return exchange.Order{}, err
		}
		for _, r := range res.List {
			if r.OrderID == orderID {
				return r.toOrder(), nil
			}
		}
	}
	return exchange.Order{}, exchange.NewError(exchange.KindNotFound, "fetch_order", "order "+orderID+" does not exist")
}

// CancelOrder cancels by id. The v5 cancel endpoint has no position index,
// so params.PositionSide is accepted and ignored.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string, params exchange.CancelParams) error {
	body := map[string]any{
		"category": c.cfg.Category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return c.post(ctx, "cancel_order", "/v5/order/cancel", body, nil)
}

// CreateOrder places market, limit and conditional (stop) orders. A stop is
// a conditional market order. Margin mode is account-level on Bybit and is
// not sent per order.
func (c *Client) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	body, err := c.orderBody(req)
	if err != nil {
		return exchange.Order{}, err
	}

	var res struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := c.post(ctx, "create_order", "/v5/order/create", body, &res); err != nil {
		return exchange.Order{}, err
	}

	return exchange.Order{
		ID:            res.OrderID,
		ClientOrderID: res.OrderLinkID,
		Symbol:        req.Symbol,
		Type:          req.Type,
		Side:          req.Side,
		Status:        exchange.StatusOpen,
		Amount:        req.Amount,
		Price:         req.Price,
		TriggerPrice:  req.TriggerPrice,
		ReduceOnly:    req.ReduceOnly,
		PositionSide:  req.PositionSide,
		CreatedAt:     c.cfg.Now().UTC(),
	}, nil
}

func (c *Client) orderBody(req exchange.OrderRequest) (map[string]any, error) {
	const op = "create_order"
	if req.Amount <= 0 {
		return nil, exchange.NewError(exchange.KindRejected, op, "amount must be positive")
	}

	step := c.stepsFor(req.Symbol)
	body := map[string]any{
		"category": c.cfg.Category,
		"symbol":   req.Symbol,
		"qty":      exchange.FormatStep(req.Amount, step.qty),
	}

	switch req.Side {
	case exchange.Buy:
		body["side"] = "Buy"
	case exchange.Sell:
		body["side"] = "Sell"
	default:
		return nil, exchange.NewError(exchange.KindRejected, op, fmt.Sprintf("invalid order side %q", req.Side))
	}

	switch req.Type {
	case exchange.MarketOrder, exchange.Stop:
		body["orderType"] = "Market"
	case exchange.Limit:
		if req.Price <= 0 {
			return nil, exchange.NewError(exchange.KindRejected, op, "limit order needs a price")
		}
		body["orderType"] = "Limit"
		body["price"] = exchange.FormatStep(req.Price, step.price)
	default:
		return nil, exchange.NewError(exchange.KindRejected, op, fmt.Sprintf("unsupported order type %q", req.Type))
	}

	switch req.PositionSide {
	case exchange.Long:
		body["positionIdx"] = idxLong
	case exchange.Short:
		body["positionIdx"] = idxShort
	case "":
		body["positionIdx"] = idxOneWay
	default:
		return nil, exchange.NewError(exchange.KindRejected, op, fmt.Sprintf("invalid position side %q", req.PositionSide))
	}

	if req.Type == exchange.Stop {
		if req.TriggerPrice <= 0 {
			return nil, exchange.NewError(exchange.KindRejected, op, "stop order needs a trigger price")
		}
		body["triggerPrice"] = exchange.FormatStep(req.TriggerPrice, step.price)
		body["triggerBy"] = triggerBy(req.TriggerBy)

		dir := req.TriggerDirection
		if dir == exchange.TriggerNone {
			// a sell stop protects a long and fires on the way down
			dir = exchange.TriggerFalling
			if req.Side == exchange.Buy {
				dir = exchange.TriggerRising
			}
		}
		if dir == exchange.TriggerRising {
			body["triggerDirection"] = 1
		} else {
			body["triggerDirection"] = 2
		}
	}

	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.CloseOnTrigger {
		body["closeOnTrigger"] = true
	}
	if req.TimeInForce != "" {
		body["timeInForce"] = string(req.TimeInForce)
	} else if req.Type != exchange.Limit {
		body["timeInForce"] = string(exchange.ImmediateOrCancel)
	}

	link := req.ClientOrderID
	if link == "" {
		link = id.ClientOrderID("tg")
	}
	body["orderLinkId"] = link
	return body, nil
}

func triggerBy(t exchange.TriggerBy) string {
	switch t {
	case exchange.TriggerMarkPrice:
		return "MarkPrice"
	case exchange.TriggerIndexPrice:
		return "IndexPrice"
	}
	return "LastPrice"
}
