package bybit

import (
	"context"
	"net/url"

	"github.com/rustyeddy/trailguard/exchange"
)

// positionIdx values: 0 one-way, 1 hedge long, 2 hedge short.
const (
	idxOneWay = 0
	idxLong   = 1
	idxShort  = 2
)

type positionRow struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Size           string `json:"size"`
	AvgPrice       string `json:"avgPrice"`
	MarkPrice      string `json:"markPrice"`
	LiqPrice       string `json:"liqPrice"`
	Leverage       string `json:"leverage"`
	PositionValue  string `json:"positionValue"`
	UnrealisedPnl  string `json:"unrealisedPnl"`
	CurRealisedPnl string `json:"curRealisedPnl"`
	PositionIdx    int    `json:"positionIdx"`
}

func (r positionRow) side() (exchange.Side, bool) {
	switch r.PositionIdx {
	case idxLong:
		return exchange.Long, true
	case idxShort:
		return exchange.Short, true
	}
	return exchange.ParseSide(r.Side)
}

// FetchPositions lists open positions. A single symbol is queried directly;
// otherwise everything settled in the configured coin is listed and filtered.
func (c *Client) FetchPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	var out []exchange.Position
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", c.cfg.Category)
		params.Set("limit", "200")
		if len(symbols) == 1 {
			params.Set("symbol", symbols[0])
		} else {
			params.Set("settleCoin", c.cfg.SettleCoin)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var res struct {
			List           []positionRow `json:"list"`
			NextPageCursor string        `json:"nextPageCursor"`
		}
		if err := c.get(ctx, "fetch_positions", "/v5/position/list", params, true, &res); err != nil {
			return nil, err
		}

		for _, r := range res.List {
			size := num(r.Size)
			if size == 0 {
				continue
			}
			if len(want) > 0 && !want[r.Symbol] {
				continue
			}
			side, ok := r.side()
			if !ok {
				c.logger.Warn("position without side", "symbol", r.Symbol, "idx", r.PositionIdx)
				continue
			}
			out = append(out, exchange.Position{
				Symbol:           r.Symbol,
				Side:             side,
				EntryPrice:       num(r.AvgPrice),
				MarkPrice:        num(r.MarkPrice),
				LiquidationPrice: num(r.LiqPrice),
				Contracts:        size,
				Leverage:         num(r.Leverage),
				Notional:         num(r.PositionValue),
				UnrealizedPnl:    num(r.UnrealisedPnl),
				RealizedPnl:      num(r.CurRealisedPnl),
			})
		}

		if res.NextPageCursor == "" || res.NextPageCursor == cursor || len(res.List) == 0 {
			break
		}
		cursor = res.NextPageCursor
	}
	return out, nil
}
