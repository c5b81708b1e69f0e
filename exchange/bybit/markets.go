package bybit

import (
	"context"
	"net/url"

	"github.com/rustyeddy/trailguard/exchange"
)

type instrument struct {
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	SettleCoin    string `json:"settleCoin"`
	LotSizeFilter struct {
		QtyStep     string `json:"qtyStep"`
		MinOrderQty string `json:"minOrderQty"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

// LoadMarkets pages through instruments-info for the configured category.
func (c *Client) LoadMarkets(ctx context.Context) (map[string]exchange.Market, error) {
	out := make(map[string]exchange.Market)
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", c.cfg.Category)
		params.Set("limit", "1000")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var res struct {
			List           []instrument `json:"list"`
			NextPageCursor string       `json:"nextPageCursor"`
		}
		if err := c.get(ctx, "load_markets", "/v5/market/instruments-info", params, false, &res); err != nil {
			return nil, err
		}
		for _, in := range res.List {
			out[in.Symbol] = exchange.Market{
				Symbol:          in.Symbol,
				Base:            in.BaseCoin,
				Quote:           in.QuoteCoin,
				Settle:          in.SettleCoin,
				AmountIncrement: num(in.LotSizeFilter.QtyStep),
				PriceIncrement:  num(in.PriceFilter.TickSize),
				MinAmount:       num(in.LotSizeFilter.MinOrderQty),
				Active:          in.Status == "Trading",
			}
		}
		if res.NextPageCursor == "" || res.NextPageCursor == cursor || len(res.List) == 0 {
			break
		}
		cursor = res.NextPageCursor
	}
	c.rememberSteps(out)
	return out, nil
}

// FetchBalance reports the settle coin of the unified account.
func (c *Client) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", c.cfg.SettleCoin)

	var res struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				Equity          string `json:"equity"`
				WalletBalance   string `json:"walletBalance"`
				TotalPositionIM string `json:"totalPositionIM"`
				TotalOrderIM    string `json:"totalOrderIM"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := c.get(ctx, "fetch_balance", "/v5/account/wallet-balance", params, true, &res); err != nil {
		return exchange.Balance{}, err
	}

	bal := exchange.Balance{Currency: c.cfg.SettleCoin, UpdatedAt: c.cfg.Now().UTC()}
	for _, acct := range res.List {
		for _, coin := range acct.Coin {
			if coin.Coin != c.cfg.SettleCoin {
				continue
			}
			bal.Total = num(coin.Equity)
			if bal.Total == 0 {
				bal.Total = num(coin.WalletBalance)
			}
			bal.Used = num(coin.TotalPositionIM) + num(coin.TotalOrderIM)
			bal.Free = bal.Total - bal.Used
			return bal, nil
		}
	}
	return bal, nil
}
