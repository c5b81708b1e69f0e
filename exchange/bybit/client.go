// Package bybit adapts the Bybit v5 unified-account REST API (linear
// perpetuals) to exchange.Client.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rustyeddy/trailguard/exchange"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	MainnetURL = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"

	defaultRecvWindow = "5000"
	defaultTimeout    = 10 * time.Second
)

type Config struct {
	APIKey     string
	Secret     string
	BaseURL    string
	Category   string // "linear" unless set
	SettleCoin string // "USDT" unless set
	RecvWindow string
	Timeout    time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	steps map[string]steps // by symbol, filled by LoadMarkets
}

type steps struct {
	qty, price float64
}

var _ exchange.Client = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MainnetURL
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.SettleCoin == "" {
		cfg.SettleCoin = "USDT"
	}
	if cfg.RecvWindow == "" {
		cfg.RecvWindow = defaultRecvWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: hc, logger: logger.With("exchange", "bybit")}
}

// envelope is the common v5 response wrapper.
type envelope struct {
	RetCode int                 `json:"retCode"`
	RetMsg  string              `json:"retMsg"`
	Result  jsoniter.RawMessage `json:"result"`
}

// sign computes the v5 HMAC: timestamp + key + recvWindow + payload, where
// payload is the query string for GET and the raw body for POST.
func (c *Client) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(c.cfg.Secret))
	h.Write([]byte(timestamp + c.cfg.APIKey + c.cfg.RecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) get(ctx context.Context, op, endpoint string, params url.Values, signed bool, out any) error {
	return c.do(ctx, op, http.MethodGet, endpoint, params.Encode(), signed, out)
}

func (c *Client) post(ctx context.Context, op, endpoint string, body map[string]any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode body: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, endpoint, string(b), true, out)
}

func (c *Client) do(ctx context.Context, op, method, endpoint, payload string, signed bool, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqURL := c.cfg.BaseURL + endpoint
	var body io.Reader
	if method == http.MethodGet {
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		body = bytes.NewBufferString(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return &exchange.Error{Kind: exchange.KindRejected, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		ts := strconv.FormatInt(c.cfg.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", c.cfg.RecvWindow)
		req.Header.Set("X-BAPI-SIGN", c.sign(ts, payload))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &exchange.Error{Kind: exchange.KindTransient, Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exchange.Error{Kind: exchange.KindTransient, Op: op, Message: "read body", Err: err}
	}
	c.logger.Debug("bybit request", "op", op, "endpoint", endpoint, "status", resp.StatusCode, "took", time.Since(start))

	if err := classifyHTTP(op, resp.StatusCode, raw); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &exchange.Error{Kind: exchange.KindTransient, Op: op, Message: "decode envelope", Err: err}
	}
	if env.RetCode != 0 {
		return classify(op, env.RetCode, env.RetMsg)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &exchange.Error{Kind: exchange.KindRejected, Op: op, Message: "decode result", Err: err}
	}
	return nil
}

// num parses Bybit's string-encoded decimals. Empty means zero.
func num(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func millis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (c *Client) rememberSteps(markets map[string]exchange.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.steps == nil {
		c.steps = make(map[string]steps, len(markets))
	}
	for sym, m := range markets {
		c.steps[sym] = steps{qty: m.AmountIncrement, price: m.PriceIncrement}
	}
}

func (c *Client) stepsFor(symbol string) steps {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.steps[symbol]
}
