// Package exchange is a thin gateway to a perpetual-futures venue. It exposes
// spot prices, 24h tickers and kline history over the venue's public REST
// surface. Failures carry an ErrorKind; retry policy belongs to callers.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// FuturesBaseURL is the production venue REST endpoint.
	FuturesBaseURL = "https://fapi.binance.com"

	defaultTimeout = 10 * time.Second
	maxKlineLimit  = 1000
)

// Adapter is the venue gateway interface consumed by the market cache and the
// trading core. Implementations must be safe for concurrent use.
type Adapter interface {
	TickerPrice(ctx context.Context, symbol string) (TickerPrice, error)
	Ticker24h(ctx context.Context, symbol string) (Ticker24h, error)
	AllTickers24h(ctx context.Context) ([]Ticker24h, error)
	Klines(ctx context.Context, q KlineQuery) ([]KlineBar, error)
}

// Client implements Adapter against a Binance-futures style REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the venue endpoint (testnet, fakes in tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the time source used for default kline windows.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a venue client with a 10 second per-request timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    FuturesBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TickerPrice returns the last traded price for symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (TickerPrice, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/price", url.Values{"symbol": {symbol}})
	if err != nil {
		return TickerPrice{}, err
	}

	var resp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
		Time   int64   `json:"time"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TickerPrice{}, transientErr(fmt.Errorf("parsing ticker price: %w", err))
	}

	ts := c.now()
	if resp.Time > 0 {
		ts = time.UnixMilli(resp.Time)
	}
	return TickerPrice{Symbol: resp.Symbol, Price: resp.Price, Time: ts}, nil
}

// Ticker24h returns rolling 24 hour statistics for symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (Ticker24h, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/24hr", url.Values{"symbol": {symbol}})
	if err != nil {
		return Ticker24h{}, err
	}

	var resp struct {
		Symbol             string  `json:"symbol"`
		LastPrice          float64 `json:"lastPrice,string"`
		OpenPrice          float64 `json:"openPrice,string"`
		HighPrice          float64 `json:"highPrice,string"`
		LowPrice           float64 `json:"lowPrice,string"`
		PriceChangePercent float64 `json:"priceChangePercent,string"`
		QuoteVolume        float64 `json:"quoteVolume,string"`
		Count              int64   `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Ticker24h{}, transientErr(fmt.Errorf("parsing 24hr ticker: %w", err))
	}

	return Ticker24h{
		Symbol:         resp.Symbol,
		LastPrice:      resp.LastPrice,
		OpenPrice:      resp.OpenPrice,
		HighPrice:      resp.HighPrice,
		LowPrice:       resp.LowPrice,
		PriceChangePct: resp.PriceChangePercent,
		QuoteVolume:    resp.QuoteVolume,
		Count:          resp.Count,
	}, nil
}

// AllTickers24h returns 24 hour statistics for every contract on the venue.
// Used by the leaderboard; one request replaces hundreds of per-symbol calls.
func (c *Client) AllTickers24h(ctx context.Context) ([]Ticker24h, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Symbol             string  `json:"symbol"`
		LastPrice          float64 `json:"lastPrice,string"`
		OpenPrice          float64 `json:"openPrice,string"`
		HighPrice          float64 `json:"highPrice,string"`
		LowPrice           float64 `json:"lowPrice,string"`
		PriceChangePercent float64 `json:"priceChangePercent,string"`
		QuoteVolume        float64 `json:"quoteVolume,string"`
		Count              int64   `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transientErr(fmt.Errorf("parsing 24hr tickers: %w", err))
	}

	out := make([]Ticker24h, 0, len(resp))
	for _, r := range resp {
		out = append(out, Ticker24h{
			Symbol:         r.Symbol,
			LastPrice:      r.LastPrice,
			OpenPrice:      r.OpenPrice,
			HighPrice:      r.HighPrice,
			LowPrice:       r.LowPrice,
			PriceChangePct: r.PriceChangePercent,
			QuoteVolume:    r.QuoteVolume,
			Count:          r.Count,
		})
	}
	return out, nil
}

// Klines returns candlesticks ascending by open time. When the query carries
// no explicit window the adapter computes one that includes the still-open bar.
func (c *Client) Klines(ctx context.Context, q KlineQuery) ([]KlineBar, error) {
	if !ValidInterval(q.Interval) {
		return nil, &Error{Kind: KindPermanent, Err: fmt.Errorf("unknown interval %q", q.Interval)}
	}
	limit := q.Limit
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	startMs, endMs := q.StartMs, q.EndMs
	if startMs == 0 && endMs == 0 {
		var err error
		startMs, endMs, err = DefaultWindow(q.Interval, limit, c.now())
		if err != nil {
			return nil, &Error{Kind: KindPermanent, Err: err}
		}
	}

	params := url.Values{
		"symbol":   {q.Symbol},
		"interval": {q.Interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if startMs > 0 {
		params.Set("startTime", strconv.FormatInt(startMs, 10))
	}
	if endMs > 0 {
		params.Set("endTime", strconv.FormatInt(endMs, 10))
	}

	body, err := c.get(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}

	// The venue encodes each bar as a positional JSON array.
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, transientErr(fmt.Errorf("parsing klines: %w", err))
	}

	bars := make([]KlineBar, 0, len(raw))
	for _, row := range raw {
		if len(row) < 8 {
			continue
		}
		bars = append(bars, KlineBar{
			Symbol:      q.Symbol,
			Interval:    q.Interval,
			OpenTimeMs:  asInt64(row[0]),
			Open:        asFloat(row[1]),
			High:        asFloat(row[2]),
			Low:         asFloat(row[3]),
			Close:       asFloat(row[4]),
			Volume:      asFloat(row[5]),
			CloseTimeMs: asInt64(row[6]),
			QuoteVolume: asFloat(row[7]),
		})
	}
	return bars, nil
}

// get performs a single unauthenticated GET. No retries here: the caller owns
// the retry budget so one slow symbol cannot amplify venue load.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, transientErr(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transientErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, transientErr(err)
	}

	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, classifyStatus(resp.StatusCode, string(body), retryAfter)
	}
	return body, nil
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
