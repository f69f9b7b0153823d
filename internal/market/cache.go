package market

import (
	"sort"
	"sync"
	"time"

	"llm-trading-arena/internal/exchange"
)

// QuoteSource records why a symbol is being tracked.
type QuoteSource string

const (
	SourceConfigured QuoteSource = "configured"
	SourcePosition   QuoteSource = "position"
)

// Quote is the latest known price for a symbol together with its 24h stats.
// A fetch failure leaves the previous quote in place, so UpdatedAt tells the
// reader how stale the value is.
type Quote struct {
	Symbol      string      `json:"symbol"`
	Price       float64     `json:"price"`
	Change24h   float64     `json:"change_24h"`
	High24h     float64     `json:"high_24h"`
	Low24h      float64     `json:"low_24h"`
	QuoteVolume float64     `json:"quote_volume"`
	Source      QuoteSource `json:"source"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DefaultKlineCap bounds each (symbol, interval) ring. Indicators need at
// least 21 closed bars; the rest is chart history for the UI.
const DefaultKlineCap = 200

type klineKey struct {
	symbol   string
	interval string
}

// Cache holds live quotes and bounded kline history for every tracked
// symbol. Readers never see partial writes and writers never block on
// readers for long: everything is copy-on-read under an RWMutex.
type Cache struct {
	mu       sync.RWMutex
	quotes   map[string]Quote
	klines   map[klineKey][]exchange.KlineBar
	klineCap int
}

func NewCache() *Cache {
	return &Cache{
		quotes:   make(map[string]Quote),
		klines:   make(map[klineKey][]exchange.KlineBar),
		klineCap: DefaultKlineCap,
	}
}

// SetKlineCap overrides the per-series bound.
func (c *Cache) SetKlineCap(n int) {
	if n > 0 {
		c.klineCap = n
	}
}

// PriceFor reports the live price for symbol. It satisfies the portfolio
// engine's price source; a symbol that has never been fetched successfully
// is unknown, not zero.
func (c *Cache) PriceFor(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	if !ok || q.Price <= 0 {
		return 0, false
	}
	return q.Price, true
}

// SetPrice records a fresh last-traded price, preserving the existing 24h
// stats for the symbol.
func (c *Cache) SetPrice(symbol string, price float64, source QuoteSource, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.quotes[symbol]
	q.Symbol = symbol
	q.Price = price
	q.Source = source
	q.UpdatedAt = at
	c.quotes[symbol] = q
}

// SetTicker24h merges rolling 24h statistics into the symbol's quote.
func (c *Cache) SetTicker24h(t exchange.Ticker24h, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.quotes[t.Symbol]
	q.Symbol = t.Symbol
	if t.LastPrice > 0 {
		q.Price = t.LastPrice
	}
	q.Change24h = t.PriceChangePct
	q.High24h = t.HighPrice
	q.Low24h = t.LowPrice
	q.QuoteVolume = t.QuoteVolume
	q.UpdatedAt = at
	if q.Source == "" {
		q.Source = SourceConfigured
	}
	c.quotes[t.Symbol] = q
}

// Quote returns the full quote for a symbol.
func (c *Cache) Quote(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Quotes returns every tracked quote sorted by symbol.
func (c *Cache) Quotes() []Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// IntervalsFor lists the intervals with cached bars for symbol, sorted.
func (c *Cache) IntervalsFor(symbol string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, 4)
	for k := range c.klines {
		if k.symbol == symbol {
			out = append(out, k.interval)
		}
	}
	sort.Strings(out)
	return out
}

// Drop removes a symbol that is no longer configured nor held.
func (c *Cache) Drop(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.quotes, symbol)
	for k := range c.klines {
		if k.symbol == symbol {
			delete(c.klines, k)
		}
	}
}

// UpsertKlines merges freshly fetched bars into the (symbol, interval)
// series. Bars are keyed by open time: a bar already present is replaced
// (the still-open bar mutates until it closes), new bars are appended, and
// the series stays sorted ascending and bounded.
func (c *Cache) UpsertKlines(symbol, interval string, bars []exchange.KlineBar) {
	if len(bars) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := klineKey{symbol, interval}
	series := c.klines[key]

	byOpen := make(map[int64]int, len(series))
	for i, b := range series {
		byOpen[b.OpenTimeMs] = i
	}
	for _, b := range bars {
		b.Symbol = symbol
		b.Interval = interval
		if i, ok := byOpen[b.OpenTimeMs]; ok {
			series[i] = b
			continue
		}
		byOpen[b.OpenTimeMs] = len(series)
		series = append(series, b)
	}

	sort.Slice(series, func(i, j int) bool { return series[i].OpenTimeMs < series[j].OpenTimeMs })
	if len(series) > c.klineCap {
		series = series[len(series)-c.klineCap:]
	}
	c.klines[key] = series
}

// Klines returns up to limit most recent bars for (symbol, interval),
// ascending by open time. limit <= 0 returns the whole series.
func (c *Cache) Klines(symbol, interval string, limit int) []exchange.KlineBar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	series := c.klines[klineKey{symbol, interval}]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]exchange.KlineBar, len(series))
	copy(out, series)
	return out
}

// ClosedKlines returns the bars whose interval has completed as of now.
// The still-forming bar is excluded so indicators see stable values.
func (c *Cache) ClosedKlines(symbol, interval string, now time.Time) []exchange.KlineBar {
	all := c.Klines(symbol, interval, 0)
	out := all[:0:0]
	for _, b := range all {
		if b.Closed(now) {
			out = append(out, b)
		}
	}
	return out
}
