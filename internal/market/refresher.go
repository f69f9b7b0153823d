package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/exchange"
	"llm-trading-arena/internal/logging"
)

// RefresherConfig tunes the polling cadence.
type RefresherConfig struct {
	Symbols        []string        // configured watchlist
	SymbolsFn      func() []string // dynamic watchlist; overrides Symbols when set
	KlineIntervals []string        // intervals to keep warm per symbol
	KlineLimit     int             // bars per fetch
	PriceEvery     time.Duration   // last-price poll period
	TickerEvery    time.Duration   // 24h stats poll period
	BoundaryJitter time.Duration   // max random delay after an interval boundary
}

func (c *RefresherConfig) withDefaults() {
	if c.KlineLimit <= 0 {
		c.KlineLimit = 50
	}
	if c.PriceEvery <= 0 {
		c.PriceEvery = 5 * time.Second
	}
	if c.TickerEvery <= 0 {
		c.TickerEvery = 30 * time.Second
	}
	if c.BoundaryJitter <= 0 {
		c.BoundaryJitter = 2 * time.Second
	}
	if len(c.KlineIntervals) == 0 {
		c.KlineIntervals = []string{"3m", "15m", "1h"}
	}
}

type fetchKey struct {
	symbol string
	op     string
}

// Refresher keeps the cache warm. Each (symbol, operation) pair has at most
// one fetch in flight; when a tick fires while the previous fetch is still
// running, the tick is skipped and logged rather than queued.
type Refresher struct {
	cfg      RefresherConfig
	adapter  exchange.Adapter
	cache    *Cache
	bus      *events.Bus
	heldFn   func() []string // symbols referenced by open positions
	log      zerolog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	inflight map[fetchKey]struct{}
}

func NewRefresher(cfg RefresherConfig, adapter exchange.Adapter, cache *Cache, bus *events.Bus, heldFn func() []string) *Refresher {
	cfg.withDefaults()
	if heldFn == nil {
		heldFn = func() []string { return nil }
	}
	return &Refresher{
		cfg:      cfg,
		adapter:  adapter,
		cache:    cache,
		bus:      bus,
		heldFn:   heldFn,
		log:      logging.Component("market"),
		stopChan: make(chan struct{}),
		inflight: make(map[fetchKey]struct{}),
	}
}

// Start launches the polling loops. Call Stop to shut them down.
func (r *Refresher) Start() {
	r.wg.Add(2)
	go r.priceLoop()
	go r.tickerLoop()
	for _, interval := range r.cfg.KlineIntervals {
		r.wg.Add(1)
		go r.klineLoop(interval)
	}
	r.log.Info().
		Strs("symbols", r.cfg.Symbols).
		Strs("intervals", r.cfg.KlineIntervals).
		Msg("market refresher started")
}

// Stop halts all loops and waits for in-flight fetches to finish.
func (r *Refresher) Stop() {
	close(r.stopChan)
	r.wg.Wait()
	r.log.Info().Msg("market refresher stopped")
}

// trackedSymbols merges the configured watchlist with symbols held by open
// positions. A held symbol keeps getting quotes even after it is removed
// from the watchlist.
func (r *Refresher) trackedSymbols() map[string]QuoteSource {
	configured := r.cfg.Symbols
	if r.cfg.SymbolsFn != nil {
		configured = r.cfg.SymbolsFn()
	}
	out := make(map[string]QuoteSource, len(configured))
	for _, s := range configured {
		out[s] = SourceConfigured
	}
	for _, s := range r.heldFn() {
		if _, ok := out[s]; !ok {
			out[s] = SourcePosition
		}
	}
	return out
}

// begin claims the (symbol, op) slot. It returns false when a fetch for the
// pair is already running.
func (r *Refresher) begin(symbol, op string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fetchKey{symbol, op}
	if _, busy := r.inflight[key]; busy {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

func (r *Refresher) end(symbol, op string) {
	r.mu.Lock()
	delete(r.inflight, fetchKey{symbol, op})
	r.mu.Unlock()
}

func (r *Refresher) priceLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PriceEvery)
	defer ticker.Stop()

	r.refreshPrices()
	for {
		select {
		case <-ticker.C:
			r.refreshPrices()
		case <-r.stopChan:
			return
		}
	}
}

func (r *Refresher) refreshPrices() {
	var wg sync.WaitGroup
	for symbol, source := range r.trackedSymbols() {
		if !r.begin(symbol, "price") {
			r.log.Debug().Str("symbol", symbol).Msg("price fetch still in flight, skipping tick")
			continue
		}
		wg.Add(1)
		go func(symbol string, source QuoteSource) {
			defer wg.Done()
			defer r.end(symbol, "price")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			tp, err := r.adapter.TickerPrice(ctx, symbol)
			if err != nil {
				// Keep the stale quote; readers see UpdatedAt.
				r.log.Warn().Err(err).Str("symbol", symbol).Msg("price fetch failed")
				return
			}
			r.cache.SetPrice(symbol, tp.Price, source, time.Now())
		}(symbol, source)
	}
	wg.Wait()

	if r.bus != nil {
		r.bus.Publish(events.TopicPricesUpdate, r.cache.Quotes())
	}
}

func (r *Refresher) tickerLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.TickerEvery)
	defer ticker.Stop()

	r.refreshTickers()
	for {
		select {
		case <-ticker.C:
			r.refreshTickers()
		case <-r.stopChan:
			return
		}
	}
}

func (r *Refresher) refreshTickers() {
	for symbol := range r.trackedSymbols() {
		if !r.begin(symbol, "ticker24h") {
			r.log.Debug().Str("symbol", symbol).Msg("24h fetch still in flight, skipping tick")
			continue
		}
		func() {
			defer r.end(symbol, "ticker24h")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			t, err := r.adapter.Ticker24h(ctx, symbol)
			if err != nil {
				r.log.Warn().Err(err).Str("symbol", symbol).Msg("24h stats fetch failed")
				return
			}
			r.cache.SetTicker24h(t, time.Now())
		}()
	}
}

// klineLoop fires just after each interval boundary, plus a small random
// jitter so several instances do not hit the venue at the same instant.
func (r *Refresher) klineLoop(interval string) {
	defer r.wg.Done()

	d, err := exchange.IntervalDuration(interval)
	if err != nil {
		r.log.Error().Str("interval", interval).Msg("unknown kline interval, loop not started")
		return
	}

	r.refreshKlines(interval)
	for {
		wait := time.Until(time.Now().Truncate(d).Add(d)) +
			time.Duration(rand.Int63n(int64(r.cfg.BoundaryJitter)))
		select {
		case <-time.After(wait):
			r.refreshKlines(interval)
		case <-r.stopChan:
			return
		}
	}
}

func (r *Refresher) refreshKlines(interval string) {
	for symbol := range r.trackedSymbols() {
		if !r.begin(symbol, "klines:"+interval) {
			r.log.Debug().Str("symbol", symbol).Str("interval", interval).
				Msg("kline fetch still in flight, skipping tick")
			continue
		}
		func() {
			defer r.end(symbol, "klines:"+interval)
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			bars, err := r.adapter.Klines(ctx, exchange.KlineQuery{
				Symbol:   symbol,
				Interval: interval,
				Limit:    r.cfg.KlineLimit,
			})
			if err != nil {
				r.log.Warn().Err(err).Str("symbol", symbol).Str("interval", interval).
					Msg("kline fetch failed")
				return
			}
			r.cache.UpsertKlines(symbol, interval, bars)
			if r.bus != nil && len(bars) > 0 {
				r.bus.Publish(events.KlineTopic(symbol, interval), bars[len(bars)-1])
			}
		}()
	}
}
