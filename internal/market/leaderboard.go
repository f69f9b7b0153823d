package market

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/exchange"
	"llm-trading-arena/internal/logging"
)

// LeaderboardEntry is one row of the gainers or losers board. Rank starts
// at 1 within its board.
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	Symbol      string  `json:"symbol"`
	LastPrice   float64 `json:"last_price"`
	Change24h   float64 `json:"change_24h"`
	QuoteVolume float64 `json:"quote_volume"`
}

// LeaderboardSnapshot is an immutable computed board. Readers get the
// current snapshot via an atomic pointer; a refresh swaps the whole thing.
type LeaderboardSnapshot struct {
	Gainers   []LeaderboardEntry `json:"gainers"`
	Losers    []LeaderboardEntry `json:"losers"`
	Paused    bool               `json:"paused"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// LeaderboardConfig tunes the board refresh.
type LeaderboardConfig struct {
	RefreshEvery time.Duration
	MinVolume    float64 // quote-volume floor; thin contracts are noise
	TopN         int
	QuoteSuffix  string // e.g. "USDT"; empty means all contracts
}

func (c *LeaderboardConfig) withDefaults() {
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = 10 * time.Second
	}
	if c.TopN <= 0 {
		c.TopN = 10
	}
}

// Leaderboard periodically ranks the whole market by 24h change.
type Leaderboard struct {
	cfg      LeaderboardConfig
	adapter  exchange.Adapter
	bus      *events.Bus
	log      zerolog.Logger
	current  atomic.Pointer[LeaderboardSnapshot]
	paused   atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewLeaderboard(cfg LeaderboardConfig, adapter exchange.Adapter, bus *events.Bus) *Leaderboard {
	cfg.withDefaults()
	lb := &Leaderboard{
		cfg:      cfg,
		adapter:  adapter,
		bus:      bus,
		log:      logging.Component("leaderboard"),
		stopChan: make(chan struct{}),
	}
	lb.current.Store(&LeaderboardSnapshot{})
	return lb
}

// Start launches the refresh loop.
func (lb *Leaderboard) Start() {
	lb.wg.Add(1)
	go lb.loop()
}

// Stop halts the loop.
func (lb *Leaderboard) Stop() {
	close(lb.stopChan)
	lb.wg.Wait()
}

// Pause suspends publishing without tearing down the loop; the board keeps
// refreshing so the readable snapshot never goes stale.
func (lb *Leaderboard) Pause()  { lb.paused.Store(true) }
func (lb *Leaderboard) Resume() { lb.paused.Store(false) }

// Snapshot returns the current board with the live paused flag. Never nil.
func (lb *Leaderboard) Snapshot() *LeaderboardSnapshot {
	snap := *lb.current.Load()
	snap.Paused = lb.paused.Load()
	return &snap
}

func (lb *Leaderboard) loop() {
	defer lb.wg.Done()
	ticker := time.NewTicker(lb.cfg.RefreshEvery)
	defer ticker.Stop()

	lb.refresh()
	for {
		select {
		case <-ticker.C:
			lb.refresh()
		case <-lb.stopChan:
			return
		}
	}
}

func (lb *Leaderboard) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tickers, err := lb.adapter.AllTickers24h(ctx)
	if err != nil {
		lb.log.Warn().Err(err).Msg("leaderboard refresh failed")
		if lb.bus != nil {
			lb.bus.Publish(events.TopicLeaderboardError, err.Error())
		}
		return
	}

	snap := ComputeLeaderboard(tickers, lb.cfg)
	lb.current.Store(snap)
	if lb.bus != nil && !lb.paused.Load() {
		lb.bus.Publish(events.TopicLeaderboardUpdate, snap)
	}
}

// ComputeLeaderboard ranks tickers into gainers (change descending) and
// losers (change ascending) after volume and quote-currency filtering.
func ComputeLeaderboard(tickers []exchange.Ticker24h, cfg LeaderboardConfig) *LeaderboardSnapshot {
	entries := make([]LeaderboardEntry, 0, len(tickers))
	for _, t := range tickers {
		if cfg.QuoteSuffix != "" && !strings.HasSuffix(t.Symbol, cfg.QuoteSuffix) {
			continue
		}
		if t.QuoteVolume < cfg.MinVolume {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Symbol:      t.Symbol,
			LastPrice:   t.LastPrice,
			Change24h:   t.PriceChangePct,
			QuoteVolume: t.QuoteVolume,
		})
	}

	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}

	gainers := make([]LeaderboardEntry, len(entries))
	copy(gainers, entries)
	sort.Slice(gainers, func(i, j int) bool { return gainers[i].Change24h > gainers[j].Change24h })
	if len(gainers) > topN {
		gainers = gainers[:topN]
	}
	for i := range gainers {
		gainers[i].Rank = i + 1
	}

	losers := make([]LeaderboardEntry, len(entries))
	copy(losers, entries)
	sort.Slice(losers, func(i, j int) bool { return losers[i].Change24h < losers[j].Change24h })
	if len(losers) > topN {
		losers = losers[:topN]
	}
	for i := range losers {
		losers[i].Rank = i + 1
	}

	return &LeaderboardSnapshot{
		Gainers:   gainers,
		Losers:    losers,
		UpdatedAt: time.Now(),
	}
}
