package market

import (
	"context"
	"testing"
	"time"

	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/exchange"
)

type fakeAdapter struct {
	tickers []exchange.Ticker24h
	err     error
}

func (f *fakeAdapter) TickerPrice(ctx context.Context, symbol string) (exchange.TickerPrice, error) {
	for _, t := range f.tickers {
		if t.Symbol == symbol {
			return exchange.TickerPrice{Symbol: symbol, Price: t.LastPrice}, nil
		}
	}
	return exchange.TickerPrice{}, f.err
}

func (f *fakeAdapter) Ticker24h(ctx context.Context, symbol string) (exchange.Ticker24h, error) {
	for _, t := range f.tickers {
		if t.Symbol == symbol {
			return t, nil
		}
	}
	return exchange.Ticker24h{}, f.err
}

func (f *fakeAdapter) AllTickers24h(ctx context.Context) ([]exchange.Ticker24h, error) {
	return f.tickers, f.err
}

func (f *fakeAdapter) Klines(ctx context.Context, q exchange.KlineQuery) ([]exchange.KlineBar, error) {
	return nil, f.err
}

func ticker(symbol string, change, volume float64) exchange.Ticker24h {
	return exchange.Ticker24h{Symbol: symbol, LastPrice: 1, PriceChangePct: change, QuoteVolume: volume}
}

func TestComputeLeaderboardRanking(t *testing.T) {
	tickers := []exchange.Ticker24h{
		ticker("AAAUSDT", 5.0, 1e7),
		ticker("BBBUSDT", -3.0, 1e7),
		ticker("CCCUSDT", 12.0, 1e7),
		ticker("DDDUSDT", -8.0, 1e7),
		ticker("EEEUSDT", 1.0, 1e7),
	}
	snap := ComputeLeaderboard(tickers, LeaderboardConfig{TopN: 2, MinVolume: 1e6})

	if len(snap.Gainers) != 2 || snap.Gainers[0].Symbol != "CCCUSDT" || snap.Gainers[1].Symbol != "AAAUSDT" {
		t.Errorf("gainers = %+v", snap.Gainers)
	}
	if len(snap.Losers) != 2 || snap.Losers[0].Symbol != "DDDUSDT" || snap.Losers[1].Symbol != "BBBUSDT" {
		t.Errorf("losers = %+v", snap.Losers)
	}
	if snap.Gainers[0].Rank != 1 || snap.Gainers[1].Rank != 2 || snap.Losers[0].Rank != 1 {
		t.Errorf("ranks not assigned per board: %+v / %+v", snap.Gainers, snap.Losers)
	}
}

func TestComputeLeaderboardFilters(t *testing.T) {
	tickers := []exchange.Ticker24h{
		ticker("THINUSDT", 50.0, 100), // below volume floor
		ticker("BTCBUSD", 10.0, 1e9),  // wrong quote currency
		ticker("BTCUSDT", 2.0, 1e9),
	}
	snap := ComputeLeaderboard(tickers, LeaderboardConfig{
		TopN:        10,
		MinVolume:   1e6,
		QuoteSuffix: "USDT",
	})

	if len(snap.Gainers) != 1 || snap.Gainers[0].Symbol != "BTCUSDT" {
		t.Errorf("gainers = %+v", snap.Gainers)
	}
}

func TestLeaderboardSnapshotNeverNil(t *testing.T) {
	lb := NewLeaderboard(LeaderboardConfig{}, &fakeAdapter{}, nil)
	if lb.Snapshot() == nil {
		t.Fatal("snapshot nil before first refresh")
	}
}

func TestRefresherTrackedSymbolsMergesHeld(t *testing.T) {
	r := NewRefresher(RefresherConfig{
		Symbols: []string{"BTCUSDT", "ETHUSDT"},
	}, &fakeAdapter{}, NewCache(), nil, func() []string {
		return []string{"ETHUSDT", "SOLUSDT"}
	})

	tracked := r.trackedSymbols()
	if len(tracked) != 3 {
		t.Fatalf("tracked = %v", tracked)
	}
	if tracked["ETHUSDT"] != SourceConfigured {
		t.Error("configured symbol lost its source when also held")
	}
	if tracked["SOLUSDT"] != SourcePosition {
		t.Error("held-only symbol should be position-sourced")
	}
}

func TestRefresherInflightGuard(t *testing.T) {
	r := NewRefresher(RefresherConfig{}, &fakeAdapter{}, NewCache(), nil, nil)

	if !r.begin("BTCUSDT", "price") {
		t.Fatal("first claim refused")
	}
	if r.begin("BTCUSDT", "price") {
		t.Error("second claim for same (symbol, op) granted")
	}
	if !r.begin("BTCUSDT", "klines:1m") {
		t.Error("different op should be independent")
	}
	r.end("BTCUSDT", "price")
	if !r.begin("BTCUSDT", "price") {
		t.Error("claim refused after release")
	}
}

func TestLeaderboardPauseKeepsRefreshingWithoutPublishing(t *testing.T) {
	fake := &fakeAdapter{tickers: []exchange.Ticker24h{ticker("BTCUSDT", 2.0, 1e9)}}
	bus := events.NewBus()
	sub := bus.Subscribe(events.TopicLeaderboardUpdate, 4)
	lb := NewLeaderboard(LeaderboardConfig{MinVolume: 1}, fake, bus)

	lb.refresh()
	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("running board did not publish")
	}

	lb.Pause()
	before := lb.Snapshot().UpdatedAt
	fake.tickers = append(fake.tickers, ticker("ETHUSDT", 5.0, 1e9))
	lb.refresh()

	snap := lb.Snapshot()
	if !snap.Paused {
		t.Error("snapshot should report paused")
	}
	if !snap.UpdatedAt.After(before) {
		t.Error("paused board stopped refreshing")
	}
	if len(snap.Gainers) != 2 {
		t.Errorf("gainers = %+v", snap.Gainers)
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("paused board published %v", ev.Topic)
	default:
	}

	lb.Resume()
	lb.refresh()
	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("resumed board did not publish")
	}
	if lb.Snapshot().Paused {
		t.Error("resumed snapshot still reports paused")
	}
}
