package market

import (
	"testing"
	"time"

	"llm-trading-arena/internal/exchange"
)

func bar(openMs int64, close float64, closeMs int64) exchange.KlineBar {
	return exchange.KlineBar{
		OpenTimeMs:  openMs,
		Open:        close,
		High:        close,
		Low:         close,
		Close:       close,
		CloseTimeMs: closeMs,
	}
}

func TestPriceForUnknownSymbol(t *testing.T) {
	c := NewCache()
	if _, ok := c.PriceFor("BTCUSDT"); ok {
		t.Error("expected no price for never-fetched symbol")
	}
}

func TestSetPricePreserves24hStats(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.SetTicker24h(exchange.Ticker24h{
		Symbol:         "BTCUSDT",
		LastPrice:      30_000,
		PriceChangePct: 2.5,
		QuoteVolume:    1e9,
	}, now)
	c.SetPrice("BTCUSDT", 30_100, SourceConfigured, now.Add(5*time.Second))

	q, ok := c.Quote("BTCUSDT")
	if !ok {
		t.Fatal("quote missing")
	}
	if q.Price != 30_100 {
		t.Errorf("price = %v", q.Price)
	}
	if q.Change24h != 2.5 || q.QuoteVolume != 1e9 {
		t.Errorf("24h stats lost: %+v", q)
	}
}

func TestUpsertKlinesDedupesByOpenTime(t *testing.T) {
	c := NewCache()
	c.UpsertKlines("BTCUSDT", "1m", []exchange.KlineBar{
		bar(0, 100, 59_999),
		bar(60_000, 101, 119_999),
	})
	// Refetch overlaps: bar at 60000 mutated (was still open), one new bar.
	c.UpsertKlines("BTCUSDT", "1m", []exchange.KlineBar{
		bar(60_000, 102, 119_999),
		bar(120_000, 103, 179_999),
	})

	series := c.Klines("BTCUSDT", "1m", 0)
	if len(series) != 3 {
		t.Fatalf("len = %d, want 3", len(series))
	}
	if series[1].Close != 102 {
		t.Errorf("open bar not replaced: %v", series[1].Close)
	}
	for i := 1; i < len(series); i++ {
		if series[i].OpenTimeMs <= series[i-1].OpenTimeMs {
			t.Error("series not ascending")
		}
	}
}

func TestKlineRingBounded(t *testing.T) {
	c := NewCache()
	c.SetKlineCap(10)
	for i := int64(0); i < 25; i++ {
		c.UpsertKlines("BTCUSDT", "1m", []exchange.KlineBar{
			bar(i*60_000, float64(i), i*60_000+59_999),
		})
	}
	series := c.Klines("BTCUSDT", "1m", 0)
	if len(series) != 10 {
		t.Fatalf("len = %d, want 10", len(series))
	}
	if series[0].OpenTimeMs != 15*60_000 {
		t.Errorf("oldest kept bar = %d, want oldest dropped", series[0].OpenTimeMs)
	}
}

func TestKlinesLimit(t *testing.T) {
	c := NewCache()
	for i := int64(0); i < 5; i++ {
		c.UpsertKlines("ETHUSDT", "1m", []exchange.KlineBar{
			bar(i*60_000, float64(i), i*60_000+59_999),
		})
	}
	got := c.Klines("ETHUSDT", "1m", 2)
	if len(got) != 2 || got[0].Close != 3 || got[1].Close != 4 {
		t.Errorf("got %+v", got)
	}
}

func TestClosedKlinesExcludesFormingBar(t *testing.T) {
	c := NewCache()
	now := time.UnixMilli(150_000)
	c.UpsertKlines("BTCUSDT", "1m", []exchange.KlineBar{
		bar(0, 100, 59_999),
		bar(60_000, 101, 119_999),
		bar(120_000, 102, 179_999), // still open at now
	})
	closed := c.ClosedKlines("BTCUSDT", "1m", now)
	if len(closed) != 2 {
		t.Fatalf("closed = %d, want 2", len(closed))
	}
	if closed[len(closed)-1].Close != 101 {
		t.Errorf("last closed bar = %v", closed[len(closed)-1].Close)
	}
}

func TestIntervalSeriesIndependent(t *testing.T) {
	c := NewCache()
	c.UpsertKlines("BTCUSDT", "1m", []exchange.KlineBar{bar(0, 1, 59_999)})
	c.UpsertKlines("BTCUSDT", "1M", []exchange.KlineBar{bar(0, 2, 2_591_999_999)})

	if got := c.Klines("BTCUSDT", "1m", 0); len(got) != 1 || got[0].Close != 1 {
		t.Errorf("1m series: %+v", got)
	}
	if got := c.Klines("BTCUSDT", "1M", 0); len(got) != 1 || got[0].Close != 2 {
		t.Errorf("1M series: %+v", got)
	}
}

func TestDropRemovesAllSeries(t *testing.T) {
	c := NewCache()
	c.SetPrice("BTCUSDT", 30_000, SourceConfigured, time.Now())
	c.UpsertKlines("BTCUSDT", "1m", []exchange.KlineBar{bar(0, 1, 59_999)})
	c.Drop("BTCUSDT")

	if _, ok := c.PriceFor("BTCUSDT"); ok {
		t.Error("quote survived drop")
	}
	if got := c.Klines("BTCUSDT", "1m", 0); len(got) != 0 {
		t.Error("klines survived drop")
	}
}
