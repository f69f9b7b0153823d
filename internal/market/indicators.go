package market

import "llm-trading-arena/internal/exchange"

// Indicators are simple moving averages over closed-bar closes, plus the
// symbol's rolling 24h change. A window with too few bars yields a nil
// value rather than a misleading partial average.
type Indicators struct {
	Symbol    string   `json:"symbol"`
	Interval  string   `json:"interval"`
	Change24h float64  `json:"change_24h"`
	MA5       *float64 `json:"ma5"`
	MA10      *float64 `json:"ma10"`
	MA20      *float64 `json:"ma20"`
}

func movingAverage(bars []exchange.KlineBar, window int) *float64 {
	if len(bars) < window {
		return nil
	}
	var sum float64
	for _, b := range bars[len(bars)-window:] {
		sum += b.Close
	}
	avg := sum / float64(window)
	return &avg
}

// ComputeIndicators derives MA5/MA10/MA20 from closed bars, newest last.
func ComputeIndicators(symbol, interval string, closed []exchange.KlineBar) Indicators {
	return Indicators{
		Symbol:   symbol,
		Interval: interval,
		MA5:      movingAverage(closed, 5),
		MA10:     movingAverage(closed, 10),
		MA20:     movingAverage(closed, 20),
	}
}
