package exchange

import "time"

// TickerPrice is the last traded price for a contract.
type TickerPrice struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// Ticker24h holds rolling 24 hour statistics for a contract.
type Ticker24h struct {
	Symbol         string
	LastPrice      float64
	OpenPrice      float64
	HighPrice      float64
	LowPrice       float64
	PriceChangePct float64
	QuoteVolume    float64
	Count          int64
}

// KlineBar is one candlestick. Bars are immutable once their interval has
// closed; the still-open bar mutates until CloseTimeMs passes.
type KlineBar struct {
	Symbol      string  `json:"symbol"`
	Interval    string  `json:"interval"`
	OpenTimeMs  int64   `json:"open_time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quote_volume"`
	CloseTimeMs int64   `json:"close_time"`
}

// Closed reports whether the bar's interval has completed as of now.
func (k KlineBar) Closed(now time.Time) bool {
	return k.CloseTimeMs < now.UnixMilli()
}

// KlineQuery describes a kline history request. StartMs/EndMs of zero mean
// "let the adapter compute the window" (see DefaultWindow).
type KlineQuery struct {
	Symbol   string
	Interval string
	Limit    int
	StartMs  int64
	EndMs    int64
}
