// Package portfolio is the per-model accounting engine: positions, cash,
// realized and unrealized PnL, fees and account-value history. It is a
// deterministic state machine; all mutation goes through Engine.Apply.
package portfolio

import "time"

// Side of a perpetual-futures position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// DirSign is +1 for longs, -1 for shorts.
func DirSign(s Side) float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Signal names recorded on trades.
type Signal string

const (
	SignalBuyToEnter    Signal = "buy_to_enter"
	SignalSellToEnter   Signal = "sell_to_enter"
	SignalClosePosition Signal = "close_position"
	SignalStopLoss      Signal = "stop_loss"
	SignalTakeProfit    Signal = "take_profit"
)

// Position is one open (symbol, side) row. Same-side re-entries merge into
// the row with a quantity-weighted average price.
type Position struct {
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Qty      float64   `json:"qty"`
	AvgPrice float64   `json:"avg_price"`
	Leverage int       `json:"leverage"`
	Margin   float64   `json:"margin"`
	OpenedAt time.Time `json:"opened_at"`
}

// UnrealizedPnl of the position at the given mark price.
func (p Position) UnrealizedPnl(price float64) float64 {
	return (price - p.AvgPrice) * p.Qty * DirSign(p.Side)
}

// Value of the position at the given mark price: posted margin plus
// unrealized PnL.
func (p Position) Value(price float64) float64 {
	return p.Margin + p.UnrealizedPnl(price)
}

// Decision is a validated portfolio mutation request.
type Decision interface{ decision() }

// Open requests a new or merged position.
type Open struct {
	Symbol   string
	Side     Side
	Qty      float64
	Leverage int // 0 means "resolve from the model", rejected if still 0
}

// Close requests a full or partial close. Qty 0 closes the whole position.
// Reason overrides the recorded signal (stop loss, take profit); empty means
// a plain close.
type Close struct {
	Symbol string
	Side   Side
	Qty    float64
	Reason Signal
}

func (Open) decision()  {}
func (Close) decision() {}

// Limits carries the model-level constraints a decision is validated against.
// The caller snapshots these at cycle start.
type Limits struct {
	AutoBuyEnabled  bool
	AutoSellEnabled bool
	MaxPositions    int
	ModelLeverage   int // fallback when a decision carries leverage 0
	FeeRate         float64
}

// TradeRecord is the append-only outcome of one applied decision.
type TradeRecord struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Signal    Signal    `json:"signal"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Leverage  int       `json:"leverage"`
	Pnl       float64   `json:"pnl"`
	Fee       float64   `json:"fee"`
	Status    string    `json:"status"` // success or failed
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	TradeStatusSuccess = "success"
	TradeStatusFailed  = "failed"
)

// Snapshot is a read-only view of one model's portfolio. UnrealizedPnl and
// TotalValue are derived from the prices passed to Engine.Snapshot, never
// stored.
type Snapshot struct {
	ModelID        string     `json:"model_id"`
	Cash           float64    `json:"cash"`
	InitialCapital float64    `json:"initial_capital"`
	RealizedPnl    float64    `json:"realized_pnl"`
	UnrealizedPnl  float64    `json:"unrealized_pnl"`
	PositionsValue float64    `json:"positions_value"`
	TotalValue     float64    `json:"total_value"`
	TotalFees      float64    `json:"total_fees"`
	Positions      []Position `json:"positions"`
}

// ValuePoint is one entry of the bounded account-value history.
type ValuePoint struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalValue     float64   `json:"total_value"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	RealizedPnl    float64   `json:"realized_pnl"`
	UnrealizedPnl  float64   `json:"unrealized_pnl"`
}

// PriceSource supplies the latest known mark price per symbol.
type PriceSource interface {
	PriceFor(symbol string) (float64, bool)
}

// PriceMap is a fixed PriceSource for tests and replay.
type PriceMap map[string]float64

// PriceFor implements PriceSource.
func (m PriceMap) PriceFor(symbol string) (float64, bool) {
	p, ok := m[symbol]
	return p, ok
}
