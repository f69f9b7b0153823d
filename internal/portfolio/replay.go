package portfolio

import (
	"sort"
	"time"
)

// ReplayResult is the accounting state reconstructed from a trade log.
type ReplayResult struct {
	Cash        float64
	RealizedPnl float64
	TotalFees   float64
	Positions   []Position
}

type fold struct {
	cash      float64
	realized  float64
	fees      float64
	positions map[posKey]*Position
}

// applyTrade replays one successful trade. Failed trades carry no state
// change and are ignored by callers.
func (f *fold) applyTrade(t TradeRecord) {
	key := posKey{t.Symbol, t.Side}
	switch t.Signal {
	case SignalBuyToEnter, SignalSellToEnter:
		lev := t.Leverage
		if lev <= 0 {
			lev = 1
		}
		margin := t.Quantity * t.Price / float64(lev)
		f.cash -= margin + t.Fee
		f.fees += t.Fee
		if pos, ok := f.positions[key]; ok {
			totalQty := pos.Qty + t.Quantity
			pos.AvgPrice = (pos.AvgPrice*pos.Qty + t.Price*t.Quantity) / totalQty
			pos.Qty = totalQty
			pos.Margin += margin
		} else {
			f.positions[key] = &Position{
				Symbol:   t.Symbol,
				Side:     t.Side,
				Qty:      t.Quantity,
				AvgPrice: t.Price,
				Leverage: lev,
				Margin:   margin,
				OpenedAt: t.Timestamp,
			}
		}
	case SignalClosePosition, SignalStopLoss, SignalTakeProfit:
		pos, ok := f.positions[key]
		if !ok || pos.Qty <= 0 {
			return
		}
		qty := t.Quantity
		if qty <= 0 || qty > pos.Qty {
			qty = pos.Qty
		}
		released := pos.Margin * (qty / pos.Qty)
		f.cash += released + t.Pnl
		if f.cash < 0 {
			f.cash = 0
		}
		f.realized += t.Pnl
		f.fees += t.Fee
		if qty >= pos.Qty {
			delete(f.positions, key)
		} else {
			pos.Qty -= qty
			pos.Margin -= released
		}
	}
}

func (f *fold) result() ReplayResult {
	out := ReplayResult{Cash: f.cash, RealizedPnl: f.realized, TotalFees: f.fees}
	for _, p := range f.positions {
		out.Positions = append(out.Positions, *p)
	}
	sort.Slice(out.Positions, func(i, j int) bool {
		if out.Positions[i].Symbol != out.Positions[j].Symbol {
			return out.Positions[i].Symbol < out.Positions[j].Symbol
		}
		return out.Positions[i].Side < out.Positions[j].Side
	})
	return out
}

// Replay folds an ordered trade log over a fresh portfolio. The portfolio is
// a pure fold over its trades, so replaying the persisted log reproduces the
// live state at the moment it was written (restart recovery). Trades must
// be in timestamp order.
func Replay(initialCapital float64, trades []TradeRecord) ReplayResult {
	f := &fold{cash: initialCapital, positions: make(map[posKey]*Position)}
	for _, t := range trades {
		if t.Status == TradeStatusSuccess {
			f.applyTrade(t)
		}
	}
	return f.result()
}

// ReplayFrom starts the fold from a persisted snapshot instead of a fresh
// portfolio, then applies only the trades newer than the snapshot. Cheaper
// than a full replay for long trade histories.
func ReplayFrom(snap Snapshot, snapshotAt time.Time, trades []TradeRecord) ReplayResult {
	f := &fold{
		cash:      snap.Cash,
		realized:  snap.RealizedPnl,
		fees:      snap.TotalFees,
		positions: make(map[posKey]*Position, len(snap.Positions)),
	}
	for i := range snap.Positions {
		p := snap.Positions[i]
		f.positions[posKey{p.Symbol, p.Side}] = &p
	}
	for _, t := range trades {
		if t.Status == TradeStatusSuccess && t.Timestamp.After(snapshotAt) {
			f.applyTrade(t)
		}
	}
	return f.result()
}
