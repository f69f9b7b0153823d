package portfolio

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	minLeverage = 1
	maxLeverage = 125

	// DefaultHistoryCap bounds the per-model account-value series.
	DefaultHistoryCap = 1000
)

type posKey struct {
	symbol string
	side   Side
}

// state is one model's accounting. All access goes through the engine.
type state struct {
	modelID        string
	cash           float64
	initialCapital float64
	realizedPnl    float64
	totalFees      float64
	positions      map[posKey]*Position
	history        []ValuePoint
}

// Engine owns every model's portfolio. It is safe for concurrent use; writes
// to a single model are additionally serialized by the caller's model lock,
// which the engine does not manage.
type Engine struct {
	mu         sync.RWMutex
	models     map[string]*state
	prices     PriceSource
	historyCap int
	now        func() time.Time
}

// NewEngine creates an engine reading mark prices from prices.
func NewEngine(prices PriceSource) *Engine {
	return &Engine{
		models:     make(map[string]*state),
		prices:     prices,
		historyCap: DefaultHistoryCap,
		now:        time.Now,
	}
}

// SetHistoryCap overrides the account-value history bound.
func (e *Engine) SetHistoryCap(n int) {
	if n > 0 {
		e.historyCap = n
	}
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Register creates a fresh portfolio for a model. Re-registering resets it.
func (e *Engine) Register(modelID string, initialCapital float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[modelID] = &state{
		modelID:        modelID,
		cash:           initialCapital,
		initialCapital: initialCapital,
		positions:      make(map[posKey]*Position),
	}
}

// Unregister removes a model's portfolio.
func (e *Engine) Unregister(modelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.models, modelID)
}

// Restore installs recovered accounting state for a model (startup replay).
func (e *Engine) Restore(modelID string, cash, initialCapital, realizedPnl, totalFees float64, positions []Position, history []ValuePoint) {
	st := &state{
		modelID:        modelID,
		cash:           cash,
		initialCapital: initialCapital,
		realizedPnl:    realizedPnl,
		totalFees:      totalFees,
		positions:      make(map[posKey]*Position, len(positions)),
		history:        history,
	}
	for i := range positions {
		p := positions[i]
		st.positions[posKey{p.Symbol, p.Side}] = &p
	}
	e.mu.Lock()
	e.models[modelID] = st
	e.mu.Unlock()
}

// Snapshot returns a consistent read of one model's portfolio with derived
// unrealized PnL. Symbols without a live price contribute margin only.
func (e *Engine) Snapshot(modelID string) (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.models[modelID]
	if !ok {
		return Snapshot{}, ErrUnknownModel
	}
	return e.snapshotLocked(st), nil
}

func (e *Engine) snapshotLocked(st *state) Snapshot {
	snap := Snapshot{
		ModelID:        st.modelID,
		Cash:           st.cash,
		InitialCapital: st.initialCapital,
		RealizedPnl:    st.realizedPnl,
		TotalFees:      st.totalFees,
		Positions:      make([]Position, 0, len(st.positions)),
	}
	for _, p := range st.positions {
		cp := *p
		snap.Positions = append(snap.Positions, cp)
		if price, ok := e.prices.PriceFor(p.Symbol); ok {
			snap.UnrealizedPnl += p.UnrealizedPnl(price)
			snap.PositionsValue += p.Value(price)
		} else {
			snap.PositionsValue += p.Margin
		}
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		if snap.Positions[i].Symbol != snap.Positions[j].Symbol {
			return snap.Positions[i].Symbol < snap.Positions[j].Symbol
		}
		return snap.Positions[i].Side < snap.Positions[j].Side
	})
	snap.TotalValue = snap.Cash + snap.PositionsValue
	return snap
}

// Positions returns a copy of a model's open positions (cycle-start snapshot
// for the sell pass).
func (e *Engine) Positions(modelID string) []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.models[modelID]
	if !ok {
		return nil
	}
	out := make([]Position, 0, len(st.positions))
	for _, p := range st.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// HeldSymbols returns every symbol referenced by an open position across all
// models. The market cache polls these even when not configured.
func (e *Engine) HeldSymbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, st := range e.models {
		for k := range st.positions {
			seen[k.symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// History returns the bounded account-value series for a model.
func (e *Engine) History(modelID string) []ValuePoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.models[modelID]
	if !ok {
		return nil
	}
	out := make([]ValuePoint, len(st.history))
	copy(out, st.history)
	return out
}

// Apply validates a decision against limits and commits it. Rejections leave
// state untouched. A committed Open or Close appends a ValuePoint.
func (e *Engine) Apply(modelID string, dec Decision, limits Limits) (TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.models[modelID]
	if !ok {
		return TradeRecord{}, ErrUnknownModel
	}

	var (
		rec TradeRecord
		err error
	)
	switch d := dec.(type) {
	case Open:
		rec, err = e.applyOpen(st, d, limits)
	case Close:
		rec, err = e.applyClose(st, d, limits)
	default:
		return TradeRecord{}, applyErr(ErrBadQuantity, "unsupported decision %T", dec)
	}
	if err != nil {
		return TradeRecord{}, err
	}

	e.appendHistoryLocked(st)
	return rec, nil
}

func (e *Engine) applyOpen(st *state, d Open, limits Limits) (TradeRecord, error) {
	switch d.Side {
	case SideLong:
		if !limits.AutoBuyEnabled {
			return TradeRecord{}, applyErr(ErrDisabled, "auto buy disabled")
		}
	case SideShort:
		if !limits.AutoSellEnabled {
			return TradeRecord{}, applyErr(ErrDisabled, "auto sell disabled")
		}
	default:
		return TradeRecord{}, applyErr(ErrBadQuantity, "unknown side %q", d.Side)
	}

	if d.Qty <= 0 {
		return TradeRecord{}, applyErr(ErrBadQuantity, "quantity %v", d.Qty)
	}

	leverage := d.Leverage
	if leverage == 0 {
		leverage = limits.ModelLeverage
	}
	if leverage == 0 {
		// 0 is the "let the LLM choose" sentinel; it must have been resolved
		// to a concrete value before reaching the engine.
		return TradeRecord{}, applyErr(ErrBadQuantity, "unresolved leverage 0")
	}
	if leverage < minLeverage || leverage > maxLeverage {
		return TradeRecord{}, applyErr(ErrOverleveraged, "leverage %d outside [%d, %d]", leverage, minLeverage, maxLeverage)
	}

	price, ok := e.prices.PriceFor(d.Symbol)
	if !ok || price <= 0 {
		return TradeRecord{}, applyErr(ErrUnknownSymbol, "no price for %s", d.Symbol)
	}

	key := posKey{d.Symbol, d.Side}
	if _, exists := st.positions[key]; !exists && limits.MaxPositions > 0 && len(st.positions) >= limits.MaxPositions {
		return TradeRecord{}, applyErr(ErrMaxPositionsReached, "%d positions open, max %d", len(st.positions), limits.MaxPositions)
	}

	notional := d.Qty * price
	fee := notional * limits.FeeRate
	if notional*(1+limits.FeeRate) > st.cash*float64(leverage) {
		return TradeRecord{}, applyErr(ErrInsufficientMargin,
			"notional %.4f exceeds cash %.4f at %dx", notional, st.cash, leverage)
	}

	margin := notional / float64(leverage)
	if margin+fee > st.cash {
		return TradeRecord{}, applyErr(ErrInsufficientMargin,
			"margin %.4f plus fee %.4f exceeds cash %.4f", margin, fee, st.cash)
	}

	// Commit.
	st.cash -= margin + fee
	st.totalFees += fee

	now := e.now()
	if pos, exists := st.positions[key]; exists {
		totalQty := pos.Qty + d.Qty
		pos.AvgPrice = (pos.AvgPrice*pos.Qty + price*d.Qty) / totalQty
		pos.Qty = totalQty
		pos.Margin += margin
	} else {
		st.positions[key] = &Position{
			Symbol:   d.Symbol,
			Side:     d.Side,
			Qty:      d.Qty,
			AvgPrice: price,
			Leverage: leverage,
			Margin:   margin,
			OpenedAt: now,
		}
	}

	signal := SignalBuyToEnter
	if d.Side == SideShort {
		signal = SignalSellToEnter
	}
	return TradeRecord{
		ID:        uuid.NewString(),
		ModelID:   st.modelID,
		Symbol:    d.Symbol,
		Side:      d.Side,
		Signal:    signal,
		Price:     price,
		Quantity:  d.Qty,
		Leverage:  leverage,
		Fee:       fee,
		Status:    TradeStatusSuccess,
		Timestamp: now,
	}, nil
}

func (e *Engine) applyClose(st *state, d Close, limits Limits) (TradeRecord, error) {
	if !limits.AutoSellEnabled {
		// Closing is part of the sell pass; a disabled sell side forbids it.
		return TradeRecord{}, applyErr(ErrDisabled, "auto sell disabled")
	}

	key := posKey{d.Symbol, d.Side}
	pos, ok := st.positions[key]
	if !ok {
		return TradeRecord{}, applyErr(ErrNoSuchPosition, "no %s %s position", d.Symbol, d.Side)
	}

	qty := d.Qty
	if qty <= 0 || qty > pos.Qty {
		qty = pos.Qty
	}

	price, okPrice := e.prices.PriceFor(d.Symbol)
	if !okPrice || price <= 0 {
		return TradeRecord{}, applyErr(ErrUnknownSymbol, "no price for %s", d.Symbol)
	}

	gross := (price - pos.AvgPrice) * qty * DirSign(d.Side)
	fee := qty * price * limits.FeeRate
	pnl := gross - fee
	releasedMargin := pos.Margin * (qty / pos.Qty)

	// Commit.
	st.cash += releasedMargin + pnl
	if st.cash < 0 {
		// Liquidation beyond posted margin is clamped; simulated accounts
		// do not go negative.
		st.cash = 0
	}
	st.realizedPnl += pnl
	st.totalFees += fee

	if qty >= pos.Qty {
		delete(st.positions, key)
	} else {
		pos.Qty -= qty
		pos.Margin -= releasedMargin
	}

	signal := d.Reason
	if signal != SignalStopLoss && signal != SignalTakeProfit {
		signal = SignalClosePosition
	}
	return TradeRecord{
		ID:        uuid.NewString(),
		ModelID:   st.modelID,
		Symbol:    d.Symbol,
		Side:      d.Side,
		Signal:    signal,
		Price:     price,
		Quantity:  qty,
		Leverage:  pos.Leverage,
		Pnl:       pnl,
		Fee:       fee,
		Status:    TradeStatusSuccess,
		Timestamp: e.now(),
	}, nil
}

func (e *Engine) appendHistoryLocked(st *state) {
	snap := e.snapshotLocked(st)
	st.history = append(st.history, ValuePoint{
		Timestamp:      e.now(),
		TotalValue:     snap.TotalValue,
		Cash:           snap.Cash,
		PositionsValue: snap.PositionsValue,
		RealizedPnl:    snap.RealizedPnl,
		UnrealizedPnl:  snap.UnrealizedPnl,
	})
	if len(st.history) > e.historyCap {
		st.history = st.history[len(st.history)-e.historyCap:]
	}
}
