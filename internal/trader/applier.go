package trader

import (
	"context"
	"fmt"
	"time"

	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/llm"
	"llm-trading-arena/internal/portfolio"
)

// applyBuyDecisions applies entry decisions in list order. Entries beyond
// the batch cap are skipped and noted with a single warning record rather
// than one failure per skipped entry.
func (t *Trader) applyBuyDecisions(ctx context.Context, env *cycleEnv, decisions []llm.Decision) (applied, failed int) {
	batch := env.buyBatch
	skipped := 0

	for _, d := range decisions {
		if d.Action == llm.ActionHold {
			continue
		}

		var side portfolio.Side
		switch d.Action {
		case llm.ActionBuyToEnter:
			side = portfolio.SideLong
		case llm.ActionSellToEnter:
			side = portfolio.SideShort
		default:
			// Exit action in the entry pass: rejected, recorded.
			t.recordRejection(ctx, env, d, "", "wrong_pass", "exit action in entry pass")
			failed++
			continue
		}

		if batch > 0 && applied >= batch {
			skipped++
			continue
		}

		rec, err := t.engine.Apply(env.model.ID, portfolio.Open{
			Symbol:   d.Symbol,
			Side:     side,
			Qty:      d.Quantity,
			Leverage: d.Leverage,
		}, env.limits)
		if err != nil {
			kind, detail := applyErrorParts(err)
			t.recordRejection(ctx, env, d, string(side), kind, detail)
			failed++
			continue
		}
		t.persistTrade(ctx, env, rec)
		applied++
	}

	if skipped > 0 {
		t.persistWarning(ctx, env, "buy_batch_limit",
			fmt.Sprintf("skipped %d entries beyond batch size %d", skipped, batch))
	}
	return applied, failed
}

// applySellDecisions applies exit decisions against the cycle-start position
// set only. A decision naming a symbol the model did not hold at cycle start
// is rejected even if a position exists now.
func (t *Trader) applySellDecisions(ctx context.Context, env *cycleEnv, decisions []llm.Decision) (applied, failed int) {
	held := make(map[string][]portfolio.Position)
	for _, p := range env.positions {
		held[p.Symbol] = append(held[p.Symbol], p)
	}

	batch := env.sellBatch
	closedDecisions := 0
	skipped := 0

	for _, d := range decisions {
		if d.Action == llm.ActionHold {
			continue
		}

		var reason portfolio.Signal
		switch d.Action {
		case llm.ActionClosePosition:
			reason = portfolio.SignalClosePosition
		case llm.ActionStopLoss:
			reason = portfolio.SignalStopLoss
		case llm.ActionTakeProfit:
			reason = portfolio.SignalTakeProfit
		default:
			t.recordRejection(ctx, env, d, "", "wrong_pass", "entry action in exit pass")
			failed++
			continue
		}

		targets := held[d.Symbol]
		if len(targets) == 0 {
			t.recordRejection(ctx, env, d, "", string(portfolio.ErrNoSuchPosition),
				"symbol not held at cycle start")
			failed++
			continue
		}

		if batch > 0 && closedDecisions >= batch {
			skipped++
			continue
		}

		closedDecisions++
		for _, pos := range targets {
			rec, err := t.engine.Apply(env.model.ID, portfolio.Close{
				Symbol: d.Symbol,
				Side:   pos.Side,
				Qty:    d.Quantity,
				Reason: reason,
			}, env.limits)
			if err != nil {
				kind, detail := applyErrorParts(err)
				t.recordRejection(ctx, env, d, string(pos.Side), kind, detail)
				failed++
				continue
			}
			t.persistTrade(ctx, env, rec)
			applied++
		}
	}

	if skipped > 0 {
		t.persistWarning(ctx, env, "sell_batch_limit",
			fmt.Sprintf("skipped %d exits beyond batch size %d", skipped, batch))
	}
	return applied, failed
}

func applyErrorParts(err error) (kind, detail string) {
	if ae, ok := portfolio.AsApplyError(err); ok {
		return string(ae.Kind), ae.Error()
	}
	return "apply_error", err.Error()
}

// persistTrade writes a successful trade record.
func (t *Trader) persistTrade(ctx context.Context, env *cycleEnv, rec portfolio.TradeRecord) {
	trade := &database.Trade{
		ID:        rec.ID,
		ModelID:   rec.ModelID,
		CycleID:   env.cycleID,
		Symbol:    rec.Symbol,
		Side:      string(rec.Side),
		Signal:    string(rec.Signal),
		Price:     rec.Price,
		Quantity:  rec.Quantity,
		Leverage:  rec.Leverage,
		Pnl:       rec.Pnl,
		Fee:       rec.Fee,
		Status:    "success",
		CreatedAt: rec.Timestamp,
	}
	if err := t.store.CreateTrade(ctx, trade); err != nil {
		t.log.Error().Err(err).Str("trade_id", rec.ID).Msg("trade persist failed")
	}
}

// recordRejection writes a failed trade for one rejected decision.
func (t *Trader) recordRejection(ctx context.Context, env *cycleEnv, d llm.Decision, side, kind, detail string) {
	trade := &database.Trade{
		ModelID:     env.model.ID,
		CycleID:     env.cycleID,
		Symbol:      d.Symbol,
		Side:        side,
		Signal:      d.Action,
		Quantity:    d.Quantity,
		Leverage:    d.Leverage,
		Status:      "failed",
		ErrorKind:   kind,
		ErrorDetail: detail,
		CreatedAt:   time.Now(),
	}
	if err := t.store.CreateTrade(ctx, trade); err != nil {
		t.log.Warn().Err(err).Msg("rejection persist failed")
	}
}

// persistWarning writes a single advisory record for a cycle.
func (t *Trader) persistWarning(ctx context.Context, env *cycleEnv, kind, detail string) {
	trade := &database.Trade{
		ModelID:     env.model.ID,
		CycleID:     env.cycleID,
		Signal:      "warning",
		Status:      "failed",
		ErrorKind:   kind,
		ErrorDetail: detail,
		CreatedAt:   time.Now(),
	}
	if err := t.store.CreateTrade(ctx, trade); err != nil {
		t.log.Warn().Err(err).Msg("warning persist failed")
	}
}

