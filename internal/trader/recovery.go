package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/portfolio"
)

// RecoverPortfolios rebuilds every model's in-memory accounting from the
// store: the latest checkpoint plus a replay of the trades recorded after
// it. A model with no history starts fresh at its initial capital.
func (t *Trader) RecoverPortfolios(ctx context.Context) error {
	models, err := t.store.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}

	for _, m := range models {
		if err := t.recoverModel(ctx, m); err != nil {
			return fmt.Errorf("recovering %s: %w", m.Name, err)
		}
	}
	t.log.Info().Int("models", len(models)).Msg("portfolios recovered")
	return nil
}

func (t *Trader) recoverModel(ctx context.Context, m *database.Model) error {
	trades, err := t.store.GetSuccessfulTradesAsc(ctx, m.ID)
	if err != nil {
		return err
	}
	records := make([]portfolio.TradeRecord, 0, len(trades))
	for _, tr := range trades {
		records = append(records, portfolio.TradeRecord{
			ID:        tr.ID,
			ModelID:   tr.ModelID,
			Symbol:    tr.Symbol,
			Side:      portfolio.Side(tr.Side),
			Signal:    portfolio.Signal(tr.Signal),
			Price:     tr.Price,
			Quantity:  tr.Quantity,
			Leverage:  tr.Leverage,
			Pnl:       tr.Pnl,
			Fee:       tr.Fee,
			Status:    portfolio.TradeStatusSuccess,
			Timestamp: tr.CreatedAt,
		})
	}

	var result portfolio.ReplayResult
	checkpoint, err := t.store.LatestSnapshot(ctx, m.ID)
	switch {
	case err == nil:
		var positions []portfolio.Position
		if len(checkpoint.Positions) > 0 {
			if err := json.Unmarshal(checkpoint.Positions, &positions); err != nil {
				return fmt.Errorf("decoding checkpoint positions: %w", err)
			}
		}
		result = portfolio.ReplayFrom(portfolio.Snapshot{
			ModelID:     m.ID,
			Cash:        checkpoint.Cash,
			RealizedPnl: checkpoint.RealizedPnl,
			TotalFees:   checkpoint.TotalFees,
			Positions:   positions,
		}, checkpoint.CreatedAt, records)
	case errors.Is(err, database.ErrNotFound):
		result = portfolio.Replay(m.InitialCapital, records)
	default:
		return err
	}

	t.engine.Restore(m.ID, result.Cash, m.InitialCapital, result.RealizedPnl,
		result.TotalFees, result.Positions, nil)
	t.log.Debug().
		Str("model_id", m.ID).
		Float64("cash", result.Cash).
		Int("positions", len(result.Positions)).
		Msg("portfolio restored")
	return nil
}
