package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const modelColumns = `id, name, provider_id, model_name, buy_prompt, sell_prompt,
	initial_capital, leverage, max_positions, auto_buy_enabled, auto_sell_enabled,
	buy_batch_size, sell_batch_size, enabled, created_at, updated_at`

func scanModel(row pgx.Row) (*Model, error) {
	m := &Model{}
	err := row.Scan(
		&m.ID, &m.Name, &m.ProviderID, &m.ModelName, &m.BuyPrompt, &m.SellPrompt,
		&m.InitialCapital, &m.Leverage, &m.MaxPositions, &m.AutoBuyEnabled,
		&m.AutoSellEnabled, &m.BuyBatchSize, &m.SellBatchSize, &m.Enabled,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// CreateModel inserts a model and fills in its generated fields.
func (r *Repository) CreateModel(ctx context.Context, m *Model) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	query := `
		INSERT INTO models (id, name, provider_id, model_name, buy_prompt, sell_prompt,
		                    initial_capital, leverage, max_positions, auto_buy_enabled,
		                    auto_sell_enabled, buy_batch_size, sell_batch_size, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		m.ID, m.Name, m.ProviderID, m.ModelName, m.BuyPrompt, m.SellPrompt,
		m.InitialCapital, m.Leverage, m.MaxPositions, m.AutoBuyEnabled,
		m.AutoSellEnabled, m.BuyBatchSize, m.SellBatchSize, m.Enabled,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

// UpdateModel rewrites the mutable fields.
func (r *Repository) UpdateModel(ctx context.Context, m *Model) error {
	query := `
		UPDATE models
		SET name = $2, provider_id = $3, model_name = $4, buy_prompt = $5,
		    sell_prompt = $6, leverage = $7, max_positions = $8,
		    auto_buy_enabled = $9, auto_sell_enabled = $10, buy_batch_size = $11,
		    sell_batch_size = $12, enabled = $13, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		m.ID, m.Name, m.ProviderID, m.ModelName, m.BuyPrompt, m.SellPrompt,
		m.Leverage, m.MaxPositions, m.AutoBuyEnabled, m.AutoSellEnabled,
		m.BuyBatchSize, m.SellBatchSize, m.Enabled,
	).Scan(&m.UpdatedAt)
	return notFound(err)
}

// SetModelEnabled flips just the enabled flag.
func (r *Repository) SetModelEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE models SET enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetModelLeverage updates the per-model default leverage. 0 defers to the
// global setting.
func (r *Repository) SetModelLeverage(ctx context.Context, id string, leverage int) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE models SET leverage = $2, updated_at = NOW() WHERE id = $1`, id, leverage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetModelMaxPositions updates the per-model position cap.
func (r *Repository) SetModelMaxPositions(ctx context.Context, id string, maxPositions int) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE models SET max_positions = $2, updated_at = NOW() WHERE id = $1`, id, maxPositions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetModel returns a model by ID.
func (r *Repository) GetModel(ctx context.Context, id string) (*Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`
	return scanModel(r.db.Pool.QueryRow(ctx, query, id))
}

// ListModels returns every model ordered by creation time.
func (r *Repository) ListModels(ctx context.Context) ([]*Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteModel removes a model; trades, conversations and snapshots cascade.
func (r *Repository) DeleteModel(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM models WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
