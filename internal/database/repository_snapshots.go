package database

import "context"

// CreateSnapshot checkpoints one model's accounting state.
func (r *Repository) CreateSnapshot(ctx context.Context, s *PortfolioSnapshot) error {
	query := `
		INSERT INTO portfolio_snapshots (model_id, cash, realized_pnl, total_fees, total_value, positions)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		s.ModelID, s.Cash, s.RealizedPnl, s.TotalFees, s.TotalValue, s.Positions,
	).Scan(&s.ID, &s.CreatedAt)
}

// LatestSnapshot returns a model's newest checkpoint, or ErrNotFound when
// the model has never been checkpointed.
func (r *Repository) LatestSnapshot(ctx context.Context, modelID string) (*PortfolioSnapshot, error) {
	query := `
		SELECT id, model_id, cash, realized_pnl, total_fees, total_value, positions, created_at
		FROM portfolio_snapshots
		WHERE model_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	s := &PortfolioSnapshot{}
	err := r.db.Pool.QueryRow(ctx, query, modelID).Scan(
		&s.ID, &s.ModelID, &s.Cash, &s.RealizedPnl, &s.TotalFees,
		&s.TotalValue, &s.Positions, &s.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// SnapshotHistory returns checkpoints oldest first for value-curve charts.
func (r *Repository) SnapshotHistory(ctx context.Context, modelID string, limit int) ([]*PortfolioSnapshot, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT id, model_id, cash, realized_pnl, total_fees, total_value, positions, created_at
		FROM (
			SELECT * FROM portfolio_snapshots
			WHERE model_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PortfolioSnapshot
	for rows.Next() {
		s := &PortfolioSnapshot{}
		if err := rows.Scan(
			&s.ID, &s.ModelID, &s.Cash, &s.RealizedPnl, &s.TotalFees,
			&s.TotalValue, &s.Positions, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
