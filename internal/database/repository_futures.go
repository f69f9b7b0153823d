package database

import "context"

// AddFuture puts a contract on the watchlist. Re-adding an existing symbol
// re-enables it.
func (r *Repository) AddFuture(ctx context.Context, symbol string) (*Future, error) {
	query := `
		INSERT INTO futures (symbol, enabled)
		VALUES ($1, TRUE)
		ON CONFLICT (symbol) DO UPDATE SET enabled = TRUE
		RETURNING id, symbol, enabled, created_at
	`
	f := &Future{}
	err := r.db.Pool.QueryRow(ctx, query, symbol).
		Scan(&f.ID, &f.Symbol, &f.Enabled, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SetFutureEnabled flips the watchlist flag without losing the row.
func (r *Repository) SetFutureEnabled(ctx context.Context, symbol string, enabled bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE futures SET enabled = $2 WHERE symbol = $1`, symbol, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFuture removes a contract from the watchlist entirely.
func (r *Repository) DeleteFuture(ctx context.Context, symbol string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM futures WHERE symbol = $1`, symbol)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFutures returns the whole watchlist.
func (r *Repository) ListFutures(ctx context.Context) ([]*Future, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, symbol, enabled, created_at FROM futures ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Future
	for rows.Next() {
		f := &Future{}
		if err := rows.Scan(&f.ID, &f.Symbol, &f.Enabled, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// EnabledSymbols returns just the active watchlist symbols.
func (r *Repository) EnabledSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT symbol FROM futures WHERE enabled ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
