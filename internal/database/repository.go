package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound reports a missing row in a form callers can branch on without
// importing pgx.
var ErrNotFound = errors.New("not found")

// Repository provides data access methods over the pool.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ============================================================================
// TRADES
// ============================================================================

// CreateTrade inserts a trade outcome. The caller supplies the ID so the
// persisted row matches the in-memory trade record.
func (r *Repository) CreateTrade(ctx context.Context, t *Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query := `
		INSERT INTO trades (id, model_id, cycle_id, symbol, side, signal, price, quantity,
		                    leverage, pnl, fee, status, error_kind, error_detail, created_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		t.ID, t.ModelID, t.CycleID, t.Symbol, t.Side, t.Signal, t.Price, t.Quantity,
		t.Leverage, t.Pnl, t.Fee, t.Status, t.ErrorKind, t.ErrorDetail, t.CreatedAt,
	)
	return err
}

const tradeColumns = `id, model_id, COALESCE(cycle_id::text, ''), symbol, side, signal,
	price, quantity, leverage, pnl, fee, status, error_kind, error_detail, created_at`

func (r *Repository) scanTrades(rows pgx.Rows) ([]*Trade, error) {
	defer rows.Close()
	var out []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(
			&t.ID, &t.ModelID, &t.CycleID, &t.Symbol, &t.Side, &t.Signal,
			&t.Price, &t.Quantity, &t.Leverage, &t.Pnl, &t.Fee, &t.Status,
			&t.ErrorKind, &t.ErrorDetail, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTradesByModel returns a model's trades newest first, capped at limit.
func (r *Repository) GetTradesByModel(ctx context.Context, modelID string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM trades WHERE model_id = $1 ORDER BY created_at DESC LIMIT $2`, tradeColumns)
	rows, err := r.db.Pool.Query(ctx, query, modelID, limit)
	if err != nil {
		return nil, err
	}
	return r.scanTrades(rows)
}

// GetSuccessfulTradesAsc returns a model's successful trades in application
// order, for portfolio replay.
func (r *Repository) GetSuccessfulTradesAsc(ctx context.Context, modelID string) ([]*Trade, error) {
	query := fmt.Sprintf(`SELECT %s FROM trades WHERE model_id = $1 AND status = 'success' ORDER BY created_at ASC`, tradeColumns)
	rows, err := r.db.Pool.Query(ctx, query, modelID)
	if err != nil {
		return nil, err
	}
	return r.scanTrades(rows)
}

// GetRecentTrades returns the newest trades across all models.
func (r *Repository) GetRecentTrades(ctx context.Context, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM trades ORDER BY created_at DESC LIMIT $1`, tradeColumns)
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return r.scanTrades(rows)
}
