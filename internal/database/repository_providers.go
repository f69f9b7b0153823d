package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrProviderInUse rejects deleting a provider still referenced by a model.
var ErrProviderInUse = errors.New("provider is referenced by a model")

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

const providerColumns = `id, name, kind, base_url, api_key, created_at, updated_at`

func scanProvider(row pgx.Row) (*Provider, error) {
	p := &Provider{}
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.BaseURL, &p.APIKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.MaskedKey = maskKey(p.APIKey)
	return p, nil
}

// CreateProvider inserts a provider endpoint.
func (r *Repository) CreateProvider(ctx context.Context, p *Provider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	query := `
		INSERT INTO providers (id, name, kind, base_url, api_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query, p.ID, p.Name, p.Kind, p.BaseURL, p.APIKey).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		p.MaskedKey = maskKey(p.APIKey)
	}
	return err
}

// UpdateProvider rewrites a provider. An empty APIKey keeps the stored one.
func (r *Repository) UpdateProvider(ctx context.Context, p *Provider) error {
	query := `
		UPDATE providers
		SET name = $2, kind = $3, base_url = $4,
		    api_key = CASE WHEN $5 = '' THEN api_key ELSE $5 END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING api_key, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query, p.ID, p.Name, p.Kind, p.BaseURL, p.APIKey).
		Scan(&p.APIKey, &p.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	p.MaskedKey = maskKey(p.APIKey)
	return nil
}

// GetProvider returns a provider by ID, key included; callers decide what
// to expose.
func (r *Repository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id = $1`
	return scanProvider(r.db.Pool.QueryRow(ctx, query, id))
}

// ListProviders returns all providers ordered by name.
func (r *Repository) ListProviders(ctx context.Context) ([]*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers ORDER BY name`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProvider removes a provider unless a model still references it.
func (r *Repository) DeleteProvider(ctx context.Context, id string) error {
	var refs int
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM models WHERE provider_id = $1`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrProviderInUse
	}

	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM providers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
