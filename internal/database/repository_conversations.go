package database

import (
	"context"

	"github.com/google/uuid"
)

// CreateConversation records one LLM exchange, failed calls included.
func (r *Repository) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	query := `
		INSERT INTO conversations (id, model_id, cycle_id, pass, system_prompt,
		                           user_prompt, response, input_tokens, output_tokens, error)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		c.ID, c.ModelID, c.CycleID, c.Pass, c.SystemPrompt,
		c.UserPrompt, c.Response, c.InputTokens, c.OutputTokens, c.Error,
	).Scan(&c.CreatedAt)
}

// GetConversationsByModel returns a model's exchanges newest first.
func (r *Repository) GetConversationsByModel(ctx context.Context, modelID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, model_id, COALESCE(cycle_id::text, ''), pass, system_prompt,
		       user_prompt, response, input_tokens, output_tokens, error, created_at
		FROM conversations
		WHERE model_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c := &Conversation{}
		if err := rows.Scan(
			&c.ID, &c.ModelID, &c.CycleID, &c.Pass, &c.SystemPrompt,
			&c.UserPrompt, &c.Response, &c.InputTokens, &c.OutputTokens,
			&c.Error, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
