package database

import "context"

// GetSettings reads the single global settings row.
func (r *Repository) GetSettings(ctx context.Context) (*Settings, error) {
	query := `
		SELECT trading_frequency_minutes, fee_rate, buy_batch_size,
		       default_leverage, max_positions, leaderboard_min_volume,
		       show_system_prompt, updated_at
		FROM settings WHERE id = 1
	`
	s := &Settings{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&s.TradingFrequencyMinutes, &s.FeeRate, &s.BuyBatchSize,
		&s.DefaultLeverage, &s.MaxPositions, &s.LeaderboardMinVolume,
		&s.ShowSystemPrompt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// UpdateSettings rewrites the global settings row.
func (r *Repository) UpdateSettings(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings
		SET trading_frequency_minutes = $1, fee_rate = $2, buy_batch_size = $3,
		    default_leverage = $4, max_positions = $5, leaderboard_min_volume = $6,
		    show_system_prompt = $7, updated_at = NOW()
		WHERE id = 1
		RETURNING updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		s.TradingFrequencyMinutes, s.FeeRate, s.BuyBatchSize,
		s.DefaultLeverage, s.MaxPositions, s.LeaderboardMinVolume,
		s.ShowSystemPrompt,
	).Scan(&s.UpdatedAt)
}
