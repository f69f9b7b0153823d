package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"llm-trading-arena/internal/logging"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB opens a connection pool and verifies it with a ping.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log := logging.Component("database")
	log.Info().Str("database", cfg.Database).Msg("connected to postgres")
	return &DB{Pool: pool}, nil
}

// Close shuts down the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations applies the schema. Statements are idempotent so a restart
// reapplies them harmlessly.
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.Component("database")
	log.Info().Msg("running migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			id UUID PRIMARY KEY,
			name VARCHAR(100) NOT NULL UNIQUE,
			kind VARCHAR(20) NOT NULL,
			base_url TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS models (
			id UUID PRIMARY KEY,
			name VARCHAR(100) NOT NULL UNIQUE,
			provider_id UUID NOT NULL REFERENCES providers(id),
			model_name VARCHAR(100) NOT NULL,
			buy_prompt TEXT NOT NULL DEFAULT '',
			sell_prompt TEXT NOT NULL DEFAULT '',
			initial_capital DECIMAL(20, 8) NOT NULL,
			leverage INT NOT NULL DEFAULT 0,
			max_positions INT NOT NULL DEFAULT 3,
			auto_buy_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			auto_sell_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			buy_batch_size INT NOT NULL DEFAULT 0,
			sell_batch_size INT NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS futures (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			model_id UUID NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			cycle_id UUID,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			signal VARCHAR(20) NOT NULL,
			price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			leverage INT NOT NULL DEFAULT 0,
			pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			fee DECIMAL(20, 8) NOT NULL DEFAULT 0,
			status VARCHAR(10) NOT NULL,
			error_kind VARCHAR(40) NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_model ON trades(model_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_cycle ON trades(cycle_id)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			model_id UUID NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			cycle_id UUID,
			pass VARCHAR(10) NOT NULL,
			system_prompt TEXT NOT NULL,
			user_prompt TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			input_tokens INT NOT NULL DEFAULT 0,
			output_tokens INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_model ON conversations(model_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id SERIAL PRIMARY KEY,
			model_id UUID NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			cash DECIMAL(20, 8) NOT NULL,
			realized_pnl DECIMAL(20, 8) NOT NULL,
			total_fees DECIMAL(20, 8) NOT NULL,
			total_value DECIMAL(20, 8) NOT NULL,
			positions JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_model ON portfolio_snapshots(model_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS settings (
			id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			trading_frequency_minutes INT NOT NULL DEFAULT 60,
			fee_rate DECIMAL(10, 6) NOT NULL DEFAULT 0.001,
			buy_batch_size INT NOT NULL DEFAULT 3,
			default_leverage INT NOT NULL DEFAULT 10,
			max_positions INT NOT NULL DEFAULT 3,
			leaderboard_min_volume DECIMAL(20, 2) NOT NULL DEFAULT 1000000,
			show_system_prompt BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`INSERT INTO settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}

	for i, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	log.Info().Int("statements", len(migrations)).Msg("migrations complete")
	return nil
}
