package trader

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/llm"
	"llm-trading-arena/internal/logging"
	"llm-trading-arena/internal/market"
	"llm-trading-arena/internal/portfolio"
)

// ErrBusy means a cycle for the model is already running. The caller gets
// an immediate answer; cycles are never queued.
var ErrBusy = errors.New("cycle already running for model")

// Store is the persistence surface a cycle needs.
type Store interface {
	GetSettings(ctx context.Context) (*database.Settings, error)
	ListModels(ctx context.Context) ([]*database.Model, error)
	GetModel(ctx context.Context, id string) (*database.Model, error)
	GetProvider(ctx context.Context, id string) (*database.Provider, error)
	EnabledSymbols(ctx context.Context) ([]string, error)
	CreateTrade(ctx context.Context, t *database.Trade) error
	CreateConversation(ctx context.Context, c *database.Conversation) error
	CreateSnapshot(ctx context.Context, s *database.PortfolioSnapshot) error
	GetSuccessfulTradesAsc(ctx context.Context, modelID string) ([]*database.Trade, error)
	GetTradesByModel(ctx context.Context, modelID string, limit int) ([]*database.Trade, error)
	LatestSnapshot(ctx context.Context, modelID string) (*database.PortfolioSnapshot, error)
}

// Config tunes cycle behavior.
type Config struct {
	// IndicatorInterval is the kline interval the prompt's moving averages
	// are computed over.
	IndicatorInterval string
}

func (c *Config) withDefaults() {
	if c.IndicatorInterval == "" {
		c.IndicatorInterval = "3m"
	}
}

// Trader drives per-model decision cycles.
type Trader struct {
	cfg       Config
	store     Store
	engine    *portfolio.Engine
	cache     *market.Cache
	completer llm.Completer
	bus       *events.Bus
	log       zerolog.Logger
}

func NewTrader(cfg Config, store Store, engine *portfolio.Engine, cache *market.Cache, completer llm.Completer, bus *events.Bus) *Trader {
	cfg.withDefaults()
	return &Trader{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		cache:     cache,
		completer: completer,
		bus:       bus,
		log:       logging.Component("trader"),
	}
}
