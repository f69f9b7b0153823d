package database

import "time"

// Provider is one LLM endpoint with credentials. The API never returns the
// key; MaskedKey carries a redacted form for display.
type Provider struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	BaseURL   string    `json:"base_url"`
	APIKey    string    `json:"-"`
	MaskedKey string    `json:"api_key_masked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Model is one competing trader: an LLM identity plus its account rules.
// Leverage, MaxPositions and BuyBatchSize use 0 as "not set, fall back to
// global settings"; SellBatchSize 0 means uncapped.
type Model struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ProviderID      string    `json:"provider_id"`
	ModelName       string    `json:"model_name"`
	BuyPrompt       string    `json:"buy_prompt"`
	SellPrompt      string    `json:"sell_prompt"`
	InitialCapital  float64   `json:"initial_capital"`
	Leverage        int       `json:"leverage"`
	MaxPositions    int       `json:"max_positions"`
	AutoBuyEnabled  bool      `json:"auto_buy_enabled"`
	AutoSellEnabled bool      `json:"auto_sell_enabled"`
	BuyBatchSize    int       `json:"buy_batch_size"`
	SellBatchSize   int       `json:"sell_batch_size"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Future is one watchlist contract.
type Future struct {
	ID        int       `json:"id"`
	Symbol    string    `json:"symbol"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Trade is the persisted form of a decision outcome, successful or not.
// Failed trades have zero price/quantity and carry the rejection reason.
type Trade struct {
	ID          string    `json:"id"`
	ModelID     string    `json:"model_id"`
	CycleID     string    `json:"cycle_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Signal      string    `json:"signal"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Leverage    int       `json:"leverage"`
	Pnl         float64   `json:"pnl"`
	Fee         float64   `json:"fee"`
	Status      string    `json:"status"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation is one LLM exchange within a cycle pass.
type Conversation struct {
	ID           string    `json:"id"`
	ModelID      string    `json:"model_id"`
	CycleID      string    `json:"cycle_id"`
	Pass         string    `json:"pass"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	Response     string    `json:"response"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PortfolioSnapshot is a periodic checkpoint. Positions is stored as JSONB
// so recovery can replay only the trades newer than the checkpoint.
type PortfolioSnapshot struct {
	ID          int       `json:"id"`
	ModelID     string    `json:"model_id"`
	Cash        float64   `json:"cash"`
	RealizedPnl float64   `json:"realized_pnl"`
	TotalFees   float64   `json:"total_fees"`
	TotalValue  float64   `json:"total_value"`
	Positions   []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Settings is the single-row global configuration.
type Settings struct {
	TradingFrequencyMinutes int       `json:"trading_frequency_minutes"`
	FeeRate                 float64   `json:"fee_rate"`
	BuyBatchSize            int       `json:"buy_batch_size"`
	DefaultLeverage         int       `json:"default_leverage"`
	MaxPositions            int       `json:"max_positions"`
	LeaderboardMinVolume    float64   `json:"leaderboard_min_volume"`
	ShowSystemPrompt        bool      `json:"show_system_prompt"`
	UpdatedAt               time.Time `json:"updated_at"`
}
