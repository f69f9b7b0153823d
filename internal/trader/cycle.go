package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/llm"
	"llm-trading-arena/internal/market"
	"llm-trading-arena/internal/portfolio"
	"llm-trading-arena/internal/strategy"
)

// CycleState tracks a cycle's progress for the status API.
type CycleState string

const (
	StateIdle            CycleState = "idle"
	StateGatheringMarket CycleState = "gathering_market"
	StatePromptingLLM    CycleState = "prompting_llm"
	StateApplyingBuy     CycleState = "applying_buy"
	StateApplyingSell    CycleState = "applying_sell"
	StatePersisting      CycleState = "persisting"
	StateDone            CycleState = "done"
	StateFailed          CycleState = "failed"
)

// Pass selects which half of a cycle runs.
type Pass string

const (
	PassBuy  Pass = "buy"
	PassSell Pass = "sell"
	PassBoth Pass = "both"
)

// CycleResult summarizes one finished cycle.
type CycleResult struct {
	CycleID   string     `json:"cycle_id"`
	ModelID   string     `json:"model_id"`
	State     CycleState `json:"state"`
	Trades    int        `json:"trades"`
	Failures  int        `json:"failures"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	Duration  time.Duration
}

// cycleEnv is everything resolved once at cycle start. Settings and the
// position list are snapshotted here so a concurrent settings change or a
// fill in another model cannot shift the ground mid-cycle.
type cycleEnv struct {
	cycleID   string
	model     *database.Model
	provider  *database.Provider
	settings  *database.Settings
	limits    portfolio.Limits
	buyBatch  int
	sellBatch int
	llmConfig llm.Config
	market    []strategy.MarketView
	recent    []strategy.TradeView
	positions []portfolio.Position
}

// recentTradeCount bounds the trade-history section of the prompt.
const recentTradeCount = 10

// runCycle executes one decision cycle for a model. The caller holds the
// model's run slot.
func (t *Trader) runCycle(ctx context.Context, modelID string, pass Pass, setState func(CycleState)) CycleResult {
	started := time.Now()
	res := CycleResult{
		CycleID:   uuid.NewString(),
		ModelID:   modelID,
		StartedAt: started,
	}
	log := t.log.With().Str("model_id", modelID).Str("cycle_id", res.CycleID).Logger()

	fail := func(err error) CycleResult {
		setState(StateFailed)
		res.State = StateFailed
		res.Error = err.Error()
		res.Duration = time.Since(started)
		log.Error().Err(err).Msg("cycle failed")
		return res
	}

	setState(StateGatheringMarket)
	env, err := t.prepare(ctx, res.CycleID, modelID)
	if err != nil {
		return fail(err)
	}

	passFailed := false
	if pass == PassBoth || pass == PassBuy {
		trades, failures, err := t.buyPass(ctx, env, setState)
		res.Trades += trades
		res.Failures += failures
		if err != nil {
			passFailed = true
			res.Error = err.Error()
		}
	}
	if pass == PassBoth || pass == PassSell {
		trades, failures, err := t.sellPass(ctx, env, setState)
		res.Trades += trades
		res.Failures += failures
		if err != nil {
			passFailed = true
			res.Error = err.Error()
		}
	}

	setState(StatePersisting)
	if err := t.persistSnapshot(ctx, modelID); err != nil {
		log.Warn().Err(err).Msg("snapshot persist failed")
	}

	if passFailed {
		setState(StateFailed)
		res.State = StateFailed
	} else {
		setState(StateDone)
		res.State = StateDone
	}
	res.Duration = time.Since(started)
	log.Info().
		Str("state", string(res.State)).
		Int("trades", res.Trades).
		Int("failures", res.Failures).
		Dur("duration", res.Duration).
		Msg("cycle finished")
	return res
}

// prepare resolves the model, its provider, the settings snapshot and the
// market view for this cycle.
func (t *Trader) prepare(ctx context.Context, cycleID, modelID string) (*cycleEnv, error) {
	model, err := t.store.GetModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}
	if !model.Enabled {
		return nil, fmt.Errorf("model %s is disabled", model.Name)
	}
	provider, err := t.store.GetProvider(ctx, model.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("loading provider: %w", err)
	}
	settings, err := t.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	symbols, err := t.store.EnabledSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading watchlist: %w", err)
	}

	buyBatch := model.BuyBatchSize
	if buyBatch == 0 {
		buyBatch = settings.BuyBatchSize
	}
	env := &cycleEnv{
		cycleID:   cycleID,
		model:     model,
		provider:  provider,
		settings:  settings,
		limits:    buildLimits(model, settings),
		buyBatch:  buyBatch,
		sellBatch: model.SellBatchSize,
		llmConfig: llm.Config{
			Provider: llm.Provider(provider.Kind),
			BaseURL:  provider.BaseURL,
			APIKey:   provider.APIKey,
			Model:    model.ModelName,
		},
		positions: t.engine.Positions(modelID),
	}

	// History is flavor for the prompt; a fetch failure never kills the cycle.
	if trades, err := t.store.GetTradesByModel(ctx, modelID, recentTradeCount); err != nil {
		t.log.Warn().Err(err).Str("model_id", modelID).Msg("trade history load failed")
	} else {
		for _, tr := range trades {
			env.recent = append(env.recent, strategy.TradeView{
				Symbol: tr.Symbol,
				Side:   tr.Side,
				Signal: tr.Signal,
				Qty:    tr.Quantity,
				Price:  tr.Price,
				Pnl:    tr.Pnl,
				Status: tr.Status,
				At:     tr.CreatedAt,
			})
		}
	}

	now := time.Now()
	for _, symbol := range symbols {
		q, ok := t.cache.Quote(symbol)
		if !ok {
			// Never fetched successfully; the model cannot trade what it
			// cannot price.
			continue
		}
		closed := t.cache.ClosedKlines(symbol, t.cfg.IndicatorInterval, now)
		ind := market.ComputeIndicators(symbol, t.cfg.IndicatorInterval, closed)
		ind.Change24h = q.Change24h
		env.market = append(env.market, strategy.MarketView{
			Quote:      q,
			Indicators: ind,
		})
	}
	return env, nil
}

// buildLimits folds per-model overrides over the global settings. The auto
// flags are per-model; toggling one model never touches another.
func buildLimits(model *database.Model, settings *database.Settings) portfolio.Limits {
	leverage := model.Leverage
	if leverage == 0 {
		leverage = settings.DefaultLeverage
	}
	maxPositions := model.MaxPositions
	if maxPositions == 0 {
		maxPositions = settings.MaxPositions
	}
	return portfolio.Limits{
		AutoBuyEnabled:  model.AutoBuyEnabled,
		AutoSellEnabled: model.AutoSellEnabled,
		MaxPositions:    maxPositions,
		ModelLeverage:   leverage,
		FeeRate:         settings.FeeRate,
	}
}

func (t *Trader) strategyInput(env *cycleEnv) strategy.Input {
	snap, _ := t.engine.Snapshot(env.model.ID)
	return strategy.Input{
		Profile: strategy.ModelProfile{
			Name:       env.model.Name,
			BuyPrompt:  env.model.BuyPrompt,
			SellPrompt: env.model.SellPrompt,
		},
		Constraints: strategy.Constraints{
			MaxPositions:    env.limits.MaxPositions,
			DefaultLeverage: env.limits.ModelLeverage,
			FeeRate:         env.limits.FeeRate,
			BuyBatchSize:    env.buyBatch,
			ShortingEnabled: env.model.AutoSellEnabled,
		},
		Market:       env.market,
		RecentTrades: env.recent,
		Snapshot:     snap,
	}
}

// PreviewPrompts builds the buy and sell prompts a cycle would send right
// now, without calling the LLM or touching the portfolio.
func (t *Trader) PreviewPrompts(ctx context.Context, modelID string) (buy, sell llm.Request, err error) {
	env, err := t.prepare(ctx, uuid.NewString(), modelID)
	if err != nil {
		return llm.Request{}, llm.Request{}, err
	}
	in := t.strategyInput(env)
	buy = strategy.BuildBuyPrompt(in)
	in.Snapshot.Positions = env.positions
	sell = strategy.BuildSellPrompt(in, t.cache.PriceFor)
	return buy, sell, nil
}

// buyPass asks the model for entries and applies them.
func (t *Trader) buyPass(ctx context.Context, env *cycleEnv, setState func(CycleState)) (trades, failures int, err error) {
	if !env.model.AutoBuyEnabled {
		return 0, 0, nil
	}

	setState(StatePromptingLLM)
	req := strategy.BuildBuyPrompt(t.strategyInput(env))
	decisions, err := t.converse(ctx, env, PassBuy, req)
	if err != nil {
		t.recordPassFailure(ctx, env, PassBuy, err)
		return 0, 1, err
	}

	setState(StateApplyingBuy)
	trades, failures = t.applyBuyDecisions(ctx, env, decisions)
	return trades, failures, nil
}

// sellPass reviews the cycle-start positions and applies exits. Positions
// opened by this cycle's buy pass are deliberately not up for review until
// the next cycle.
func (t *Trader) sellPass(ctx context.Context, env *cycleEnv, setState func(CycleState)) (trades, failures int, err error) {
	if !env.model.AutoSellEnabled || len(env.positions) == 0 {
		return 0, 0, nil
	}

	setState(StatePromptingLLM)
	in := t.strategyInput(env)
	in.Snapshot.Positions = env.positions
	req := strategy.BuildSellPrompt(in, t.cache.PriceFor)
	decisions, err := t.converse(ctx, env, PassSell, req)
	if err != nil {
		t.recordPassFailure(ctx, env, PassSell, err)
		return 0, 1, err
	}

	setState(StateApplyingSell)
	trades, failures = t.applySellDecisions(ctx, env, decisions)
	return trades, failures, nil
}

// converse calls the LLM, persists the exchange either way, and parses the
// reply. A parse failure is still a recorded conversation.
func (t *Trader) converse(ctx context.Context, env *cycleEnv, pass Pass, req llm.Request) ([]llm.Decision, error) {
	conv := &database.Conversation{
		ModelID:    env.model.ID,
		CycleID:    env.cycleID,
		Pass:       string(pass),
		UserPrompt: req.User,
	}
	// Operators can hide system prompts from the stored transcript.
	if env.settings.ShowSystemPrompt {
		conv.SystemPrompt = req.System
	}

	resp, callErr := t.completer.Complete(ctx, env.llmConfig, req)
	if callErr != nil {
		conv.Error = callErr.Error()
		if err := t.store.CreateConversation(ctx, conv); err != nil {
			t.log.Warn().Err(err).Msg("conversation persist failed")
		}
		return nil, fmt.Errorf("llm call: %w", callErr)
	}

	conv.Response = resp.Text
	conv.InputTokens = resp.InputTokens
	conv.OutputTokens = resp.OutputTokens

	decisions, parseErr := llm.ParseDecisions(resp.Text)
	if parseErr != nil {
		conv.Error = parseErr.Error()
	}
	if err := t.store.CreateConversation(ctx, conv); err != nil {
		t.log.Warn().Err(err).Msg("conversation persist failed")
	}
	if parseErr != nil {
		return nil, fmt.Errorf("parsing decisions: %w", parseErr)
	}
	return decisions, nil
}

// recordPassFailure writes the failed-trade marker for a pass that produced
// no applicable decisions at all (LLM exhaustion, timeout, garbled reply).
func (t *Trader) recordPassFailure(ctx context.Context, env *cycleEnv, pass Pass, cause error) {
	trade := &database.Trade{
		ModelID:     env.model.ID,
		CycleID:     env.cycleID,
		Side:        "",
		Signal:      string(pass) + "_pass",
		Status:      "failed",
		ErrorKind:   "llm_error",
		ErrorDetail: cause.Error(),
		CreatedAt:   time.Now(),
	}
	if err := t.store.CreateTrade(ctx, trade); err != nil {
		t.log.Warn().Err(err).Msg("failure trade persist failed")
	}
}

// persistSnapshot checkpoints the model's accounting state.
func (t *Trader) persistSnapshot(ctx context.Context, modelID string) error {
	snap, err := t.engine.Snapshot(modelID)
	if err != nil {
		return err
	}
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return err
	}
	return t.store.CreateSnapshot(ctx, &database.PortfolioSnapshot{
		ModelID:     modelID,
		Cash:        snap.Cash,
		RealizedPnl: snap.RealizedPnl,
		TotalFees:   snap.TotalFees,
		TotalValue:  snap.TotalValue,
		Positions:   positions,
	})
}
