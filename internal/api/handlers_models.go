package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/portfolio"
	"llm-trading-arena/internal/trader"
)

const maxLeverage = 125

// limitQuery reads a limit parameter, accepting both snake_case and
// camelCase spellings for older dashboard builds.
func limitQuery(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

type modelRequest struct {
	Name            string  `json:"name"`
	ProviderID      string  `json:"provider_id"`
	ModelName       string  `json:"model_name"`
	BuyPrompt       string  `json:"buy_prompt"`
	SellPrompt      string  `json:"sell_prompt"`
	InitialCapital  float64 `json:"initial_capital"`
	Leverage        int     `json:"leverage"`
	MaxPositions    int     `json:"max_positions"`
	BuyBatchSize    int     `json:"buy_batch_size"`
	SellBatchSize   int     `json:"sell_batch_size"`
	AutoBuyEnabled  *bool   `json:"auto_buy_enabled"`
	AutoSellEnabled *bool   `json:"auto_sell_enabled"`
	Enabled         *bool   `json:"enabled"`
}

func (r *modelRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if r.ProviderID == "" {
		return errors.New("provider_id is required")
	}
	if strings.TrimSpace(r.ModelName) == "" {
		return errors.New("model_name is required")
	}
	if r.InitialCapital <= 0 {
		return errors.New("initial_capital must be positive")
	}
	if r.Leverage < 0 || r.Leverage > maxLeverage {
		return errors.New("leverage must be between 0 and 125")
	}
	if r.MaxPositions < 0 {
		return errors.New("max_positions must not be negative")
	}
	if r.BuyBatchSize < 0 || r.SellBatchSize < 0 {
		return errors.New("batch sizes must not be negative")
	}
	return nil
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}

func (s *Server) handleListModels(c *gin.Context) {
	models, err := s.deps.Store.ListModels(c.Request.Context())
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, models)
}

func (s *Server) handleCreateModel(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid model payload")
		return
	}
	if err := req.validate(); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if _, err := s.deps.Store.GetProvider(c.Request.Context(), req.ProviderID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			failMsg(c, http.StatusBadRequest, "provider_id does not reference a provider")
			return
		}
		failFrom(c, err)
		return
	}

	m := &database.Model{
		Name:            req.Name,
		ProviderID:      req.ProviderID,
		ModelName:       req.ModelName,
		BuyPrompt:       req.BuyPrompt,
		SellPrompt:      req.SellPrompt,
		InitialCapital:  req.InitialCapital,
		Leverage:        req.Leverage,
		MaxPositions:    req.MaxPositions,
		BuyBatchSize:    req.BuyBatchSize,
		SellBatchSize:   req.SellBatchSize,
		AutoBuyEnabled:  boolOr(req.AutoBuyEnabled, true),
		AutoSellEnabled: boolOr(req.AutoSellEnabled, true),
		Enabled:         boolOr(req.Enabled, true),
	}
	if err := s.deps.Store.CreateModel(c.Request.Context(), m); err != nil {
		failFrom(c, err)
		return
	}
	s.deps.Engine.Register(m.ID, m.InitialCapital)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": m})
}

func (s *Server) handleGetModel(c *gin.Context) {
	m, err := s.deps.Store.GetModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, m)
}

func (s *Server) handleUpdateModel(c *gin.Context) {
	id := c.Param("id")
	existing, err := s.deps.Store.GetModel(c.Request.Context(), id)
	if err != nil {
		failFrom(c, err)
		return
	}

	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid model payload")
		return
	}
	if err := req.validate(); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	existing.Name = req.Name
	existing.ProviderID = req.ProviderID
	existing.ModelName = req.ModelName
	existing.BuyPrompt = req.BuyPrompt
	existing.SellPrompt = req.SellPrompt
	existing.Leverage = req.Leverage
	existing.MaxPositions = req.MaxPositions
	existing.BuyBatchSize = req.BuyBatchSize
	existing.SellBatchSize = req.SellBatchSize
	existing.AutoBuyEnabled = boolOr(req.AutoBuyEnabled, existing.AutoBuyEnabled)
	existing.AutoSellEnabled = boolOr(req.AutoSellEnabled, existing.AutoSellEnabled)
	existing.Enabled = boolOr(req.Enabled, existing.Enabled)
	// InitialCapital is immutable once trades exist; edits would corrupt
	// replay. The field in the payload is ignored.
	if err := s.deps.Store.UpdateModel(c.Request.Context(), existing); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, existing)
}

func (s *Server) handleDeleteModel(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Store.DeleteModel(c.Request.Context(), id); err != nil {
		failFrom(c, err)
		return
	}
	s.deps.Engine.Unregister(id)
	ok(c, gin.H{"deleted": id})
}

func (s *Server) handleSetModelEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := s.deps.Store.SetModelEnabled(c.Request.Context(), id, enabled); err != nil {
			failFrom(c, err)
			return
		}
		ok(c, gin.H{"id": id, "enabled": enabled})
	}
}

// handleAutoTrading takes either {"enabled": bool} to toggle the model, or
// {"auto_buy_enabled", "auto_sell_enabled"} to set that model's pass flags.
// A nil flag leaves the stored value alone.
func (s *Server) handleAutoTrading(c *gin.Context) {
	var req struct {
		Enabled         *bool `json:"enabled"`
		AutoBuyEnabled  *bool `json:"auto_buy_enabled"`
		AutoSellEnabled *bool `json:"auto_sell_enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid auto-trading payload")
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if req.Enabled != nil {
		if err := s.deps.Store.SetModelEnabled(ctx, id, *req.Enabled); err != nil {
			failFrom(c, err)
			return
		}
		ok(c, gin.H{"id": id, "enabled": *req.Enabled})
		return
	}
	if req.AutoBuyEnabled == nil && req.AutoSellEnabled == nil {
		failMsg(c, http.StatusBadRequest, "enabled or auto flags required")
		return
	}

	model, err := s.deps.Store.GetModel(ctx, id)
	if err != nil {
		failFrom(c, err)
		return
	}
	if req.AutoBuyEnabled != nil {
		model.AutoBuyEnabled = *req.AutoBuyEnabled
	}
	if req.AutoSellEnabled != nil {
		model.AutoSellEnabled = *req.AutoSellEnabled
	}
	if err := s.deps.Store.UpdateModel(ctx, model); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{
		"id":                id,
		"auto_buy_enabled":  model.AutoBuyEnabled,
		"auto_sell_enabled": model.AutoSellEnabled,
	})
}

func (s *Server) handleSetModelLeverage(c *gin.Context) {
	var req struct {
		Leverage int `json:"leverage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid leverage payload")
		return
	}
	if req.Leverage < 0 || req.Leverage > maxLeverage {
		failMsg(c, http.StatusBadRequest, "leverage must be between 0 and 125")
		return
	}
	id := c.Param("id")
	if err := s.deps.Store.SetModelLeverage(c.Request.Context(), id, req.Leverage); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"id": id, "leverage": req.Leverage})
}

func (s *Server) handleSetModelMaxPositions(c *gin.Context) {
	var req struct {
		MaxPositions int `json:"max_positions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid max positions payload")
		return
	}
	if req.MaxPositions < 0 {
		failMsg(c, http.StatusBadRequest, "max_positions must not be negative")
		return
	}
	id := c.Param("id")
	if err := s.deps.Store.SetModelMaxPositions(c.Request.Context(), id, req.MaxPositions); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"id": id, "max_positions": req.MaxPositions})
}

func (s *Server) handleModelPortfolio(c *gin.Context) {
	id := c.Param("id")
	snap, err := s.deps.Engine.Snapshot(id)
	if err != nil {
		failFrom(c, err)
		return
	}
	model, err := s.deps.Store.GetModel(c.Request.Context(), id)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{
		"portfolio":             snap,
		"account_value_history": s.deps.Engine.History(id),
		"auto_buy_enabled":      model.AutoBuyEnabled,
		"auto_sell_enabled":     model.AutoSellEnabled,
		"leverage":              model.Leverage,
	})
}

// handleModelPortfolioHistory serves the persisted checkpoints, which survive
// restarts; the in-memory value series from /portfolio does not.
func (s *Server) handleModelPortfolioHistory(c *gin.Context) {
	snaps, err := s.deps.Store.SnapshotHistory(c.Request.Context(), c.Param("id"), limitQuery(c, 500))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, snaps)
}

func (s *Server) handleModelTrades(c *gin.Context) {
	trades, err := s.deps.Store.GetTradesByModel(c.Request.Context(), c.Param("id"), limitQuery(c, 100))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, trades)
}

func (s *Server) handleModelConversations(c *gin.Context) {
	convs, err := s.deps.Store.GetConversationsByModel(c.Request.Context(), c.Param("id"), limitQuery(c, 20))
	if err != nil {
		failFrom(c, err)
		return
	}
	// Rows carry both naming conventions; older dashboard builds read the
	// camelCase keys.
	rows := make([]gin.H, 0, len(convs))
	for _, cv := range convs {
		rows = append(rows, gin.H{
			"id":            cv.ID,
			"model_id":      cv.ModelID,
			"modelId":       cv.ModelID,
			"cycle_id":      cv.CycleID,
			"cycleId":       cv.CycleID,
			"pass":          cv.Pass,
			"system_prompt": cv.SystemPrompt,
			"systemPrompt":  cv.SystemPrompt,
			"user_prompt":   cv.UserPrompt,
			"userPrompt":    cv.UserPrompt,
			"response":      cv.Response,
			"input_tokens":  cv.InputTokens,
			"inputTokens":   cv.InputTokens,
			"output_tokens": cv.OutputTokens,
			"outputTokens":  cv.OutputTokens,
			"error":         cv.Error,
			"created_at":    cv.CreatedAt,
			"createdAt":     cv.CreatedAt,
		})
	}
	ok(c, rows)
}

// handleUpdateModelPrompts replaces the model's custom pass prompts. A nil
// field leaves that side untouched; an explicit "" clears it back to the
// built-in default.
func (s *Server) handleUpdateModelPrompts(c *gin.Context) {
	var req struct {
		BuyPrompt  *string `json:"buy_prompt"`
		SellPrompt *string `json:"sell_prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid prompt payload")
		return
	}
	if req.BuyPrompt == nil && req.SellPrompt == nil {
		failMsg(c, http.StatusBadRequest, "buy_prompt or sell_prompt is required")
		return
	}

	model, err := s.deps.Store.GetModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	if req.BuyPrompt != nil {
		model.BuyPrompt = *req.BuyPrompt
	}
	if req.SellPrompt != nil {
		model.SellPrompt = *req.SellPrompt
	}
	if err := s.deps.Store.UpdateModel(c.Request.Context(), model); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"buy_prompt": model.BuyPrompt, "sell_prompt": model.SellPrompt})
}

func (s *Server) handleModelPrompts(c *gin.Context) {
	model, err := s.deps.Store.GetModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"buy_prompt": model.BuyPrompt, "sell_prompt": model.SellPrompt})
}

// handleModelPromptPreview renders the exact prompts the next cycle would
// send, with the live market snapshot folded in.
func (s *Server) handleModelPromptPreview(c *gin.Context) {
	buy, sell, err := s.deps.Previewer.PreviewPrompts(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			fail(c, http.StatusNotFound, err)
			return
		}
		failFrom(c, err)
		return
	}
	ok(c, gin.H{
		"buy":  gin.H{"system": buy.System, "user": buy.User},
		"sell": gin.H{"system": sell.System, "user": sell.User},
	})
}

func (s *Server) handleModelStatus(c *gin.Context) {
	ok(c, s.deps.Runner.Status(c.Param("id")))
}

func (s *Server) handleExecute(pass trader.Pass) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.deps.Runner.Execute(c.Request.Context(), c.Param("id"), pass)
		if err != nil {
			if errors.Is(err, trader.ErrBusy) {
				// Not a client mistake and not a server fault; the caller
				// just polls again.
				c.JSON(http.StatusOK, gin.H{"success": false, "busy": true, "error": err.Error()})
				return
			}
			failFrom(c, err)
			return
		}
		ok(c, res)
	}
}

func (s *Server) handleRecentTrades(c *gin.Context) {
	trades, err := s.deps.Store.GetRecentTrades(c.Request.Context(), limitQuery(c, 50))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, trades)
}

type aggregatedPortfolio struct {
	TotalValue         float64               `json:"total_value"`
	TotalCash          float64               `json:"total_cash"`
	TotalRealizedPnl   float64               `json:"total_realized_pnl"`
	TotalUnrealizedPnl float64               `json:"total_unrealized_pnl"`
	TotalFees          float64               `json:"total_fees"`
	Models             []portfolio.Snapshot `json:"models"`
}

func (s *Server) handleAggregatedPortfolio(c *gin.Context) {
	models, err := s.deps.Store.ListModels(c.Request.Context())
	if err != nil {
		failFrom(c, err)
		return
	}

	agg := aggregatedPortfolio{Models: make([]portfolio.Snapshot, 0, len(models))}
	for _, m := range models {
		snap, err := s.deps.Engine.Snapshot(m.ID)
		if err != nil {
			// Not yet recovered into the engine; skip rather than fail the view.
			continue
		}
		agg.TotalValue += snap.TotalValue
		agg.TotalCash += snap.Cash
		agg.TotalRealizedPnl += snap.RealizedPnl
		agg.TotalUnrealizedPnl += snap.UnrealizedPnl
		agg.TotalFees += snap.TotalFees
		agg.Models = append(agg.Models, snap)
	}
	ok(c, agg)
}
