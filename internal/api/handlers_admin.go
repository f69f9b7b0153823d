package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"llm-trading-arena/internal/cache"
	"llm-trading-arena/internal/database"
)

func (s *Server) handleListFutures(c *gin.Context) {
	futures, err := s.deps.Store.ListFutures(c.Request.Context())
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, futures)
}

func (s *Server) handleAddFuture(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid future payload")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		failMsg(c, http.StatusBadRequest, "symbol is required")
		return
	}
	f, err := s.deps.Store.AddFuture(c.Request.Context(), symbol)
	if err != nil {
		failFrom(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": f})
}

func (s *Server) handleSetFutureEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := strings.ToUpper(c.Param("symbol"))
		if err := s.deps.Store.SetFutureEnabled(c.Request.Context(), symbol, enabled); err != nil {
			failFrom(c, err)
			return
		}
		ok(c, gin.H{"symbol": symbol, "enabled": enabled})
	}
}

func (s *Server) handleDeleteFuture(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := s.deps.Store.DeleteFuture(c.Request.Context(), symbol); err != nil {
		failFrom(c, err)
		return
	}
	// Open positions still need a mark price; the refresher keeps tracking
	// held symbols, so only an unheld symbol's cache is dropped.
	held := false
	for _, h := range s.deps.Engine.HeldSymbols() {
		if h == symbol {
			held = true
			break
		}
	}
	if !held {
		s.deps.Market.Drop(symbol)
	}
	ok(c, gin.H{"deleted": symbol})
}

type providerRequest struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

func (r *providerRequest) validate(requireKey bool) error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	switch r.Kind {
	case "claude", "openai":
	default:
		return errors.New("kind must be claude or openai")
	}
	if requireKey && r.APIKey == "" {
		return errors.New("api_key is required")
	}
	return nil
}

func (s *Server) handleListProviders(c *gin.Context) {
	providers, err := s.deps.Store.ListProviders(c.Request.Context())
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, providers)
}

func (s *Server) handleCreateProvider(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid provider payload")
		return
	}
	if err := req.validate(true); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	p := &database.Provider{
		Name:    req.Name,
		Kind:    req.Kind,
		BaseURL: req.BaseURL,
		APIKey:  req.APIKey,
	}
	if err := s.deps.Store.CreateProvider(c.Request.Context(), p); err != nil {
		failFrom(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": p})
}

func (s *Server) handleGetProvider(c *gin.Context) {
	p, err := s.deps.Store.GetProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, p)
}

func (s *Server) handleUpdateProvider(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid provider payload")
		return
	}
	// An empty api_key keeps the stored credential.
	if err := req.validate(false); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	p := &database.Provider{
		ID:      c.Param("id"),
		Name:    req.Name,
		Kind:    req.Kind,
		BaseURL: req.BaseURL,
		APIKey:  req.APIKey,
	}
	if err := s.deps.Store.UpdateProvider(c.Request.Context(), p); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, p)
}

func (s *Server) handleDeleteProvider(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Store.DeleteProvider(c.Request.Context(), id); err != nil {
		failFrom(c, err)
		return
	}
	ok(c, gin.H{"deleted": id})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	ctx := c.Request.Context()
	var cached database.Settings
	if err := s.deps.KV.GetJSON(ctx, cache.KeySettings, &cached); err == nil {
		ok(c, cached)
		return
	}
	settings, err := s.deps.Store.GetSettings(ctx)
	if err != nil {
		failFrom(c, err)
		return
	}
	if err := s.deps.KV.SetJSON(ctx, cache.KeySettings, settings, cache.SettingsTTL); err != nil && err != cache.ErrUnavailable {
		s.log.Warn().Err(err).Msg("settings cache write failed")
	}
	ok(c, settings)
}

type settingsRequest struct {
	TradingFrequencyMinutes int     `json:"trading_frequency_minutes"`
	FeeRate                 float64 `json:"fee_rate"`
	BuyBatchSize            int     `json:"buy_batch_size"`
	DefaultLeverage         int     `json:"default_leverage"`
	MaxPositions            int     `json:"max_positions"`
	LeaderboardMinVolume    float64 `json:"leaderboard_min_volume"`
	ShowSystemPrompt        bool    `json:"show_system_prompt"`
}

func (r *settingsRequest) validate() error {
	if r.TradingFrequencyMinutes < 1 || r.TradingFrequencyMinutes > 1440 {
		return errors.New("trading_frequency_minutes must be between 1 and 1440")
	}
	if r.FeeRate < 0 || r.FeeRate > 0.01 {
		return errors.New("fee_rate must be in [0, 0.01]")
	}
	if r.BuyBatchSize < 1 {
		return errors.New("buy_batch_size must be at least 1")
	}
	if r.DefaultLeverage < 1 || r.DefaultLeverage > maxLeverage {
		return errors.New("default_leverage must be between 1 and 125")
	}
	if r.MaxPositions < 1 {
		return errors.New("max_positions must be at least 1")
	}
	if r.LeaderboardMinVolume < 0 {
		return errors.New("leaderboard_min_volume must not be negative")
	}
	return nil
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid settings payload")
		return
	}
	if err := req.validate(); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	settings := &database.Settings{
		TradingFrequencyMinutes: req.TradingFrequencyMinutes,
		FeeRate:                 req.FeeRate,
		BuyBatchSize:            req.BuyBatchSize,
		DefaultLeverage:         req.DefaultLeverage,
		MaxPositions:            req.MaxPositions,
		LeaderboardMinVolume:    req.LeaderboardMinVolume,
		ShowSystemPrompt:        req.ShowSystemPrompt,
	}
	if err := s.deps.Store.UpdateSettings(c.Request.Context(), settings); err != nil {
		failFrom(c, err)
		return
	}
	s.deps.KV.Invalidate(c.Request.Context(), cache.KeySettings)
	ok(c, settings)
}
