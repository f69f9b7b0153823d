// Package api exposes the HTTP and WebSocket surface: model and provider
// administration, portfolio and trade views, market data, manual cycle
// execution and the live event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"llm-trading-arena/internal/auth"
	"llm-trading-arena/internal/cache"
	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/llm"
	"llm-trading-arena/internal/logging"
	"llm-trading-arena/internal/market"
	"llm-trading-arena/internal/portfolio"
	"llm-trading-arena/internal/trader"
)

// Store is the persistence surface the handlers depend on. *database.Repository
// satisfies it.
type Store interface {
	HealthCheck(ctx context.Context) error

	CreateModel(ctx context.Context, m *database.Model) error
	UpdateModel(ctx context.Context, m *database.Model) error
	SetModelEnabled(ctx context.Context, id string, enabled bool) error
	SetModelLeverage(ctx context.Context, id string, leverage int) error
	SetModelMaxPositions(ctx context.Context, id string, maxPositions int) error
	GetModel(ctx context.Context, id string) (*database.Model, error)
	ListModels(ctx context.Context) ([]*database.Model, error)
	DeleteModel(ctx context.Context, id string) error

	GetTradesByModel(ctx context.Context, modelID string, limit int) ([]*database.Trade, error)
	GetRecentTrades(ctx context.Context, limit int) ([]*database.Trade, error)
	GetConversationsByModel(ctx context.Context, modelID string, limit int) ([]*database.Conversation, error)
	SnapshotHistory(ctx context.Context, modelID string, limit int) ([]*database.PortfolioSnapshot, error)

	CreateProvider(ctx context.Context, p *database.Provider) error
	UpdateProvider(ctx context.Context, p *database.Provider) error
	GetProvider(ctx context.Context, id string) (*database.Provider, error)
	ListProviders(ctx context.Context) ([]*database.Provider, error)
	DeleteProvider(ctx context.Context, id string) error

	AddFuture(ctx context.Context, symbol string) (*database.Future, error)
	SetFutureEnabled(ctx context.Context, symbol string, enabled bool) error
	DeleteFuture(ctx context.Context, symbol string) error
	ListFutures(ctx context.Context) ([]*database.Future, error)

	GetSettings(ctx context.Context) (*database.Settings, error)
	UpdateSettings(ctx context.Context, s *database.Settings) error
}

// Runner executes decision cycles on demand. *trader.Scheduler satisfies it.
type Runner interface {
	Execute(ctx context.Context, modelID string, pass trader.Pass) (trader.CycleResult, error)
	Status(modelID string) trader.ModelStatus
}

// Previewer renders the prompts a cycle would send. *trader.Trader satisfies it.
type Previewer interface {
	PreviewPrompts(ctx context.Context, modelID string) (buy, sell llm.Request, err error)
}

// Boards serves the market leaderboard. *market.Leaderboard satisfies it.
type Boards interface {
	Snapshot() *market.LeaderboardSnapshot
	Pause()
	Resume()
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
	AllowedOrigins []string
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Store       Store
	Engine      *portfolio.Engine
	Market      *market.Cache
	Leaderboard Boards
	Runner      Runner
	Previewer   Previewer
	Bus         *events.Bus
	KV          *cache.Service
	Auth        *auth.Manager
}

// Server is the HTTP front of the arena.
type Server struct {
	cfg        ServerConfig
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
	hub        *Hub
	log        zerolog.Logger
}

// NewServer wires the router. Call Start to begin serving.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: gin.New(),
		hub:    NewHub(deps.Bus),
		log:    logging.Component("api"),
	}

	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(s.corsMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(s.cfg.AllowedOrigins) > 0 {
		cfg.AllowOrigins = s.cfg.AllowedOrigins
	} else {
		cfg.AllowOrigins = []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:5173",
		}
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.AllowCredentials = true
	return cors.New(cfg)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	authGroup := s.router.Group("/api/auth")
	{
		authGroup.POST("/login", s.handleLogin)
		authGroup.GET("/status", s.handleAuthStatus)
	}

	// Read-only market data stays public even with auth enabled.
	marketGroup := s.router.Group("/api/market")
	{
		marketGroup.GET("/prices", s.handlePrices)
		marketGroup.GET("/klines", s.handleKlines)
		marketGroup.GET("/indicators", s.handleIndicators)
		marketGroup.GET("/indicators/:symbol", s.handleIndicators)
		marketGroup.GET("/leaderboard", s.handleLeaderboardFull)
		marketGroup.GET("/leaderboard/gainers", s.handleLeaderboard(true))
		marketGroup.GET("/leaderboard/losers", s.handleLeaderboard(false))
	}

	api := s.router.Group("/api")
	api.Use(auth.Middleware(s.deps.Auth))
	{
		models := api.Group("/models")
		{
			models.GET("", s.handleListModels)
			models.POST("", s.handleCreateModel)
			models.GET("/:id", s.handleGetModel)
			models.PUT("/:id", s.handleUpdateModel)
			models.DELETE("/:id", s.handleDeleteModel)
			models.POST("/:id/enable", s.handleSetModelEnabled(true))
			models.POST("/:id/disable", s.handleSetModelEnabled(false))
			models.POST("/:id/auto-trading", s.handleAutoTrading)
			models.PUT("/:id/leverage", s.handleSetModelLeverage)
			models.POST("/:id/leverage", s.handleSetModelLeverage)
			models.PUT("/:id/max-positions", s.handleSetModelMaxPositions)
			models.POST("/:id/max_positions", s.handleSetModelMaxPositions)
			models.GET("/:id/portfolio", s.handleModelPortfolio)
			models.GET("/:id/portfolio-history", s.handleModelPortfolioHistory)
			models.GET("/:id/trades", s.handleModelTrades)
			models.GET("/:id/conversations", s.handleModelConversations)
			models.GET("/:id/prompts", s.handleModelPrompts)
			models.PUT("/:id/prompts", s.handleUpdateModelPrompts)
			models.GET("/:id/prompts/preview", s.handleModelPromptPreview)
			models.GET("/:id/status", s.handleModelStatus)
			models.POST("/:id/execute", s.handleExecute(trader.PassBoth))
			models.POST("/:id/execute-buy", s.handleExecute(trader.PassBuy))
			models.POST("/:id/execute-sell", s.handleExecute(trader.PassSell))
		}

		api.GET("/aggregated/portfolio", s.handleAggregatedPortfolio)
		api.GET("/trades", s.handleRecentTrades)

		api.POST("/market/leaderboard/pause", s.handleLeaderboardPause(true))
		api.POST("/market/leaderboard/resume", s.handleLeaderboardPause(false))

		futures := api.Group("/futures")
		{
			futures.GET("", s.handleListFutures)
			futures.POST("", s.handleAddFuture)
			futures.PUT("/:symbol/enable", s.handleSetFutureEnabled(true))
			futures.PUT("/:symbol/disable", s.handleSetFutureEnabled(false))
			futures.DELETE("/:symbol", s.handleDeleteFuture)
		}

		providers := api.Group("/providers")
		{
			providers.GET("", s.handleListProviders)
			providers.POST("", s.handleCreateProvider)
			providers.GET("/:id", s.handleGetProvider)
			providers.PUT("/:id", s.handleUpdateProvider)
			providers.DELETE("/:id", s.handleDeleteProvider)
		}

		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handleUpdateSettings)
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the event hub and the HTTP listener. Blocks until the listener
// stops.
func (s *Server) Start() error {
	s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "ok"
	status := http.StatusOK
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		dbStatus = err.Error()
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":   dbStatus,
		"cache":    s.deps.KV != nil && s.deps.KV.IsHealthy(),
		"ws_peers": s.hub.ClientCount(),
		"time":     time.Now().UTC(),
	})
}
