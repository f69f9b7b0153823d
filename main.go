package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm-trading-arena/config"
	"llm-trading-arena/internal/api"
	"llm-trading-arena/internal/auth"
	"llm-trading-arena/internal/cache"
	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/exchange"
	"llm-trading-arena/internal/llm"
	"llm-trading-arena/internal/logging"
	"llm-trading-arena/internal/market"
	"llm-trading-arena/internal/portfolio"
	"llm-trading-arena/internal/trader"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger := logging.Init(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Msg("trading arena starting")

	ctx := context.Background()
	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("connecting to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("running migrations")
	}
	repo := database.NewRepository(db)

	kv := cache.NewService(cache.Config{
		Enabled:  cfg.RedisConfig.Enabled,
		Address:  cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
	})
	defer kv.Close()

	bus := events.NewBus()
	defer bus.Close()

	var exchangeOpts []exchange.Option
	if cfg.ExchangeConfig.BaseURL != "" {
		exchangeOpts = append(exchangeOpts, exchange.WithBaseURL(cfg.ExchangeConfig.BaseURL))
	}
	venue := exchange.NewClient(exchangeOpts...)

	marketCache := market.NewCache()
	engine := portfolio.NewEngine(marketCache)

	watchlist := func() []string {
		symCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		symbols, err := repo.EnabledSymbols(symCtx)
		if err != nil {
			logger.Warn().Err(err).Msg("loading watchlist")
			return nil
		}
		return symbols
	}

	refresher := market.NewRefresher(market.RefresherConfig{
		SymbolsFn:      watchlist,
		KlineIntervals: cfg.MarketConfig.KlineIntervals,
		KlineLimit:     cfg.MarketConfig.KlineLimit,
		PriceEvery:     time.Duration(cfg.MarketConfig.PriceRefreshSeconds) * time.Second,
		TickerEvery:    time.Duration(cfg.MarketConfig.TickerRefreshSeconds) * time.Second,
	}, venue, marketCache, bus, engine.HeldSymbols)

	settings, err := repo.GetSettings(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading settings")
	}
	leaderboard := market.NewLeaderboard(market.LeaderboardConfig{
		RefreshEvery: time.Duration(cfg.LeaderboardConfig.RefreshSeconds) * time.Second,
		MinVolume:    settings.LeaderboardMinVolume,
		TopN:         cfg.LeaderboardConfig.TopN,
		QuoteSuffix:  cfg.LeaderboardConfig.QuoteSuffix,
	}, venue, bus)

	arenaTrader := trader.NewTrader(trader.Config{
		IndicatorInterval: cfg.MarketConfig.IndicatorInterval,
	}, repo, engine, marketCache, llm.NewClient(), bus)

	if err := arenaTrader.RecoverPortfolios(ctx); err != nil {
		logger.Fatal().Err(err).Msg("recovering portfolios")
	}

	scheduler := trader.NewScheduler(arenaTrader)

	authManager, err := auth.NewManager(cfg.AuthConfig.Password, cfg.AuthConfig.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing auth")
	}

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
	}, api.Deps{
		Store:       repo,
		Engine:      engine,
		Market:      marketCache,
		Leaderboard: leaderboard,
		Runner:      scheduler,
		Previewer:   arenaTrader,
		Bus:         bus,
		KV:          kv,
		Auth:        authManager,
	})

	refresher.Start()
	leaderboard.Start()
	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	scheduler.Stop()
	leaderboard.Stop()
	refresher.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	logger.Info().Msg("trading arena stopped")
}
