package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"

	"consensusBot/config"
	"consensusBot/internal/adapters/binanceclient"
	"consensusBot/internal/adapters/logger"
	"consensusBot/internal/adapters/signallog"
	"consensusBot/internal/adapters/sqlite"
	"consensusBot/internal/app"
	"consensusBot/internal/bots"
	"consensusBot/internal/consensus"
	"consensusBot/internal/ports"
	"consensusBot/internal/signalstore"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "zerolog" {
		appLogger = logger.NewZeroLogger(os.Stderr, cfg.LogLevel)
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Signal Bots
	indicatorBot, err := bots.NewIndicatorBot(bots.IndicatorBotConfig{Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize indicator bot")
		log.Fatalf("FATAL: Failed to initialize indicator bot: %v", err)
	}
	orderBookBot, err := bots.NewOrderBookBot(bots.OrderBookBotConfig{Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize order book bot")
		log.Fatalf("FATAL: Failed to initialize order book bot: %v", err)
	}
	breakoutBot, err := bots.NewBreakoutBot(bots.BreakoutBotConfig{Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize breakout bot")
		log.Fatalf("FATAL: Failed to initialize breakout bot: %v", err)
	}
	patternFilterBot, err := bots.NewPatternFilterBot(bots.PatternFilterBotConfig{Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize pattern filter bot")
		log.Fatalf("FATAL: Failed to initialize pattern filter bot: %v", err)
	}
	botFleet := []ports.SignalBot{indicatorBot, orderBookBot, breakoutBot, patternFilterBot}
	appLogger.Info(context.Background(), "Signal bots initialized", map[string]interface{}{"count": len(botFleet)})

	// 6. Initialize Signal Store and Aggregator
	store := signalstore.NewMemoryStore(0)
	aggregator, err := consensus.New(consensus.Config{
		Window:        cfg.AggregationWindow,
		Cooldown:      cfg.CooldownDuration,
		MinStrength:   cfg.MinConsensusStrength,
		MinConfidence: cfg.MinConfidence,
		MinSetupScore: cfg.MinSetupScore,
		ExpectedBots:  len(botFleet),
		// The depth bot reacts faster than the indicator stack, so its vote
		// carries a little extra weight.
		BotWeights: map[string]float64{"order_book": 1.2},
	}, store, consensus.NewCooldown(), appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize consensus aggregator")
		log.Fatalf("FATAL: Failed to initialize consensus aggregator: %v", err)
	}
	appLogger.Info(context.Background(), "Consensus aggregator initialized")

	// 7. Initialize Signal and Setup Logs
	signalLog, err := signallog.NewAppender(cfg.SignalLogPath)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to open signal log")
		log.Fatalf("FATAL: Failed to open signal log: %v", err)
	}
	defer func() {
		if err := signalLog.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing signal log")
		}
	}()
	setupLog, err := signallog.NewAppender(cfg.SetupLogPath)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to open setup log")
		log.Fatalf("FATAL: Failed to open setup log: %v", err)
	}
	defer func() {
		if err := setupLog.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing setup log")
		}
	}()

	// 8. Initialize Application Service
	service, err := app.NewConsensusService(app.Deps{
		Cfg:        cfg,
		Logger:     appLogger,
		Market:     binanceClient,
		Store:      store,
		Archive:    repo,
		SetupRepo:  repo,
		Aggregator: aggregator,
		Bots:       botFleet,
		SignalLog:  signalLog,
		SetupLog:   setupLog,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize consensus service")
		log.Fatalf("FATAL: Failed to initialize consensus service: %v", err)
	}
	appLogger.Info(context.Background(), "Consensus service initialized")

	// 9. Start the Service
	// Use context.Background() as the base context for the application run
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Consensus service exited with error")
		log.Fatalf("FATAL: Consensus service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
