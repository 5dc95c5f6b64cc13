package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"consensusBot/config"
	"consensusBot/internal/adapters/binanceclient"
	"consensusBot/internal/adapters/logger"
	"consensusBot/internal/adapters/signallog"
	"consensusBot/internal/backtest"
	"consensusBot/internal/domain"
	"consensusBot/internal/utils"
)

func main() {
	setupLogPath := flag.String("setups", "", "setup log file to evaluate (defaults to SETUP_LOG_PATH)")
	pricesCSV := flag.String("prices", "", "kline CSV to price exits from; fetched from Binance when empty")
	optimize := flag.Bool("optimize", false, "sweep gate thresholds over the recorded signals")
	topN := flag.Int("top", 10, "number of optimizer results to print")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	path := *setupLogPath
	if path == "" {
		path = cfg.SetupLogPath
	}

	// 2. Load the recorded setups
	setups, err := signallog.ReadFile(ctx, path, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to read setup log", map[string]interface{}{"path": path})
		log.Fatalf("FATAL: Failed to read setup log: %v", err)
	}
	if len(setups) == 0 {
		log.Fatalf("FATAL: No setups found in %s", path)
	}
	appLogger.Info(ctx, "Loaded setups", map[string]interface{}{"count": len(setups), "path": path})

	// 3. Load the price series
	prices, err := loadPrices(ctx, cfg, appLogger, *pricesCSV, setups)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to load price series")
		log.Fatalf("FATAL: Failed to load price series: %v", err)
	}
	appLogger.Info(ctx, "Loaded price series", map[string]interface{}{"samples": len(prices)})

	// 4. Assemble segment rules: defaults plus any custom YAML file
	rules := backtest.DefaultSegmentRules(backtest.SegmentThresholds{
		StrongSignal:   cfg.StrongSignalThreshold,
		ConsensusBots:  cfg.ConsensusBotThreshold,
		HighConfidence: cfg.HighConfidenceThreshold,
	})
	if cfg.SegmentRules != "" {
		custom, err := backtest.LoadSegmentRules(cfg.SegmentRules)
		if err != nil {
			appLogger.Error(ctx, err, "Failed to load custom segment rules", map[string]interface{}{"path": cfg.SegmentRules})
			log.Fatalf("FATAL: Failed to load custom segment rules: %v", err)
		}
		rules = append(rules, custom...)
		appLogger.Info(ctx, "Loaded custom segment rules", map[string]interface{}{"count": len(custom)})
	}

	evaluator := backtest.NewEvaluator(backtest.Config{
		ExitTolerance:    cfg.ExitTolerance,
		MinSegmentTrades: cfg.MinSegmentTrades,
	}, appLogger)

	if *optimize {
		runOptimizer(ctx, cfg, appLogger, evaluator, setups, prices, rules, *topN)
		return
	}

	// 5. Evaluate every configured hold period and print the report
	results := evaluator.Run(ctx, setups, prices, cfg.HoldPeriods, rules)
	fmt.Print(backtest.RenderReport(results))
}

// loadPrices builds the exit price series, from a CSV file when one is given
// and from the exchange otherwise. The fetch window covers every setup plus
// the longest hold period and the exit tolerance.
func loadPrices(ctx context.Context, cfg *config.Config, appLogger *logger.StdLogger, csvPath string, setups []*domain.SignalEvent) ([]backtest.PricePoint, error) {
	if csvPath != "" {
		klines, err := utils.ReadKlinesFromCSV(csvPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", csvPath, err)
		}
		return backtest.PricesFromKlines(klines), nil
	}

	var maxHold time.Duration
	for _, h := range cfg.HoldPeriods {
		if h > maxHold {
			maxHold = h
		}
	}
	start := setups[0].Timestamp
	end := setups[0].Timestamp
	for _, s := range setups {
		if s.Timestamp.Before(start) {
			start = s.Timestamp
		}
		if s.Timestamp.After(end) {
			end = s.Timestamp
		}
	}
	end = end.Add(maxHold + cfg.ExitTolerance)

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exchange client: %w", err)
	}
	klines, err := client.GetKlinesRange(ctx, cfg.Symbol, cfg.Timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching klines %s to %s: %w", start, end, err)
	}
	return backtest.PricesFromKlines(klines), nil
}

// runOptimizer sweeps the gate thresholds over the recorded setups and prints
// the best combinations.
func runOptimizer(ctx context.Context, cfg *config.Config, appLogger *logger.StdLogger, evaluator *backtest.Evaluator, setups []*domain.SignalEvent, prices []backtest.PricePoint, rules []backtest.SegmentRule, topN int) {
	optimizer := backtest.NewOptimizer(backtest.OptimizerConfig{
		ParameterRanges: []backtest.ParameterRange{
			{Name: backtest.ParamMinStrength, Min: 2.0, Max: 8.0, Step: 0.5},
			{Name: backtest.ParamMinConfidence, Min: 0.4, Max: 0.9, Step: 0.05},
		},
		HoldPeriod: cfg.HoldPeriods[0],
	}, evaluator)

	results, err := optimizer.Optimize(ctx, setups, prices, rules)
	if err != nil {
		appLogger.Error(ctx, err, "Optimization failed")
		log.Fatalf("FATAL: Optimization failed: %v", err)
	}
	if len(results) > topN {
		results = results[:topN]
	}

	fmt.Printf("Top %d threshold combinations (hold %s):\n", len(results), cfg.HoldPeriods[0])
	for i, r := range results {
		params := make([]string, 0, len(r.Parameters))
		for name, value := range r.Parameters {
			params = append(params, fmt.Sprintf("%s=%.2f", name, value))
		}
		sort.Strings(params)
		fmt.Printf("%2d. score=%8.3f trades=%3d winRate=%5.1f%% pnl=%7.2f%% %v\n",
			i+1, r.Score, r.Metrics.TradeCount, r.Metrics.WinRate, r.Metrics.TotalPnLPct, params)
	}
}
