package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"consensusBot/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API (market data only)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Market
	Symbol    string
	Timeframe string // Kline interval the bots consume (e.g., "1m")

	// Polling cadences
	PollInterval          time.Duration // Bot polling cadence
	AggregationInterval   time.Duration // Aggregator evaluation cadence
	OrderBookDepth        int           // Levels per side for depth snapshots

	// Consensus gates
	AggregationWindow    time.Duration // Signals older than this are ignored
	CooldownDuration     time.Duration // Minimum spacing between emitted setups
	MinConsensusStrength float64
	MinConfidence        float64
	MinSetupScore        float64

	// Backtest parameters
	HoldPeriods            []time.Duration // e.g., 5m, 10m, 20m
	ExitTolerance          time.Duration   // Max gap to the nearest exit sample
	StrongSignalThreshold  float64         // Segment split for strong/weak signals
	ConsensusBotThreshold  int             // Segment split for high/low consensus
	HighConfidenceThreshold float64        // Segment split for high/low confidence
	MinSegmentTrades       int             // Below this a segment is flagged as low-sample

	// Files
	SignalLogPath string
	SetupLogPath  string
	SegmentRules  string // Optional YAML file with extra segment rules

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // "std" or "zerolog"

	// Connection Settings (Binance client)
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API. Keys may be empty: all endpoints used here are public.
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Market
	cfg.Symbol = getEnv("SYMBOL", "SOLUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.Timeframe = getEnv("TIMEFRAME", "1m")
	if cfg.Timeframe == "" {
		errs = append(errs, "TIMEFRAME must be set")
	}

	// Polling cadences
	cfg.PollInterval = getEnvAsDuration("POLL_INTERVAL", 60*time.Second)
	if cfg.PollInterval <= 0 {
		errs = append(errs, "POLL_INTERVAL must be positive")
	}
	cfg.AggregationInterval = getEnvAsDuration("AGGREGATION_INTERVAL", 30*time.Second)
	if cfg.AggregationInterval <= 0 {
		errs = append(errs, "AGGREGATION_INTERVAL must be positive")
	}
	cfg.OrderBookDepth = getEnvAsInt("ORDER_BOOK_DEPTH", 20)
	if cfg.OrderBookDepth <= 0 {
		errs = append(errs, "ORDER_BOOK_DEPTH must be positive")
	}

	// Consensus gates. Defaults match the tuned live run: 3 minute window,
	// 7.5 minute cooldown, strength 4.0, confidence 0.65, score 7.0.
	cfg.AggregationWindow = getEnvAsDuration("AGGREGATION_WINDOW", 3*time.Minute)
	if cfg.AggregationWindow <= 0 {
		errs = append(errs, "AGGREGATION_WINDOW must be positive")
	}
	cfg.CooldownDuration = getEnvAsDuration("COOLDOWN_DURATION", 450*time.Second)
	if cfg.CooldownDuration < 0 {
		errs = append(errs, "COOLDOWN_DURATION cannot be negative")
	}

	cfg.MinConsensusStrength, err = getEnvAsFloatRequired("MIN_CONSENSUS_STRENGTH", 4.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_CONSENSUS_STRENGTH: %v", err))
	} else if cfg.MinConsensusStrength < 0 || cfg.MinConsensusStrength > 10 {
		errs = append(errs, "MIN_CONSENSUS_STRENGTH must be within [0,10]")
	}

	cfg.MinConfidence, err = getEnvAsFloatRequired("MIN_CONFIDENCE", 0.65)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_CONFIDENCE: %v", err))
	} else if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		errs = append(errs, "MIN_CONFIDENCE must be within [0,1]")
	}

	cfg.MinSetupScore, err = getEnvAsFloatRequired("MIN_SETUP_SCORE", 7.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_SETUP_SCORE: %v", err))
	} else if cfg.MinSetupScore < 0 || cfg.MinSetupScore > 10 {
		errs = append(errs, "MIN_SETUP_SCORE must be within [0,10]")
	}

	// Backtest parameters
	cfg.HoldPeriods, err = getEnvAsDurations("HOLD_PERIODS", []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute})
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HOLD_PERIODS: %v", err))
	} else if len(cfg.HoldPeriods) == 0 {
		errs = append(errs, "HOLD_PERIODS must name at least one duration")
	}
	cfg.ExitTolerance = getEnvAsDuration("EXIT_TOLERANCE", 2*time.Minute)
	if cfg.ExitTolerance <= 0 {
		errs = append(errs, "EXIT_TOLERANCE must be positive")
	}

	cfg.StrongSignalThreshold = getEnvAsFloat("STRONG_SIGNAL_THRESHOLD", 6.0)
	cfg.ConsensusBotThreshold = getEnvAsInt("CONSENSUS_BOT_THRESHOLD", 3)
	cfg.HighConfidenceThreshold = getEnvAsFloat("HIGH_CONFIDENCE_THRESHOLD", 0.7)
	cfg.MinSegmentTrades = getEnvAsInt("MIN_SEGMENT_TRADES", 5)
	if cfg.MinSegmentTrades < 0 {
		errs = append(errs, "MIN_SEGMENT_TRADES cannot be negative")
	}

	// Files
	cfg.SignalLogPath = getEnv("SIGNAL_LOG_PATH", "./data/signals.log")
	cfg.SetupLogPath = getEnv("SETUP_LOG_PATH", "./data/master_setups.log")
	cfg.SegmentRules = getEnv("SEGMENT_RULES", "")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/consensus_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "std"))
	if cfg.LogFormat != "std" && cfg.LogFormat != "zerolog" {
		errs = append(errs, "LOG_FORMAT must be 'std' or 'zerolog'")
	}

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// For non-required fields, default is acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurations parses a comma-separated list of Go durations ("5m,10m,20m").
func getEnvAsDurations(key string, defaultValue []time.Duration) ([]time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid duration '%s' for key %s: %w", p, key, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("duration '%s' for key %s must be positive", p, key)
		}
		out = append(out, d)
	}
	return out, nil
}
