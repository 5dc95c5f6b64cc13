package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"consensusBot/config"
	"consensusBot/internal/adapters/signallog"
	"consensusBot/internal/consensus"
	"consensusBot/internal/domain"
	"consensusBot/internal/ports"
)

// maxKlineCacheSize bounds the stream-fed kline cache.
const maxKlineCacheSize = 500

// ConsensusService orchestrates the live pipeline: it polls the signal bots,
// feeds their events into the shared store, runs the aggregator on its own
// ticker and persists every emitted master setup.
type ConsensusService struct {
	cfg        *config.Config
	logger     ports.Logger
	market     ports.MarketDataClient
	store      ports.SignalStore
	archive    ports.SignalStore     // Durable copy of every signal; may be nil
	setupRepo  ports.SetupRepository // Durable master setups; may be nil
	aggregator *consensus.Aggregator
	bots       []ports.SignalBot
	signalLog  *signallog.Appender // May be nil
	setupLog   *signallog.Appender // May be nil

	// Kline cache fed by the websocket stream. Snapshots read from it so
	// bot poll cycles do not hit the REST klines endpoint every time.
	mu         sync.Mutex
	klineCache []*domain.Kline
}

// Deps bundles the service dependencies.
type Deps struct {
	Cfg        *config.Config
	Logger     ports.Logger
	Market     ports.MarketDataClient
	Store      ports.SignalStore
	Archive    ports.SignalStore
	SetupRepo  ports.SetupRepository
	Aggregator *consensus.Aggregator
	Bots       []ports.SignalBot
	SignalLog  *signallog.Appender
	SetupLog   *signallog.Appender
}

// NewConsensusService creates a new application service instance.
func NewConsensusService(deps Deps) (*ConsensusService, error) {
	if deps.Cfg == nil || deps.Logger == nil || deps.Market == nil || deps.Store == nil || deps.Aggregator == nil {
		return nil, fmt.Errorf("missing required dependencies for ConsensusService")
	}
	if len(deps.Bots) == 0 {
		return nil, fmt.Errorf("at least one signal bot is required")
	}
	if deps.Cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("configuration PollInterval must be positive")
	}
	if deps.Cfg.AggregationInterval <= 0 {
		return nil, fmt.Errorf("configuration AggregationInterval must be positive")
	}

	return &ConsensusService{
		cfg:        deps.Cfg,
		logger:     deps.Logger,
		market:     deps.Market,
		store:      deps.Store,
		archive:    deps.Archive,
		setupRepo:  deps.SetupRepo,
		aggregator: deps.Aggregator,
		bots:       deps.Bots,
		signalLog:  deps.SignalLog,
		setupLog:   deps.SetupLog,
	}, nil
}

// Start runs the service until the context is cancelled or a shutdown signal
// arrives.
func (s *ConsensusService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Consensus Service...", map[string]interface{}{
		"symbol":       s.cfg.Symbol,
		"bots":         len(s.bots),
		"pollInterval": s.cfg.PollInterval.String(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// Connectivity check before spinning up the loops.
	if err := s.market.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Exchange connectivity check failed")
		return fmt.Errorf("exchange ping failed: %w", err)
	}
	serverTime, err := s.market.GetServerTime(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to fetch exchange server time")
		return fmt.Errorf("failed to fetch server time: %w", err)
	}
	drift := time.Since(serverTime)
	s.logger.Info(ctx, "Exchange reachable", map[string]interface{}{
		"serverTime": serverTime,
		"clockDrift": drift.String(),
	})

	// Seed the kline cache and keep it fed from the websocket stream. A
	// failed stream start is not fatal; snapshots fall back to REST polls.
	if err := s.seedKlineCache(ctx); err != nil {
		s.logger.Warn(ctx, "Failed to seed kline cache", map[string]interface{}{"err": err.Error()})
	}

	var wg sync.WaitGroup

	if started, err := s.startKlineStream(ctx, &wg); err != nil {
		s.logger.Warn(ctx, "Kline stream unavailable, falling back to REST polls", map[string]interface{}{"err": err.Error()})
	} else if started {
		s.logger.Info(ctx, "Kline stream started", map[string]interface{}{
			"symbol":   s.cfg.Symbol,
			"interval": s.cfg.Timeframe,
		})
	}

	// One polling goroutine per bot. Bots run independently; a slow or
	// failing bot never blocks the others.
	for _, bot := range s.bots {
		wg.Add(1)
		go func(bot ports.SignalBot) {
			defer wg.Done()
			s.runBotLoop(ctx, bot)
		}(bot)
	}

	// The aggregator runs on its own cadence over the shared store.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runAggregatorLoop(ctx)
	}()

	<-ctx.Done()
	s.logger.Info(ctx, "Shutting down, waiting for loops to finish...")
	wg.Wait()
	s.logger.Info(ctx, "Consensus Service stopped")
	return nil
}

// seedKlineCache primes the cache over REST so the bots have history before
// the stream delivers its first closed kline.
func (s *ConsensusService) seedKlineCache(ctx context.Context) error {
	need := s.maxRequiredDataPoints()
	if need == 0 {
		return nil
	}
	limit := need + 5
	if limit > maxKlineCacheSize {
		limit = maxKlineCacheSize
	}
	klines, err := s.market.GetKlines(ctx, s.cfg.Symbol, s.cfg.Timeframe, limit)
	if err != nil {
		return fmt.Errorf("fetching seed klines: %w", err)
	}

	s.mu.Lock()
	s.klineCache = append(s.klineCache[:0], klines...)
	s.mu.Unlock()
	return nil
}

// startKlineStream subscribes to the kline stream and keeps the cache fed
// until the context is cancelled. Returns false when no bot consumes klines.
func (s *ConsensusService) startKlineStream(ctx context.Context, wg *sync.WaitGroup) (bool, error) {
	if s.maxRequiredDataPoints() == 0 {
		return false, nil
	}

	doneCh, stopCh, err := s.market.StreamKlines(ctx, s.cfg.Symbol, s.cfg.Timeframe,
		func(kline *domain.Kline) { s.cacheKline(kline) },
		func(err error) {
			s.logger.Warn(ctx, "Kline stream error", map[string]interface{}{"err": err.Error()})
		},
	)
	if err != nil {
		return false, err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			close(stopCh)
			<-doneCh
		case <-doneCh:
		}
		s.logger.Info(ctx, "Kline stream stopped")
	}()
	return true, nil
}

// cacheKline appends a closed kline to the cache. An update for the interval
// already at the tail replaces it; the cache is trimmed to its size bound.
func (s *ConsensusService) cacheKline(kline *domain.Kline) {
	if kline == nil || !kline.IsFinal {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.klineCache); n > 0 && s.klineCache[n-1].OpenTime.Equal(kline.OpenTime) {
		s.klineCache[n-1] = kline
	} else {
		s.klineCache = append(s.klineCache, kline)
	}
	if len(s.klineCache) > maxKlineCacheSize {
		s.klineCache = s.klineCache[len(s.klineCache)-maxKlineCacheSize:]
	}
}

// cachedKlines returns a copy of the most recent n cached klines, or nil when
// the cache holds fewer.
func (s *ConsensusService) cachedKlines(n int) []*domain.Kline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.klineCache) < n {
		return nil
	}
	out := make([]*domain.Kline, n)
	copy(out, s.klineCache[len(s.klineCache)-n:])
	return out
}

// maxRequiredDataPoints returns the largest kline history any bot needs.
func (s *ConsensusService) maxRequiredDataPoints() int {
	var max int
	for _, bot := range s.bots {
		if n := bot.RequiredDataPoints(); n > max {
			max = n
		}
	}
	return max
}

// runBotLoop polls one bot at the configured interval.
func (s *ConsensusService) runBotLoop(ctx context.Context, bot ports.SignalBot) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Bot loop started", map[string]interface{}{"bot": bot.Name()})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Bot loop stopped", map[string]interface{}{"bot": bot.Name()})
			return
		case <-ticker.C:
			if err := s.pollBot(ctx, bot); err != nil && ctx.Err() == nil {
				s.logger.Warn(ctx, "Bot poll cycle failed", map[string]interface{}{
					"bot": bot.Name(),
					"err": err.Error(),
				})
			}
		}
	}
}

// pollBot runs one analyze cycle for a bot and records the produced signal.
func (s *ConsensusService) pollBot(ctx context.Context, bot ports.SignalBot) error {
	snap, err := s.buildSnapshot(ctx, bot)
	if err != nil {
		return fmt.Errorf("building market snapshot: %w", err)
	}

	sig, err := bot.Analyze(ctx, snap)
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}
	if sig == nil {
		return nil
	}
	return s.recordSignal(ctx, sig)
}

// buildSnapshot gathers the market data one bot needs for a cycle.
func (s *ConsensusService) buildSnapshot(ctx context.Context, bot ports.SignalBot) (*ports.MarketSnapshot, error) {
	snap := &ports.MarketSnapshot{}

	if n := bot.RequiredDataPoints(); n > 0 {
		// The stream-fed cache covers most cycles; fall back to REST with a
		// little headroom beyond the strict minimum.
		klines := s.cachedKlines(n)
		if klines == nil {
			var err error
			klines, err = s.market.GetKlines(ctx, s.cfg.Symbol, s.cfg.Timeframe, n+5)
			if err != nil {
				return nil, fmt.Errorf("fetching klines: %w", err)
			}
		}
		snap.Klines = klines
		if len(klines) > 0 {
			snap.Price = klines[len(klines)-1].Close
		}
	}

	if bot.NeedsOrderBook() {
		book, err := s.market.GetOrderBook(ctx, s.cfg.Symbol, s.cfg.OrderBookDepth)
		if err != nil {
			return nil, fmt.Errorf("fetching order book: %w", err)
		}
		snap.Book = book
	}

	if snap.Price == 0 {
		price, err := s.market.GetTickerPrice(ctx, s.cfg.Symbol)
		if err != nil {
			return nil, fmt.Errorf("fetching ticker price: %w", err)
		}
		snap.Price = price
	}
	return snap, nil
}

// recordSignal fans a signal out to the live store, the durable archive and
// the signal log. Only the live store is load-bearing; archive and log
// failures are logged and tolerated.
func (s *ConsensusService) recordSignal(ctx context.Context, sig *domain.SignalEvent) error {
	if err := s.store.Append(ctx, sig); err != nil {
		return fmt.Errorf("appending to signal store: %w", err)
	}

	if s.archive != nil {
		if err := s.archive.Append(ctx, sig); err != nil {
			s.logger.Warn(ctx, "Failed to archive signal", map[string]interface{}{
				"bot": sig.BotID,
				"err": err.Error(),
			})
		}
	}
	if s.signalLog != nil {
		if err := s.signalLog.Append(sig); err != nil {
			s.logger.Warn(ctx, "Failed to append to signal log", map[string]interface{}{
				"bot": sig.BotID,
				"err": err.Error(),
			})
		}
	}

	s.logger.Info(ctx, "Signal recorded", map[string]interface{}{
		"bot":       sig.BotID,
		"direction": sig.Direction,
		"strength":  sig.Strength,
		"price":     sig.Price,
	})
	return nil
}

// runAggregatorLoop evaluates consensus at the configured interval.
func (s *ConsensusService) runAggregatorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AggregationInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Aggregator loop started", map[string]interface{}{
		"interval": s.cfg.AggregationInterval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Aggregator loop stopped")
			return
		case <-ticker.C:
			if err := s.evaluateConsensus(ctx, time.Now()); err != nil && ctx.Err() == nil {
				s.logger.Warn(ctx, "Consensus evaluation failed", map[string]interface{}{"err": err.Error()})
			}
		}
	}
}

// evaluateConsensus runs one aggregation cycle and persists any emission.
func (s *ConsensusService) evaluateConsensus(ctx context.Context, now time.Time) error {
	setup, err := s.aggregator.Evaluate(ctx, now)
	if err != nil {
		return fmt.Errorf("evaluating consensus: %w", err)
	}
	if setup == nil {
		return nil
	}

	if s.setupLog != nil {
		if err := s.setupLog.AppendSetup(setup); err != nil {
			s.logger.Warn(ctx, "Failed to append to setup log", map[string]interface{}{"err": err.Error()})
		}
	}
	if s.setupRepo != nil {
		if _, err := s.setupRepo.SaveSetup(ctx, setup); err != nil {
			s.logger.Warn(ctx, "Failed to persist master setup", map[string]interface{}{"err": err.Error()})
		}
	}

	s.logger.Info(ctx, "MASTER SETUP", map[string]interface{}{
		"direction":  setup.Direction,
		"strength":   setup.ConsensusStrength,
		"confidence": setup.ConsensusConfidence,
		"bots":       setup.AgreeingBotCount,
		"score":      setup.SetupScore,
		"price":      setup.Price,
	})
	return nil
}
