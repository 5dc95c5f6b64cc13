package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"consensusBot/internal/domain"
	"consensusBot/internal/ports"

	"github.com/mattn/go-sqlite3"
)

// Repository implements ports.SignalStore and ports.SetupRepository using
// SQLite. It is the durable history behind the in-memory live store.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/consensus_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between bot writers and readers
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bot_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		strength REAL NOT NULL,
		confidence REAL NOT NULL,
		price REAL NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		attributes TEXT NOT NULL DEFAULT '',
		UNIQUE (bot_id, timestamp)
	);

	CREATE TABLE IF NOT EXISTS master_setups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		direction TEXT NOT NULL,
		consensus_strength REAL NOT NULL,
		consensus_confidence REAL NOT NULL,
		bot_count INTEGER NOT NULL,
		setup_score REAL NOT NULL,
		price REAL NOT NULL,
		contributing_bots TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals (timestamp);
	CREATE INDEX IF NOT EXISTS idx_signals_bot_id ON signals (bot_id, id);
	CREATE INDEX IF NOT EXISTS idx_master_setups_timestamp ON master_setups (timestamp);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- SignalStore Implementation ---

// Append validates and stores a signal event. A second event with the same
// (bot, timestamp) pair is rejected with ports.ErrDuplicateEntry.
func (r *Repository) Append(ctx context.Context, sig *domain.SignalEvent) error {
	if sig == nil {
		return fmt.Errorf("%w: nil signal", ports.ErrInvalidSignal)
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrInvalidSignal, err)
	}

	const query = `
	INSERT INTO signals (bot_id, direction, strength, confidence, price, timestamp, attributes)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		sig.BotID, string(sig.Direction), sig.Strength, sig.Confidence, sig.Price,
		sig.Timestamp.UTC(), encodeAttributes(sig.Attributes))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("signal from %s at %s: %w", sig.BotID, sig.Timestamp, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert signal from %s: %w", sig.BotID, err)
	}
	r.logger.Debug(ctx, "Signal persisted", map[string]interface{}{"bot": sig.BotID, "direction": sig.Direction})
	return nil
}

// InWindow returns signals with from <= timestamp <= to, ordered by timestamp.
func (r *Repository) InWindow(ctx context.Context, from, to time.Time) ([]*domain.SignalEvent, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid window: to %s before from %s", to, from)
	}
	const query = `
	SELECT bot_id, direction, strength, confidence, price, timestamp, attributes
	FROM signals
	WHERE timestamp >= ? AND timestamp <= ?
	ORDER BY timestamp ASC, id ASC`

	return r.querySignals(ctx, query, from.UTC(), to.UTC())
}

// ByBot returns the stored signals for one bot in append order.
func (r *Repository) ByBot(ctx context.Context, botID string) ([]*domain.SignalEvent, error) {
	const query = `
	SELECT bot_id, direction, strength, confidence, price, timestamp, attributes
	FROM signals
	WHERE bot_id = ?
	ORDER BY id ASC`

	return r.querySignals(ctx, query, botID)
}

// Len returns the number of stored signals.
func (r *Repository) Len(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return count, nil
}

func (r *Repository) querySignals(ctx context.Context, query string, args ...interface{}) ([]*domain.SignalEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	signals := make([]*domain.SignalEvent, 0)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}
	return signals, nil
}

// --- SetupRepository Implementation ---

// SaveSetup stores a master setup and returns its assigned ID.
func (r *Repository) SaveSetup(ctx context.Context, setup *domain.MasterSetupEvent) (int64, error) {
	const query = `
	INSERT INTO master_setups (timestamp, direction, consensus_strength, consensus_confidence,
	                           bot_count, setup_score, price, contributing_bots)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		setup.Timestamp.UTC(), string(setup.Direction), setup.ConsensusStrength, setup.ConsensusConfidence,
		setup.AgreeingBotCount, setup.SetupScore, setup.Price, strings.Join(setup.BotIDs(), ","))
	if err != nil {
		return 0, fmt.Errorf("failed to insert master setup: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for master setup: %w", err)
	}
	r.logger.Debug(ctx, "Master setup persisted", map[string]interface{}{"setupID": id, "direction": setup.Direction})
	return id, nil
}

// FindSetups retrieves setups with from <= timestamp <= to, ordered by timestamp.
func (r *Repository) FindSetups(ctx context.Context, from, to time.Time) ([]*domain.MasterSetupEvent, error) {
	const query = `
	SELECT timestamp, direction, consensus_strength, consensus_confidence,
	       bot_count, setup_score, price, contributing_bots
	FROM master_setups
	WHERE timestamp >= ? AND timestamp <= ?
	ORDER BY timestamp ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query master setups: %w", err)
	}
	defer rows.Close()

	setups := make([]*domain.MasterSetupEvent, 0)
	for rows.Next() {
		setup, err := scanSetup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan master setup row: %w", err)
		}
		setups = append(setups, setup)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating master setup rows: %w", err)
	}
	return setups, nil
}

// CountSetupsSince counts setups emitted at or after the given instant.
func (r *Repository) CountSetupsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM master_setups WHERE timestamp >= ?`, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count master setups: %w", err)
	}
	return count, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSignal scans a row into a domain.SignalEvent struct.
func scanSignal(s scanner) (*domain.SignalEvent, error) {
	sig := &domain.SignalEvent{}
	var direction, attrs string
	err := s.Scan(&sig.BotID, &direction, &sig.Strength, &sig.Confidence, &sig.Price, &sig.Timestamp, &attrs)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	sig.Direction = domain.Direction(direction)
	sig.Attributes = decodeAttributes(attrs)
	return sig, nil
}

// scanSetup scans a row into a domain.MasterSetupEvent struct. Contributing
// signals are not reconstructed; only the bot identifiers survive the round
// trip, carried as bare signals.
func scanSetup(s scanner) (*domain.MasterSetupEvent, error) {
	setup := &domain.MasterSetupEvent{}
	var direction, bots string
	err := s.Scan(&setup.Timestamp, &direction, &setup.ConsensusStrength, &setup.ConsensusConfidence,
		&setup.AgreeingBotCount, &setup.SetupScore, &setup.Price, &bots)
	if err != nil {
		return nil, err
	}
	setup.Direction = domain.Direction(direction)
	if bots != "" {
		for _, botID := range strings.Split(bots, ",") {
			setup.ContributingSignals = append(setup.ContributingSignals, &domain.SignalEvent{BotID: botID})
		}
	}
	return setup, nil
}

// encodeAttributes renders attributes as k:v/k:v with sorted keys, the same
// encoding the signal log uses.
func encodeAttributes(attrs map[string]float64) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+strconv.FormatFloat(attrs[k], 'f', -1, 64))
	}
	return strings.Join(parts, "/")
}

// decodeAttributes parses the k:v/k:v encoding, skipping malformed entries.
func decodeAttributes(encoded string) map[string]float64 {
	if encoded == "" {
		return nil
	}
	attrs := make(map[string]float64)
	for _, pair := range strings.Split(encoded, "/") {
		k, v, found := strings.Cut(pair, ":")
		if !found || k == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		attrs[k] = f
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
