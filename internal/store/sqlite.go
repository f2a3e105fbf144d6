package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"market-engine/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Closed one-minute candles, append-only
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		bucket_start INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, bucket_start)
	);

	-- One row per user-initiated order submission
	CREATE TABLE IF NOT EXISTS order_attempts (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		order_class TEXT NOT NULL,
		order_kind TEXT,
		lot_size REAL NOT NULL,
		price REAL NOT NULL,
		margin TEXT NOT NULL,
		state TEXT NOT NULL,
		reason TEXT,
		submitted_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_bucket ON candles(symbol, bucket_start);
	CREATE INDEX IF NOT EXISTS idx_attempts_symbol ON order_attempts(symbol);
	CREATE INDEX IF NOT EXISTS idx_attempts_submitted ON order_attempts(submitted_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandle stores a closed candle. Closed candles are immutable, so a
// second save of the same bucket is ignored.
func (s *SQLiteStore) SaveCandle(ctx context.Context, c models.Candle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO candles (symbol, bucket_start, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.Symbol, c.BucketStart, c.Open, c.High, c.Low, c.Close)
	if err != nil {
		return fmt.Errorf("failed to insert candle: %w", err)
	}
	return nil
}

// GetCandles retrieves candles whose bucket starts within [from, to].
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, bucket_start, open, high, low, close
		FROM candles
		WHERE symbol = ? AND bucket_start >= ? AND bucket_start <= ?
		ORDER BY bucket_start ASC
	`, symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Symbol, &c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// LatestCandle returns the most recent stored candle, or nil.
func (s *SQLiteStore) LatestCandle(ctx context.Context, symbol string) (*models.Candle, error) {
	var c models.Candle
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, bucket_start, open, high, low, close
		FROM candles WHERE symbol = ?
		ORDER BY bucket_start DESC LIMIT 1
	`, symbol).Scan(&c.Symbol, &c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest candle: %w", err)
	}
	return &c, nil
}

// ============================================================================
// Order Attempt Methods
// ============================================================================

// RecordAttempt saves the outcome of an order submission. Times are stored
// in UTC so range filters compare consistently.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a models.OrderAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO order_attempts
		(id, symbol, exchange, side, order_class, order_kind, lot_size, price, margin, state, reason, submitted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Symbol, string(a.Exchange), string(a.Side), string(a.Class), string(a.Kind),
		a.LotSize, a.Price, a.Margin.String(), a.State, a.Reason, a.SubmittedAt.UTC(), a.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record order attempt: %w", err)
	}
	return nil
}

// GetAttempts retrieves order attempts, newest first.
func (s *SQLiteStore) GetAttempts(ctx context.Context, filter AttemptFilter) ([]models.OrderAttempt, error) {
	query := `
		SELECT id, symbol, exchange, side, order_class, order_kind, lot_size, price, margin, state, reason, submitted_at, completed_at
		FROM order_attempts
	`
	var conditions []string
	var args []interface{}

	if filter.Symbol != "" {
		conditions = append(conditions, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, filter.State)
	}
	if !filter.StartDate.IsZero() {
		conditions = append(conditions, "submitted_at >= ?")
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		conditions = append(conditions, "submitted_at <= ?")
		args = append(args, filter.EndDate.UTC())
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY submitted_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.OrderAttempt
	for rows.Next() {
		var a models.OrderAttempt
		var exchange, side, class, margin string
		var kind, reason sql.NullString
		if err := rows.Scan(&a.ID, &a.Symbol, &exchange, &side, &class, &kind,
			&a.LotSize, &a.Price, &margin, &a.State, &reason, &a.SubmittedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order attempt: %w", err)
		}
		a.Exchange = models.ExchangeClass(exchange)
		a.Side = models.OrderSide(side)
		a.Class = models.OrderClass(class)
		a.Kind = models.OrderKind(kind.String)
		a.Reason = reason.String
		a.Margin, err = decimal.NewFromString(margin)
		if err != nil {
			return nil, fmt.Errorf("failed to parse margin %q: %w", margin, err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order attempts: %w", err)
	}

	return attempts, nil
}

var _ DataStore = (*SQLiteStore)(nil)
