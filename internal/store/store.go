// Package store implements the Postgres-backed raw ingestion layer.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// MessageRecord is one scraped channel post, keyed by (message_id, channel_name).
type MessageRecord struct {
	MessageID   int64      `json:"message_id"`
	ChannelName string     `json:"channel_name"`
	MessageDate *time.Time `json:"message_date"`
	MessageText string     `json:"message_text"`
	Views       int        `json:"views"`
	Forwards    int        `json:"forwards"`
	HasMedia    bool       `json:"has_media"`
	ImagePath   *string    `json:"image_path"`
}

// DetectionRecord is one classified image, as written by the enrichment stage.
type DetectionRecord struct {
	MessageID       string
	ChannelName     string
	DetectedObjects string
	ConfidenceScore float64
	ImageCategory   string
}

// LoadReport summarizes a message load batch so callers can assert on skip
// counts instead of scraping console output.
type LoadReport struct {
	Attempted  int
	Skipped    int
	PerChannel map[string]int
}

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// Store persists raw messages and image detections.
type Store struct {
	pool   Pool
	logger *zap.Logger
}

// New connects a Store to Postgres using the provided config.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, logger)
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Querier exposes the pool for read-only analytical queries.
func (s *Store) Querier() Pool {
	return s.pool
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const (
	createSchemaSQL = `CREATE SCHEMA IF NOT EXISTS raw`

	createMessagesSQL = `
CREATE TABLE IF NOT EXISTS raw.telegram_messages (
	message_id BIGINT,
	channel_name TEXT,
	message_date TIMESTAMPTZ,
	message_text TEXT,
	views INTEGER,
	forwards INTEGER,
	has_media BOOLEAN,
	image_path TEXT,
	PRIMARY KEY (message_id, channel_name)
)`

	createDetectionsSQL = `
CREATE TABLE IF NOT EXISTS raw.image_detections (
	message_id TEXT,
	channel_name TEXT,
	detected_objects TEXT,
	confidence_score DOUBLE PRECISION DEFAULT 0.0,
	image_category TEXT
)`

	insertMessageSQL = `
INSERT INTO raw.telegram_messages
	(message_id, channel_name, message_date, message_text, views, forwards, has_media, image_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (message_id, channel_name) DO NOTHING`

	insertDetectionSQL = `
INSERT INTO raw.image_detections
	(message_id, channel_name, detected_objects, confidence_score, image_category)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING`

	listDetectionsSQL = `
SELECT message_id, channel_name, detected_objects, confidence_score, image_category
FROM raw.image_detections`
)

// EnsureSchema creates the raw schema and tables if absent. Safe to call on
// every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createSchemaSQL, createMessagesSQL, createDetectionsSQL} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure raw schema: %w", err)
		}
	}
	return nil
}

// NormalizeChannel lowercases and trims a channel name. Applied on both the
// message and detection load paths so the two raw tables join cleanly.
func NormalizeChannel(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UpsertMessages inserts message records, skipping rows that already exist
// under the same (message_id, channel_name) key. Records missing the id or
// channel are dropped and counted, never fatal. The batch is a single
// transaction: a failed insert rolls back the whole batch.
func (s *Store) UpsertMessages(ctx context.Context, records []MessageRecord) (LoadReport, error) {
	report := LoadReport{PerChannel: make(map[string]int)}

	valid := make([]MessageRecord, 0, len(records))
	for _, rec := range records {
		rec.ChannelName = NormalizeChannel(rec.ChannelName)
		if rec.MessageID == 0 || rec.ChannelName == "" {
			report.Skipped++
			continue
		}
		valid = append(valid, rec)
	}
	if report.Skipped > 0 {
		s.logger.Warn("dropped malformed message records", zap.Int("count", report.Skipped))
	}
	if len(valid) == 0 {
		return report, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return report, fmt.Errorf("begin message batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, rec := range valid {
		if _, err := tx.Exec(ctx, insertMessageSQL,
			rec.MessageID,
			rec.ChannelName,
			rec.MessageDate,
			rec.MessageText,
			rec.Views,
			rec.Forwards,
			rec.HasMedia,
			rec.ImagePath,
		); err != nil {
			return report, fmt.Errorf("insert message %d/%s: %w", rec.MessageID, rec.ChannelName, err)
		}
		report.Attempted++
		report.PerChannel[rec.ChannelName]++
	}

	if err := tx.Commit(ctx); err != nil {
		return report, fmt.Errorf("commit message batch: %w", err)
	}
	return report, nil
}

// InsertDetections inserts detection rows best-effort: the raw table declares
// no uniqueness constraint, and conflicts are ignored rather than erred.
// Channel names are normalized and confidence defaults to 0.0. Returns the
// number of rows attempted.
func (s *Store) InsertDetections(ctx context.Context, records []DetectionRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin detection batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	attempted := 0
	for _, rec := range records {
		rec.ChannelName = NormalizeChannel(rec.ChannelName)
		if rec.ConfidenceScore < 0 {
			rec.ConfidenceScore = 0.0
		}
		if _, err := tx.Exec(ctx, insertDetectionSQL,
			rec.MessageID,
			rec.ChannelName,
			rec.DetectedObjects,
			rec.ConfidenceScore,
			rec.ImageCategory,
		); err != nil {
			return attempted, fmt.Errorf("insert detection %s/%s: %w", rec.MessageID, rec.ChannelName, err)
		}
		attempted++
	}

	if err := tx.Commit(ctx); err != nil {
		return attempted, fmt.Errorf("commit detection batch: %w", err)
	}
	return attempted, nil
}

// ListDetections returns every stored detection row, feeding the channel
// aggregation engine.
func (s *Store) ListDetections(ctx context.Context) ([]DetectionRecord, error) {
	rows, err := s.pool.Query(ctx, listDetectionsSQL)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var out []DetectionRecord
	for rows.Next() {
		var rec DetectionRecord
		if err := rows.Scan(
			&rec.MessageID,
			&rec.ChannelName,
			&rec.DetectedObjects,
			&rec.ConfidenceScore,
			&rec.ImageCategory,
		); err != nil {
			return nil, fmt.Errorf("scan detection row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detection rows: %w", err)
	}
	return out, nil
}
