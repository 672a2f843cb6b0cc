package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

//go:embed schema.sql
var schemaSQL string

// openSQLite opens the database file and applies the schema.
func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}

// SQLiteStore is a SQLite-backed implementation of MetricsStore.
type SQLiteStore struct {
	db      *sql.DB
	enabled bool
}

// NewSQLiteStore creates a SQLite-backed performance store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := openSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, enabled: true}, nil
}

// IsEnabled returns whether the store is enabled.
func (s *SQLiteStore) IsEnabled() bool {
	return s.enabled
}

// CheckConnection verifies the database is reachable.
func (s *SQLiteStore) CheckConnection(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores one record.
func (s *SQLiteStore) Append(ctx context.Context, rec MetricRecord) error {
	if rec.ID == "" || rec.Kind == "" {
		return ErrInvalidInput
	}

	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal record metadata: %w", err)
	}

	var correct sql.NullBool
	if rec.Correct != nil {
		correct = sql.NullBool{Bool: *rec.Correct, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metric_records (id, source, kind, value, correct, category, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Source), string(rec.Kind), rec.Value, correct,
		int(rec.Category), rec.Timestamp.UTC(), meta)
	if err != nil {
		return fmt.Errorf("insert metric record: %w", err)
	}

	return nil
}

// Query returns records matching the filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter QueryFilter) ([]MetricRecord, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	query := "SELECT id, source, kind, value, correct, category, timestamp, metadata FROM metric_records"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metric records: %w", err)
	}
	defer rows.Close()

	var records []MetricRecord
	for rows.Next() {
		var (
			rec      MetricRecord
			source   string
			kind     string
			correct  sql.NullBool
			category int
			ts       time.Time
			meta     string
		)
		if err := rows.Scan(&rec.ID, &source, &kind, &rec.Value, &correct, &category, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scan metric record: %w", err)
		}

		rec.Source = prediction.Source(source)
		rec.Kind = RecordKind(kind)
		rec.Category = tab.Category(category)
		rec.Timestamp = ts
		if correct.Valid {
			v := correct.Bool
			rec.Correct = &v
		}
		if err := unmarshalMetadata(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal record metadata: %w", err)
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric records: %w", err)
	}

	return records, nil
}

// SQLiteTrainingStore is a SQLite-backed implementation of TrainingStore.
type SQLiteTrainingStore struct {
	db *sql.DB
}

// NewSQLiteTrainingStore creates a SQLite-backed training store.
func NewSQLiteTrainingStore(cfg SQLiteConfig) (*SQLiteTrainingStore, error) {
	db, err := openSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &SQLiteTrainingStore{db: db}, nil
}

// Append stores one training example.
func (s *SQLiteTrainingStore) Append(ctx context.Context, ex TrainingExample) error {
	if ex.ID == "" {
		return ErrInvalidInput
	}

	meta, err := marshalMetadata(ex.Metadata)
	if err != nil {
		return fmt.Errorf("marshal example metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO training_examples (id, url, title, category, weight, source, corrected, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.URL, ex.Title, int(ex.Category), ex.Weight, ex.Source,
		ex.Corrected, meta, ex.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert training example: %w", err)
	}

	return nil
}

// Close releases the database handle.
func (s *SQLiteTrainingStore) Close() error {
	return s.db.Close()
}

func marshalMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMetadata(raw string, meta *map[string]string) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(raw), meta)
}
