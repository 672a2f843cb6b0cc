package store

import (
	"context"
	"time"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

// RecordKind distinguishes the rows kept in the performance store.
type RecordKind string

const (
	// KindOutcome is a single per-source prediction outcome.
	KindOutcome RecordKind = "outcome"
	// KindAccuracy is a computed-accuracy snapshot for a source.
	KindAccuracy RecordKind = "accuracy"
	// KindTrustWeight is a trust-weight snapshot for a source.
	KindTrustWeight RecordKind = "trust_weight"
	// KindDecision is the audit row written for an ensemble decision.
	KindDecision RecordKind = "decision"
	// KindFeedback is a user or implicit feedback event.
	KindFeedback RecordKind = "feedback"
)

// MetricRecord is one append-only row of fusion telemetry.
type MetricRecord struct {
	ID        string            `json:"id"`
	Source    prediction.Source `json:"source,omitempty"`
	Kind      RecordKind        `json:"kind"`
	Value     float64           `json:"value"`
	Correct   *bool             `json:"correct,omitempty"`
	Category  tab.Category      `json:"category,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// QueryFilter narrows Query results. Zero fields match everything.
type QueryFilter struct {
	Source prediction.Source
	Kind   RecordKind
	Limit  int
}

// DefaultQueryLimit caps queries that do not set an explicit limit.
const DefaultQueryLimit = 100

// MetricsStore is the append-only performance store. Implementations must
// be safe for concurrent use.
type MetricsStore interface {
	// Append stores one record.
	Append(ctx context.Context, rec MetricRecord) error

	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]MetricRecord, error)

	// CheckConnection verifies the store is reachable.
	CheckConnection(ctx context.Context) error

	// IsEnabled returns whether the store accepts records.
	IsEnabled() bool

	// Close releases resources held by the store.
	Close() error
}

// TrainingExample is one labeled example collected for the incremental
// trainer.
type TrainingExample struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Title     string            `json:"title"`
	Category  tab.Category      `json:"category"`
	Weight    int               `json:"weight"`
	Source    string            `json:"source"`
	Corrected bool              `json:"corrected"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// TrainingStore collects labeled examples for later training passes.
type TrainingStore interface {
	// Append stores one training example.
	Append(ctx context.Context, ex TrainingExample) error

	// Close releases resources held by the store.
	Close() error
}

// Sink accepts telemetry records without blocking the caller. The async
// writer is the production implementation; tests substitute their own.
type Sink interface {
	// Enqueue hands off a record for eventual persistence. It reports
	// whether the record was accepted.
	Enqueue(rec MetricRecord) bool
}

// BackendType selects the storage backend.
type BackendType string

const (
	// MemoryBackend keeps records in a bounded in-memory ring.
	MemoryBackend BackendType = "memory"
	// SQLiteBackend persists records to a local SQLite database.
	SQLiteBackend BackendType = "sqlite"
	// RedisBackend persists records to Redis.
	RedisBackend BackendType = "redis"
)

// Config configures the performance store.
type Config struct {
	// Enabled turns persistence on. When false every backend is replaced
	// by a disabled memory store.
	Enabled bool `yaml:"enabled"`

	// Backend selects memory, sqlite, or redis. Default: memory.
	Backend BackendType `yaml:"backend"`

	Memory MemoryConfig `yaml:"memory"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
	Writer WriterConfig `yaml:"writer"`
}

// MemoryConfig configures the in-memory backend.
type MemoryConfig struct {
	// MaxRecords bounds the ring buffer. Default: 10000.
	MaxRecords int `yaml:"max_records"`

	// MaxExamples bounds the in-memory training store. Default: 1000.
	MaxExamples int `yaml:"max_examples"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file. Required for the sqlite backend.
	Path string `yaml:"path"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`

	// KeyPrefix namespaces all keys. Default: "tabfusion:".
	KeyPrefix string `yaml:"key_prefix"`

	// TTLSeconds expires records. Default: 30 days.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// WriterConfig configures the async writer.
type WriterConfig struct {
	// BufferSize is the channel buffer size. Default: 1000.
	BufferSize int `yaml:"buffer_size"`

	// BatchSize is the number of records to batch before writing.
	// Default: 10.
	BatchSize int `yaml:"batch_size"`

	// FlushIntervalMs is the maximum time in milliseconds to wait before
	// flushing. Default: 100.
	FlushIntervalMs int `yaml:"flush_interval_ms"`

	// Workers is the number of worker goroutines. Default: 2.
	Workers int `yaml:"workers"`
}

// DefaultTTL is the retention for redis-backed records.
const DefaultTTL = 30 * 24 * time.Hour

// DefaultConfig returns the store defaults: an enabled in-memory backend.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Backend: MemoryBackend,
		Memory: MemoryConfig{
			MaxRecords:  10000,
			MaxExamples: 1000,
		},
		SQLite: SQLiteConfig{
			Path: "tab-fusion.db",
		},
		Redis: RedisConfig{
			KeyPrefix:  "tabfusion:",
			TTLSeconds: int(DefaultTTL.Seconds()),
		},
		Writer: WriterConfig{
			BufferSize:      1000,
			BatchSize:       10,
			FlushIntervalMs: 100,
			Workers:         2,
		},
	}
}
