package config

import (
	"encoding/json"
	"time"

	"github.com/recall-labs/mnemo/pkg/memory"
)

// Config represents the main Mnemo configuration
type Config struct {
	// Storage
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Index
	Index IndexConfig `json:"index" mapstructure:"index"`

	// Query
	Query QueryConfig `json:"query" mapstructure:"query"`

	// Retention
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// StorageConfig holds durable store settings
type StorageConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// IndexConfig holds lexical and embedding index settings
type IndexConfig struct {
	EmbeddingDim int     `json:"embedding_dim" mapstructure:"embedding_dim"`
	BM25K1       float64 `json:"bm25_k1" mapstructure:"bm25_k1"`
	BM25B        float64 `json:"bm25_b" mapstructure:"bm25_b"`
}

// QueryConfig holds hybrid query settings
type QueryConfig struct {
	FusionAlpha float64 `json:"fusion_alpha" mapstructure:"fusion_alpha"`
	DefaultTopK int     `json:"default_top_k" mapstructure:"default_top_k"`
}

// RetentionConfig holds retention sweep settings
type RetentionConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	HorizonDays int    `json:"horizon_days" mapstructure:"horizon_days"`
	Schedule    string `json:"schedule" mapstructure:"schedule"` // cron expression or descriptor
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			EmbeddingDim: 384,
			BM25K1:       memory.DefaultBM25K1,
			BM25B:        memory.DefaultBM25B,
		},
		Query: QueryConfig{
			FusionAlpha: memory.DefaultFusionAlpha,
			DefaultTopK: 10,
		},
		Retention: RetentionConfig{
			Enabled:     false,
			HorizonDays: 90,
			Schedule:    "@hourly",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
	}
}

// Horizon returns the retention horizon as a duration.
func (r RetentionConfig) Horizon() time.Duration {
	return time.Duration(r.HorizonDays) * 24 * time.Hour
}

// MemoryConfig maps the file configuration to the memory store's config.
func (c *Config) MemoryConfig() memory.Config {
	return memory.Config{
		DBPath:       c.Storage.DBPath,
		EmbeddingDim: c.Index.EmbeddingDim,
		BM25K1:       c.Index.BM25K1,
		BM25B:        c.Index.BM25B,
		FusionAlpha:  c.Query.FusionAlpha,
		DefaultTopK:  c.Query.DefaultTopK,
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
