package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration. Invalid settings fail fast;
// they are never retried at runtime.
func (v *Validator) Validate(cfg *Config) error {
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if err := v.ValidateEmbeddingDim(cfg.Index.EmbeddingDim); err != nil {
		return err
	}
	if err := v.ValidateBM25(cfg.Index.BM25K1, cfg.Index.BM25B); err != nil {
		return err
	}
	if err := v.ValidateFusionAlpha(cfg.Query.FusionAlpha); err != nil {
		return err
	}
	if cfg.Query.DefaultTopK <= 0 {
		return fmt.Errorf("query.default_top_k must be positive, got %d", cfg.Query.DefaultTopK)
	}
	if cfg.Retention.Enabled {
		if cfg.Retention.HorizonDays <= 0 {
			return fmt.Errorf("retention.horizon_days must be positive, got %d", cfg.Retention.HorizonDays)
		}
		if err := v.ValidateSchedule(cfg.Retention.Schedule); err != nil {
			return err
		}
	}
	return v.ValidateLogLevel(cfg.Logging.Level)
}

// ValidateEmbeddingDim validates the embedding dimension
func (v *Validator) ValidateEmbeddingDim(dim int) error {
	if dim <= 0 {
		return fmt.Errorf("index.embedding_dim must be positive, got %d", dim)
	}
	return nil
}

// ValidateBM25 validates the BM25 constants
func (v *Validator) ValidateBM25(k1, b float64) error {
	if k1 <= 0 {
		return fmt.Errorf("index.bm25_k1 must be positive, got %v", k1)
	}
	if b < 0 || b > 1 {
		return fmt.Errorf("index.bm25_b must be between 0 and 1, got %v", b)
	}
	return nil
}

// ValidateFusionAlpha validates the hybrid fusion weight
func (v *Validator) ValidateFusionAlpha(alpha float64) error {
	if alpha < 0 || alpha > 1 {
		return fmt.Errorf("query.fusion_alpha must be between 0 and 1, got %v", alpha)
	}
	return nil
}

// ValidateSchedule validates a cron schedule expression
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil // sweeper falls back to its default
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid retention.schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s", level)
}
