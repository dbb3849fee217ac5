package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// DatabaseURL is optional; without it sessions are checkpointed in memory.
	DatabaseURL     string `envconfig:"DATABASE_URL" default:""`
	SessionTTLHours int    `envconfig:"SESSION_TTL_HOURS" default:"24"`

	SearchEndpoint   string  `envconfig:"SEARCH_ENDPOINT" required:"true"`
	SearchAPIKey     string  `envconfig:"SEARCH_API_KEY" default:""`
	SearchPageSize   int     `envconfig:"SEARCH_PAGE_SIZE" default:"10"`
	SearchMaxPages   int     `envconfig:"SEARCH_MAX_PAGES" default:"3"`
	SearchRatePerSec float64 `envconfig:"SEARCH_RATE_PER_SEC" default:"2"`

	ClassifierEndpoint string        `envconfig:"CLASSIFIER_ENDPOINT" required:"true"`
	ClassifierAPIKey   string        `envconfig:"CLASSIFIER_API_KEY" default:""`
	ClassifierModel    string        `envconfig:"CLASSIFIER_MODEL" default:"adverse-media-v1"`
	ClassifierTimeout  time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"60s"`

	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"45s"`

	ClusterBatchSize    int `envconfig:"CLUSTER_BATCH_SIZE" default:"40"`
	CategorizeBatchSize int `envconfig:"CATEGORIZE_BATCH_SIZE" default:"20"`
	DedupeBatchSize     int `envconfig:"DEDUPE_BATCH_SIZE" default:"50"`
	DedupeMinInput      int `envconfig:"DEDUPE_MIN_INPUT" default:"12"`
	MaxPerCluster       int `envconfig:"MAX_PER_CLUSTER" default:"5"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.SearchEndpoint) == "" {
		return fmt.Errorf("SEARCH_ENDPOINT is required")
	}
	if strings.TrimSpace(c.ClassifierEndpoint) == "" {
		return fmt.Errorf("CLASSIFIER_ENDPOINT is required")
	}
	if c.SessionTTLHours < 1 {
		return fmt.Errorf("SESSION_TTL_HOURS must be >= 1")
	}
	if c.SearchPageSize < 1 {
		return fmt.Errorf("SEARCH_PAGE_SIZE must be >= 1")
	}
	if c.SearchMaxPages < 1 {
		return fmt.Errorf("SEARCH_MAX_PAGES must be >= 1")
	}
	if c.SearchRatePerSec <= 0 {
		return fmt.Errorf("SEARCH_RATE_PER_SEC must be > 0")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be > 0")
	}
	if c.ClusterBatchSize < 1 {
		return fmt.Errorf("CLUSTER_BATCH_SIZE must be >= 1")
	}
	if c.CategorizeBatchSize < 1 {
		return fmt.Errorf("CATEGORIZE_BATCH_SIZE must be >= 1")
	}
	if c.DedupeBatchSize < 1 {
		return fmt.Errorf("DEDUPE_BATCH_SIZE must be >= 1")
	}
	if c.MaxPerCluster < 1 {
		return fmt.Errorf("MAX_PER_CLUSTER must be >= 1")
	}
	return nil
}
