package search

import (
	"errors"
	"time"
)

// Config tunes the search engine.
type Config struct {
	// MaxResults is used when a request does not set one.
	// Default: 10
	MaxResults int `yaml:"max_results"`

	// MaxResultsLimit caps what a request may ask for.
	// Default: 100
	MaxResultsLimit int `yaml:"max_results_limit"`

	// MinRelevance drops hits scoring below it. Relevance is in [0, 1].
	// Default: 0.2
	MinRelevance float64 `yaml:"min_relevance"`

	// CandidateMultiplier over-fetches nearest neighbours before the
	// relevance cutoff is applied.
	// Default: 2
	CandidateMultiplier int `yaml:"candidate_multiplier"`

	// QueryCacheSize is the number of query embeddings kept in memory.
	// Default: 1000
	QueryCacheSize int `yaml:"query_cache_size"`

	// StaleCheckInterval is how often a search compares the version
	// marker with the loaded handle. Zero checks on every search; a
	// negative value disables the check.
	// Default: 30s
	StaleCheckInterval time.Duration `yaml:"stale_check_interval"`

	// Exact scans every stored vector instead of walking the HNSW graph.
	Exact bool `yaml:"exact"`

	// M and EfSearch are the HNSW graph parameters.
	// Defaults: 16 and 20
	M        int `yaml:"m"`
	EfSearch int `yaml:"ef_search"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxResults:          10,
		MaxResultsLimit:     100,
		MinRelevance:        0.2,
		CandidateMultiplier: 2,
		QueryCacheSize:      1000,
		StaleCheckInterval:  30 * time.Second,
		M:                   16,
		EfSearch:            20,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxResults < 1 {
		return errors.New("search config: MaxResults must be at least 1")
	}
	if c.MaxResultsLimit < c.MaxResults {
		return errors.New("search config: MaxResultsLimit must be at least MaxResults")
	}
	if c.MinRelevance < 0 || c.MinRelevance > 1 {
		return errors.New("search config: MinRelevance must be between 0 and 1")
	}
	if c.CandidateMultiplier < 1 {
		return errors.New("search config: CandidateMultiplier must be at least 1")
	}
	if c.QueryCacheSize < 1 {
		return errors.New("search config: QueryCacheSize must be at least 1")
	}
	if c.M < 2 || c.EfSearch < 1 {
		return errors.New("search config: invalid HNSW parameters")
	}
	return nil
}
