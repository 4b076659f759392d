// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads application settings.
//
// Settings are layered, later layers winning:
//  1. Built-in defaults
//  2. A YAML file
//  3. Variables from .env files
//  4. RECALL_* environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/processor"
	"github.com/poiesic/recall/reindex"
	"github.com/poiesic/recall/search"
	"gopkg.in/yaml.v3"
)

// Blob backends.
const (
	BlobLocal = "local"
	BlobGCS   = "gcs"
)

// StorageConfig selects and locates the storage tiers.
type StorageConfig struct {
	// Blob is the durable backend, "local" or "gcs".
	Blob string `yaml:"blob"`

	// BlobDir is the root of the local blob backend.
	BlobDir string `yaml:"blob_dir"`

	// Bucket and Prefix address the GCS backend.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key for GCS. Empty uses
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// Endpoint overrides the GCS API endpoint, for emulators.
	Endpoint string `yaml:"endpoint"`

	// CacheDir is the root of the local cache tier.
	CacheDir string `yaml:"cache_dir"`

	// IndexDir holds the vector index.
	IndexDir string `yaml:"index_dir"`

	// MirrorWorkers bounds parallel tier mirroring. Zero uses the CPU count.
	MirrorWorkers int `yaml:"mirror_workers"`

	// LeaseTTL bounds how long a writer that died mid-publish blocks
	// other processes.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Config holds every application setting.
type Config struct {
	AI        *ai.Config        `yaml:"ai"`
	Processor *processor.Config `yaml:"processor"`
	Search    *search.Config    `yaml:"search"`
	Reindex   *reindex.Config   `yaml:"reindex"`
	Storage   StorageConfig     `yaml:"storage"`
	Log       LogConfig         `yaml:"log"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration: local services and all
// tiers under ./data.
func Default() *Config {
	return &Config{
		AI:        ai.DefaultConfig(),
		Processor: processor.DefaultConfig(),
		Search:    search.DefaultConfig(),
		Reindex:   reindex.DefaultConfig(),
		Storage: StorageConfig{
			Blob:     BlobLocal,
			BlobDir:  filepath.Join("data", "blob"),
			CacheDir: filepath.Join("data", "cache"),
			IndexDir: filepath.Join("data", "index"),
			LeaseTTL: 2 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the given .env files (".env" when none are named) and the process
// environment. The result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	env, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(env)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path over the current values, so keys absent from the
// file keep their defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// WriteYAML saves the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Normalize fills sections a YAML file explicitly nulled out.
func (c *Config) Normalize() {
	if c.AI == nil {
		c.AI = ai.DefaultConfig()
	}
	if c.Processor == nil {
		c.Processor = processor.DefaultConfig()
	}
	if c.Search == nil {
		c.Search = search.DefaultConfig()
	}
	if c.Reindex == nil {
		c.Reindex = reindex.DefaultConfig()
	}
	if c.Storage.Blob == "" {
		c.Storage.Blob = BlobLocal
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	c.Normalize()

	if err := c.AI.Validate(); err != nil {
		return err
	}
	if err := c.Processor.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if c.Reindex.BatchSize < 1 || c.Reindex.MaxRetries < 1 {
		return errors.New("reindex config: BatchSize and MaxRetries must be at least 1")
	}

	s := c.Storage
	switch s.Blob {
	case BlobLocal:
		if s.BlobDir == "" {
			return errors.New("storage config: BlobDir is required for the local backend")
		}
	case BlobGCS:
		if s.Bucket == "" {
			return errors.New("storage config: Bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage config: unknown blob backend %q", s.Blob)
	}
	if s.CacheDir == "" {
		return errors.New("storage config: CacheDir is required")
	}
	if s.IndexDir == "" {
		return errors.New("storage config: IndexDir is required")
	}
	if s.MirrorWorkers < 0 {
		return errors.New("storage config: MirrorWorkers must not be negative")
	}
	if s.LeaseTTL < 0 {
		return errors.New("storage config: LeaseTTL must not be negative")
	}
	return nil
}
