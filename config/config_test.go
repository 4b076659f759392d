package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/recall/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BlobLocal, cfg.Storage.Blob)
	assert.Equal(t, 5, cfg.Processor.PageWindow)
	assert.Equal(t, 500, cfg.Processor.ChunkBudget)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.Equal(t, 2, cfg.Search.CandidateMultiplier)
	assert.Equal(t, 100, cfg.AI.EmbedBatchSize)
	assert.Equal(t, 8000, cfg.AI.MaxEmbedChars)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "recall.yaml", `
ai:
  embedding_model: text-embedding-3-small
processor:
  chunk_budget: 300
  chunk_unit: tokens
search:
  min_relevance: 0.35
  stale_check_interval: 5s
storage:
  blob: gcs
  bucket: clinical-content
  prefix: ward7
metrics_addr: ":9090"
`)
	cfg, err := Load(path, writeFile(t, "empty.env", ""))
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", cfg.AI.EmbeddingModel)
	assert.Equal(t, "llava", cfg.AI.VisionModel, "unset keys keep defaults")
	assert.Equal(t, 300, cfg.Processor.ChunkBudget)
	assert.Equal(t, processor.UnitTokens, cfg.Processor.ChunkUnit)
	assert.Equal(t, 5, cfg.Processor.PageWindow)
	assert.Equal(t, 0.35, cfg.Search.MinRelevance)
	assert.Equal(t, 5*time.Second, cfg.Search.StaleCheckInterval)
	assert.Equal(t, BlobGCS, cfg.Storage.Blob)
	assert.Equal(t, "clinical-content", cfg.Storage.Bucket)
	assert.Equal(t, "ward7", cfg.Storage.Prefix)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "recall.yaml", `
storage:
  cache_dir: /var/cache/recall
search:
  max_results: 5
`)
	envFile := writeFile(t, "test.env", `
RECALL_CACHE_DIR=/srv/cache
RECALL_MIN_RELEVANCE=0.4
RECALL_BUCKET=from-dotenv
`)
	t.Setenv("RECALL_MAX_RESULTS", "7")
	t.Setenv("RECALL_BUCKET", "from-env")
	t.Setenv("RECALL_BLOB", "gcs")
	t.Setenv("RECALL_PAGE_WINDOW", "not-a-number")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, "/srv/cache", cfg.Storage.CacheDir, ".env overrides the file")
	assert.Equal(t, 0.4, cfg.Search.MinRelevance)
	assert.Equal(t, 7, cfg.Search.MaxResults, "environment overrides the file")
	assert.Equal(t, "from-env", cfg.Storage.Bucket, "environment overrides .env")
	assert.Equal(t, 5, cfg.Processor.PageWindow, "malformed numbers are ignored")
}

func TestLoadSharedHost(t *testing.T) {
	t.Setenv("RECALL_HOST", "http://gpu-box:8080")
	t.Setenv("RECALL_VISION_HOST", "http://vision:8080/v1")

	cfg, err := Load("", writeFile(t, "empty.env", ""))
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:8080/v1", cfg.AI.EmbeddingHost)
	assert.Equal(t, "http://gpu-box:8080/v1", cfg.AI.TranscriptionHost)
	assert.Equal(t, "http://vision:8080/v1", cfg.AI.VisionHost)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "storage: [unclosed"))
	assert.Error(t, err)

	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err, "named env files must exist")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Blob = "s3" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Blob = BlobGCS }},
		{"local without dir", func(c *Config) { c.Storage.BlobDir = "" }},
		{"no cache dir", func(c *Config) { c.Storage.CacheDir = "" }},
		{"no index dir", func(c *Config) { c.Storage.IndexDir = "" }},
		{"negative workers", func(c *Config) { c.Storage.MirrorWorkers = -1 }},
		{"negative lease", func(c *Config) { c.Storage.LeaseTTL = -time.Second }},
		{"bad processor", func(c *Config) { c.Processor.PageWindow = 0 }},
		{"bad search", func(c *Config) { c.Search.MinRelevance = 1.5 }},
		{"bad ai", func(c *Config) { c.AI.EmbeddingModel = "" }},
		{"bad reindex", func(c *Config) { c.Reindex.BatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNormalizeRestoresNilSections(t *testing.T) {
	path := writeFile(t, "recall.yaml", "search: null\n")
	cfg, err := Load(path, writeFile(t, "empty.env", ""))
	require.NoError(t, err)
	require.NotNil(t, cfg.Search)
	assert.Equal(t, 10, cfg.Search.MaxResults)
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Storage.Prefix = "ward7"
	p := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(p))

	loaded, err := Load(p, writeFile(t, "empty.env", ""))
	require.NoError(t, err)
	assert.Equal(t, "ward7", loaded.Storage.Prefix)
	assert.Equal(t, cfg.Search.StaleCheckInterval, loaded.Search.StaleCheckInterval)
}
