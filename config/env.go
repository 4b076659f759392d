package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix starts every recognized environment variable.
const EnvPrefix = "RECALL_"

// readEnvFiles merges the named .env files without touching the process
// environment. With no names, ".env" is read if present.
func readEnvFiles(files []string) (map[string]string, error) {
	optional := false
	if len(files) == 0 {
		files = []string{".env"}
		optional = true
	}

	merged := make(map[string]string)
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if err != nil {
			if optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read env file %s: %w", f, err)
		}
		for k, v := range vars {
			merged[k] = v
		}
	}
	return merged, nil
}

// lookup prefers the process environment over .env values.
func lookup(dotenv map[string]string, key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	v, ok := dotenv[key]
	return v, ok && v != ""
}

// applyEnv applies RECALL_* overrides. Malformed numeric values are ignored.
func (c *Config) applyEnv(dotenv map[string]string) {
	c.Normalize()

	str := func(name string, dst *string) {
		if v, ok := lookup(dotenv, EnvPrefix+name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(dotenv, EnvPrefix+name); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(dotenv, EnvPrefix+name); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(dotenv, EnvPrefix+name); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}

	// AI services
	str("HOST", &c.AI.EmbeddingHost)
	if v, ok := lookup(dotenv, EnvPrefix+"HOST"); ok {
		c.AI.VisionHost = v
		c.AI.TranscriptionHost = v
	}
	str("EMBEDDING_HOST", &c.AI.EmbeddingHost)
	str("EMBEDDING_MODEL", &c.AI.EmbeddingModel)
	str("VISION_HOST", &c.AI.VisionHost)
	str("VISION_MODEL", &c.AI.VisionModel)
	str("TRANSCRIPTION_HOST", &c.AI.TranscriptionHost)
	str("TRANSCRIPTION_MODEL", &c.AI.TranscriptionModel)
	if v, ok := lookup(dotenv, "OPENAI_API_KEY"); ok {
		c.AI.APIKey = v
	}
	str("API_KEY", &c.AI.APIKey)
	num("MAX_RETRIES", &c.AI.MaxRetries)

	// Processing
	num("PAGE_WINDOW", &c.Processor.PageWindow)
	num("CHUNK_BUDGET", &c.Processor.ChunkBudget)
	str("CHUNK_UNIT", &c.Processor.ChunkUnit)
	str("DOMAIN_HINT", &c.Processor.DomainHint)
	str("FFMPEG_PATH", &c.Processor.FFmpegPath)

	// Search
	num("MAX_RESULTS", &c.Search.MaxResults)
	float("MIN_RELEVANCE", &c.Search.MinRelevance)
	duration("STALE_CHECK_INTERVAL", &c.Search.StaleCheckInterval)

	// Storage
	str("BLOB", &c.Storage.Blob)
	str("BLOB_DIR", &c.Storage.BlobDir)
	str("BUCKET", &c.Storage.Bucket)
	str("PREFIX", &c.Storage.Prefix)
	if v, ok := lookup(dotenv, "GOOGLE_APPLICATION_CREDENTIALS"); ok {
		c.Storage.CredentialsFile = v
	}
	str("CREDENTIALS_FILE", &c.Storage.CredentialsFile)
	str("GCS_ENDPOINT", &c.Storage.Endpoint)
	str("CACHE_DIR", &c.Storage.CacheDir)
	str("INDEX_DIR", &c.Storage.IndexDir)
	num("MIRROR_WORKERS", &c.Storage.MirrorWorkers)
	duration("LEASE_TTL", &c.Storage.LeaseTTL)

	// Operations
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("METRICS_ADDR", &c.MetricsAddr)
}
