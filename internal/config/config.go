// Package config loads IndexingSettings from the environment the same way
// the teacher's own internal/config does: plain os.Getenv/strconv, a local
// .env file loaded first via godotenv, no flags framework beyond what
// cmd/indexer and cmd/pipelinectl already use from the standard flag
// package.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sudarshan/indexcore/internal/indexer"
	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/storage"
)

// Config holds every environment-driven knob one pipeline daemon needs:
// identity, backend connections, indexing/merge tuning, and the operator
// dashboard's OpenSearch target.
type Config struct {
	// Pipeline identity
	IndexID  string
	SourceID string
	NodeID   string

	// MongoDB-backed metastore
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	// Local split storage
	RemoteStoreDir     string
	LocalCacheDir      string
	LocalCacheMaxCount int
	LocalCacheMaxBytes uint64
	MergeScratchDir    string
	IndexScratchDir    string
	CheckpointCacheDir string

	// Indexing settings
	CommitTimeoutSecs  int
	SplitNumDocsTarget uint64
	DocStoreBlockSize  int
	DocStoreCompLevel  int

	// Merge policy
	MinLevelNumDocs uint64
	MergeFactor     int
	MaxMergeFactor  int
	MergeEnabled    bool
	GCGraceSecs     int

	// Source
	SourceBatchSize int
	SourcePath      string // non-empty selects a FileSource over InMemorySource

	// OpenSearch dashboard
	OpenSearchHosts       []string
	OpenSearchUser        string
	OpenSearchPassword    string
	OpenSearchIndex       string
	OpenSearchVerifyCerts bool
	DashboardInterval     int

	// Retry
	MaxRetries int
}

// Load reads configuration from environment variables, loading a local
// .env file first if one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		IndexID:  getEnv("INDEX_ID", "default"),
		SourceID: getEnv("SOURCE_ID", "default-source"),
		NodeID:   getEnv("NODE_ID", "node-1"),

		MongoURI:        getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGODB_DATABASE", "indexcore"),
		MongoCollection: getEnv("MONGODB_COLLECTION", "indexes"),

		RemoteStoreDir:     getEnv("REMOTE_STORE_DIR", ".indexcore/remote"),
		LocalCacheDir:      getEnv("LOCAL_CACHE_DIR", ".indexcore/cache"),
		LocalCacheMaxCount: getEnvInt("LOCAL_CACHE_MAX_COUNT", 1000),
		LocalCacheMaxBytes: getEnvUint64("LOCAL_CACHE_MAX_BYTES", 10<<30),
		MergeScratchDir:    getEnv("MERGE_SCRATCH_DIR", ".indexcore/merge-scratch"),
		IndexScratchDir:    getEnv("INDEX_SCRATCH_DIR", ".indexcore/index-scratch"),
		CheckpointCacheDir: getEnv("CHECKPOINT_CACHE_DIR", ".indexcore/checkpoint"),

		CommitTimeoutSecs:  getEnvInt("COMMIT_TIMEOUT_SECS", 60),
		SplitNumDocsTarget: getEnvUint64("SPLIT_NUM_DOCS_TARGET", 10_000_000),
		DocStoreBlockSize:  getEnvInt("DOCSTORE_BLOCK_SIZE", 100),
		DocStoreCompLevel:  getEnvInt("DOCSTORE_COMPRESSION_LEVEL", 3),

		MinLevelNumDocs: getEnvUint64("MERGE_MIN_LEVEL_NUM_DOCS", 100_000),
		MergeFactor:     getEnvInt("MERGE_FACTOR", 10),
		MaxMergeFactor:  getEnvInt("MERGE_MAX_FACTOR", 12),
		MergeEnabled:    getEnv("MERGE_ENABLED", "true") == "true",
		GCGraceSecs:     getEnvInt("GC_GRACE_SECS", 120),

		SourceBatchSize: getEnvInt("SOURCE_BATCH_SIZE", 100),
		SourcePath:      getEnv("SOURCE_PATH", ""),

		OpenSearchHosts:       strings.Split(getEnv("OPENSEARCH_HOSTS", "https://localhost:9200"), ","),
		OpenSearchUser:        getEnv("OPENSEARCH_USER", "admin"),
		OpenSearchPassword:    getEnv("OPENSEARCH_PASSWORD", "admin"),
		OpenSearchIndex:       getEnv("OPENSEARCH_INDEX", "indexcore-dashboard"),
		OpenSearchVerifyCerts: getEnv("OPENSEARCH_VERIFY_CERTS", "false") == "true",
		DashboardInterval:     getEnvInt("DASHBOARD_INTERVAL_SECS", 30),

		MaxRetries: getEnvInt("MAX_RETRIES", 3),
	}
}

// IndexingSettings builds the indexer.Settings this config describes.
func (c *Config) IndexingSettings() indexer.Settings {
	return indexer.Settings{
		CommitTimeout:      time.Duration(c.CommitTimeoutSecs) * time.Second,
		SplitNumDocsTarget: c.SplitNumDocsTarget,
		ScratchDir:         c.IndexScratchDir,
		DocStore: storage.DocStoreConfig{
			BlockSize:        c.DocStoreBlockSize,
			CompressionLevel: c.DocStoreCompLevel,
		},
	}
}

// MergePolicyConfig builds the mergepolicy.Config this config describes.
func (c *Config) MergePolicyConfig() mergepolicy.Config {
	return mergepolicy.Config{
		MinLevelNumDocs:    c.MinLevelNumDocs,
		MergeFactor:        c.MergeFactor,
		MaxMergeFactor:     c.MaxMergeFactor,
		SplitNumDocsTarget: c.SplitNumDocsTarget,
		MergeEnabled:       c.MergeEnabled,
	}
}

// GCGracePeriod returns the garbage collector's deletion grace period.
func (c *Config) GCGracePeriod() time.Duration {
	return time.Duration(c.GCGraceSecs) * time.Second
}

// DashboardReportInterval returns how often cmd/indexer should publish a
// dashboard report.
func (c *Config) DashboardReportInterval() time.Duration {
	return time.Duration(c.DashboardInterval) * time.Second
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}
