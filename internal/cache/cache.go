// Package cache implements a local, disk-persisted checkpoint cache for a
// source driver: a gob-encoded mirror of each source's last confirmed
// offset, the same load/save/entries shape as the teacher's own
// intermediate embeddings cache. cmd/indexer loads it at startup and saves
// it periodically and on exit; the pipeline itself does not read offsets
// back from it, and resumes from the checkpoint in the metastore.
package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one source's last known checkpoint, mirroring the teacher's
// CacheEntry shape (one record per key, a processed-at timestamp) but
// holding an offset instead of an embedding.
type Entry struct {
	SourceID    string
	Offset      int64
	ProcessedAt time.Time
}

// Metadata stores cache-wide bookkeeping, the same role the teacher's
// CacheMetadata plays for its embeddings cache.
type Metadata struct {
	Version      int
	CreatedAt    time.Time
	LastModified time.Time
}

// Cache manages the checkpoint cache file for one pipeline daemon.
type Cache struct {
	dir string

	mu       sync.RWMutex
	metadata Metadata
	offsets  map[string]Entry
}

// New creates a checkpoint cache rooted at dir, creating the directory if
// it doesn't already exist.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	return &Cache{dir: dir, offsets: make(map[string]Entry)}, nil
}

func (c *Cache) checkpointFilePath() string { return filepath.Join(c.dir, "checkpoints.gob") }
func (c *Cache) metadataFilePath() string   { return filepath.Join(c.dir, "metadata.gob") }

// Load reads the cache from disk. A cache that has never been saved is not
// an error: Load leaves the cache empty in that case, the same as the
// teacher's own Load treats a missing metadata file as "no cache exists yet".
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	metaFile, err := os.Open(c.metadataFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: open metadata: %w", err)
	}
	defer metaFile.Close()
	if err := gob.NewDecoder(metaFile).Decode(&c.metadata); err != nil {
		return fmt.Errorf("cache: decode metadata: %w", err)
	}

	cpFile, err := os.Open(c.checkpointFilePath())
	if err != nil {
		return fmt.Errorf("cache: open checkpoints: %w", err)
	}
	defer cpFile.Close()
	if err := gob.NewDecoder(cpFile).Decode(&c.offsets); err != nil {
		return fmt.Errorf("cache: decode checkpoints: %w", err)
	}
	return nil
}

// Save writes the cache to disk.
func (c *Cache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.metadata.LastModified = time.Now()
	if c.metadata.CreatedAt.IsZero() {
		c.metadata.CreatedAt = c.metadata.LastModified
	}
	c.metadata.Version = 1

	metaFile, err := os.Create(c.metadataFilePath())
	if err != nil {
		return fmt.Errorf("cache: create metadata: %w", err)
	}
	defer metaFile.Close()
	if err := gob.NewEncoder(metaFile).Encode(c.metadata); err != nil {
		return fmt.Errorf("cache: encode metadata: %w", err)
	}

	cpFile, err := os.Create(c.checkpointFilePath())
	if err != nil {
		return fmt.Errorf("cache: create checkpoints: %w", err)
	}
	defer cpFile.Close()
	if err := gob.NewEncoder(cpFile).Encode(c.offsets); err != nil {
		return fmt.Errorf("cache: encode checkpoints: %w", err)
	}
	return nil
}

// SetOffset records sourceID's last confirmed checkpoint offset.
func (c *Cache) SetOffset(sourceID string, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsets[sourceID] = Entry{SourceID: sourceID, Offset: offset, ProcessedAt: time.Now()}
}

// Offset returns sourceID's last recorded offset, and whether one was ever
// recorded.
func (c *Cache) Offset(sourceID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.offsets[sourceID]
	return e.Offset, ok
}

// Entries returns a snapshot of every recorded checkpoint.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.offsets))
	for _, e := range c.offsets {
		out = append(out, e)
	}
	return out
}

// Exists reports whether a checkpoint file has ever been saved.
func (c *Cache) Exists() bool {
	_, err := os.Stat(c.checkpointFilePath())
	return err == nil
}

// Clear removes all recorded checkpoints and their on-disk files.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsets = make(map[string]Entry)
	c.metadata = Metadata{}
	os.Remove(c.checkpointFilePath())
	os.Remove(c.metadataFilePath())
	return nil
}
