package storage

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalSplitStore caches downloaded split files on local disk for the merge
// executor, evicting least-recently-used entries once either the entry
// count or total byte size cap is exceeded. Guarded by a single mutex the
// way the teacher's internal/cache.Cache guards its in-memory entries and
// gob files, adapted here to track file paths instead of serialized
// entries, and to evict rather than simply accumulate.
type LocalSplitStore struct {
	mu sync.Mutex

	dir         string
	maxCount    int
	maxBytes    uint64
	currentSize uint64

	order   *list.List
	entries map[string]*list.Element
}

type storeEntry struct {
	splitID string
	path    string
	size    uint64
}

func NewLocalSplitStore(dir string, maxCount int, maxBytes uint64) (*LocalSplitStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create cache dir %s: %w", dir, err)
	}
	return &LocalSplitStore{
		dir:      dir,
		maxCount: maxCount,
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}, nil
}

// Put registers a split file already written at path (by the downloader)
// with the store, evicting older entries as needed to stay within the
// configured caps.
func (s *LocalSplitStore) Put(splitID, path string, size uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[splitID]; ok {
		s.order.MoveToFront(el)
		old := el.Value.(*storeEntry)
		s.currentSize += size - old.size
		el.Value = &storeEntry{splitID: splitID, path: path, size: size}
		s.evictLocked()
		return
	}

	el := s.order.PushFront(&storeEntry{splitID: splitID, path: path, size: size})
	s.entries[splitID] = el
	s.currentSize += size
	s.evictLocked()
}

// Get returns the cached path for splitID and marks it most-recently-used,
// or ("", false) if the split isn't (or is no longer) cached.
func (s *LocalSplitStore) Get(splitID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[splitID]
	if !ok {
		return "", false
	}
	s.order.MoveToFront(el)
	return el.Value.(*storeEntry).path, true
}

// evictLocked drops least-recently-used entries (from the back of order)
// until both caps are satisfied. Must be called with mu held.
func (s *LocalSplitStore) evictLocked() {
	for (s.maxCount > 0 && s.order.Len() > s.maxCount) || (s.maxBytes > 0 && s.currentSize > s.maxBytes) {
		back := s.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*storeEntry)
		s.order.Remove(back)
		delete(s.entries, entry.splitID)
		s.currentSize -= entry.size
		os.Remove(entry.path)
	}
}

// Len reports the number of splits currently cached.
func (s *LocalSplitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// SplitPath builds the canonical on-disk path for a split file under the
// store's root directory, for callers that need to know where to write a
// download before calling Put.
func (s *LocalSplitStore) SplitPath(splitID string) string {
	return filepath.Join(s.dir, splitID+".split")
}
