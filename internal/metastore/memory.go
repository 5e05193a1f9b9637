package metastore

import (
	"context"
	"sync"
	"time"

	"github.com/sudarshan/indexcore/internal/model"
)

// InMemory is a Metastore backed by plain Go maps guarded by a mutex; it
// exists for tests and for the in-memory pipeline fixtures (spec §9,
// "in-memory for tests" variant).
type InMemory struct {
	mu      sync.Mutex
	indexes map[string]*indexRecord
}

type indexRecord struct {
	meta   IndexMetadata
	splits map[string]*Split
}

func NewInMemory() *InMemory {
	return &InMemory{indexes: make(map[string]*indexRecord)}
}

// CreateIndex seeds an index with no sources and no checkpoints. Not part of
// the Metastore interface (core never creates indexes); exposed for test
// setup only.
func (s *InMemory) CreateIndex(indexID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[indexID]; ok {
		return
	}
	s.indexes[indexID] = &indexRecord{
		meta:   IndexMetadata{IndexID: indexID, Checkpoints: make(map[string]int64)},
		splits: make(map[string]*Split),
	}
}

func (s *InMemory) lookup(indexID string) (*indexRecord, error) {
	rec, ok := s.indexes[indexID]
	if !ok {
		return nil, wrap(ErrIndexDoesNotExist, "index %q", indexID)
	}
	return rec, nil
}

func (s *InMemory) IndexMetadata(_ context.Context, indexID string) (IndexMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return IndexMetadata{}, err
	}
	cp := make(map[string]int64, len(rec.meta.Checkpoints))
	for k, v := range rec.meta.Checkpoints {
		cp[k] = v
	}
	return IndexMetadata{IndexID: rec.meta.IndexID, Sources: append([]SourceConfig(nil), rec.meta.Sources...), Checkpoints: cp}, nil
}

func (s *InMemory) ListSplits(_ context.Context, indexID string, state SplitState, timeRange *model.TimeRange, _ *TagFilterAst) ([]Split, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return nil, err
	}
	var out []Split
	for _, sp := range rec.splits {
		if sp.State != state {
			continue
		}
		if timeRange != nil && timeRange.IsSet() {
			if sp.Metadata.TimeRange.End < timeRange.Start || sp.Metadata.TimeRange.Start > timeRange.End {
				continue
			}
		}
		out = append(out, *sp)
	}
	return out, nil
}

func (s *InMemory) StageSplit(_ context.Context, indexID string, metadata model.SplitMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return err
	}
	rec.splits[metadata.SplitID] = &Split{Metadata: metadata, State: SplitStaged, UpdatedAt: time.Now()}
	return nil
}

// PublishSplits atomically marks splitIDs as Published, marks
// replacedSplitIDs for deletion, and advances the checkpoint, per spec §6
// ("atomic swap: publishing and replacement happen together with the
// checkpoint advance"). A nil checkpointDelta leaves the watermark
// untouched; an empty-but-non-nil delta is also a no-op on the watermark
// since From == To.
func (s *InMemory) PublishSplits(_ context.Context, indexID string, splitIDs, replacedSplitIDs []string, checkpointDelta *model.IndexCheckpointDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return err
	}
	for _, id := range splitIDs {
		sp, ok := rec.splits[id]
		if !ok {
			return wrap(ErrSplitDoesNotExist, "split %q", id)
		}
		sp.State = SplitPublished
		sp.UpdatedAt = time.Now()
	}
	for _, id := range replacedSplitIDs {
		sp, ok := rec.splits[id]
		if !ok {
			return wrap(ErrSplitDoesNotExist, "split %q", id)
		}
		sp.State = SplitMarkedForDeletion
		sp.UpdatedAt = time.Now()
	}
	if checkpointDelta != nil && !checkpointDelta.IsEmpty() {
		current := rec.meta.Checkpoints[checkpointDelta.SourceID]
		if checkpointDelta.Delta.From != current {
			return wrap(ErrChecksumMismatch, "source %q: stored watermark %d, delta starts at %d", checkpointDelta.SourceID, current, checkpointDelta.Delta.From)
		}
		rec.meta.Checkpoints[checkpointDelta.SourceID] = checkpointDelta.Delta.To
	}
	return nil
}

func (s *InMemory) MarkSplitsForDeletion(_ context.Context, indexID string, splitIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return err
	}
	for _, id := range splitIDs {
		if sp, ok := rec.splits[id]; ok {
			sp.State = SplitMarkedForDeletion
			sp.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *InMemory) DeleteSplits(_ context.Context, indexID string, splitIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return err
	}
	for _, id := range splitIDs {
		delete(rec.splits, id)
	}
	return nil
}

func (s *InMemory) AddSource(_ context.Context, indexID string, source SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return err
	}
	rec.meta.Sources = append(rec.meta.Sources, source)
	if rec.meta.Checkpoints == nil {
		rec.meta.Checkpoints = make(map[string]int64)
	}
	if _, ok := rec.meta.Checkpoints[source.SourceID]; !ok {
		rec.meta.Checkpoints[source.SourceID] = 0
	}
	return nil
}

func (s *InMemory) DeleteSource(_ context.Context, indexID, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return err
	}
	for i, src := range rec.meta.Sources {
		if src.SourceID == sourceID {
			rec.meta.Sources = append(rec.meta.Sources[:i], rec.meta.Sources[i+1:]...)
			break
		}
	}
	delete(rec.meta.Checkpoints, sourceID)
	return nil
}

func (s *InMemory) ResetSourceCheckpoint(_ context.Context, indexID, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookup(indexID)
	if err != nil {
		return err
	}
	if _, ok := rec.meta.Checkpoints[sourceID]; !ok {
		return wrap(ErrSourceDoesNotExist, "source %q on index %q", sourceID, indexID)
	}
	rec.meta.Checkpoints[sourceID] = 0
	return nil
}

var _ Metastore = (*InMemory)(nil)
