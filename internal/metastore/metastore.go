// Package metastore defines the contract the indexing pipeline consumes
// for index and split bookkeeping (spec §6), a closed error taxonomy for it,
// and three concrete backends: an in-memory store for tests, a MongoDB-backed
// store, and a JSON-over-HTTP remote client/server pair.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sudarshan/indexcore/internal/model"
)

// SplitState is a split's lifecycle stage within one index.
type SplitState int

const (
	SplitStaged SplitState = iota
	SplitPublished
	SplitMarkedForDeletion
)

func (s SplitState) String() string {
	switch s {
	case SplitStaged:
		return "Staged"
	case SplitPublished:
		return "Published"
	case SplitMarkedForDeletion:
		return "MarkedForDeletion"
	default:
		return "Unknown"
	}
}

// Split is one split row as the metastore tracks it: its metadata plus
// lifecycle state.
type Split struct {
	Metadata model.SplitMetadata
	State    SplitState
	UpdatedAt time.Time
}

// SourceConfig describes one registered source of an index; the pipeline
// itself treats it as an opaque record round-tripped through the metastore.
type SourceConfig struct {
	SourceID string
	Params   map[string]string
}

// IndexMetadata is the metastore's durable record for one index: its id,
// registered sources, and the checkpoint watermark (end offset) each source
// has reached.
type IndexMetadata struct {
	IndexID     string
	Sources     []SourceConfig
	Checkpoints map[string]int64 // source_id -> last published offset end
}

// Checkpoint returns the current watermark for sourceID, or 0 if the source
// has never had a checkpoint recorded.
func (m IndexMetadata) Checkpoint(sourceID string) int64 {
	return m.Checkpoints[sourceID]
}

// TagFilterAst is an opaque, JSON round-tripped tag filter expression; the
// pipeline core never inspects its shape, only forwards it to ListSplits.
type TagFilterAst struct {
	Raw string
}

// Error kinds (spec §7's closed metastore error taxonomy). These are
// sentinel errors checked with errors.Is; wrap with fmt.Errorf("...: %w", ...)
// to add context without losing the kind.
var (
	// ErrIndexDoesNotExist is terminal: the caller (supervisor) must exit the
	// pipeline generation with Success rather than retry.
	ErrIndexDoesNotExist = errors.New("metastore: index does not exist")
	// ErrSourceDoesNotExist mirrors ErrIndexDoesNotExist for source lookups.
	ErrSourceDoesNotExist = errors.New("metastore: source does not exist")
	// ErrSplitDoesNotExist is returned by operations naming an unknown split.
	ErrSplitDoesNotExist = errors.New("metastore: split does not exist")
	// ErrConnection is transient: the supervisor respawns after backoff.
	ErrConnection = errors.New("metastore: connection error")
	// ErrChecksumMismatch signals a publish_splits call whose checkpoint
	// delta does not extend contiguously from the stored watermark.
	ErrChecksumMismatch = errors.New("metastore: checkpoint delta is not contiguous")
)

// Metastore is the capability set the indexing core consumes (spec §6,
// §9 "Polymorphism"). Concrete backends: InMemory, MongoMetastore, and the
// remote client in remote.go.
type Metastore interface {
	IndexMetadata(ctx context.Context, indexID string) (IndexMetadata, error)
	ListSplits(ctx context.Context, indexID string, state SplitState, timeRange *model.TimeRange, tags *TagFilterAst) ([]Split, error)
	StageSplit(ctx context.Context, indexID string, metadata model.SplitMetadata) error
	PublishSplits(ctx context.Context, indexID string, splitIDs, replacedSplitIDs []string, checkpointDelta *model.IndexCheckpointDelta) error
	MarkSplitsForDeletion(ctx context.Context, indexID string, splitIDs []string) error
	DeleteSplits(ctx context.Context, indexID string, splitIDs []string) error
	AddSource(ctx context.Context, indexID string, source SourceConfig) error
	DeleteSource(ctx context.Context, indexID, sourceID string) error
	ResetSourceCheckpoint(ctx context.Context, indexID, sourceID string) error
}

// wrappedErr wraps one of the sentinel errors above with a formatted detail
// (the index, source or split that triggered it), while remaining
// errors.Is-comparable to the sentinel.
type wrappedErr struct {
	sentinel error
	detail   string
}

func (e *wrappedErr) Error() string { return fmt.Sprintf("%s: %s", e.sentinel, e.detail) }
func (e *wrappedErr) Unwrap() error { return e.sentinel }

func wrap(sentinel error, format string, args ...any) error {
	return &wrappedErr{sentinel: sentinel, detail: fmt.Sprintf(format, args...)}
}
