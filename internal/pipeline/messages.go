// Package pipeline implements the downstream half of the main branch and
// the whole merge chain (spec §2, §4.3's spawn sequence): packager,
// uploader, sequencer, publisher, merge planner, merge split downloader,
// merge executor, and the garbage collector. The indexer (upstream of the
// packager) lives in internal/indexer; the supervisor wires the two
// together.
package pipeline

import (
	"time"

	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/model"
)

// SplitBatch is what both the indexer and the merge executor hand to a
// Packager: one or more in-progress splits ready to be committed to disk,
// plus the bookkeeping the rest of the chain needs to publish them
// atomically. ReplacedSplitIDs is empty for the main chain (the indexer
// never replaces anything) and carries the input splits' ids for the merge
// chain, so the eventual Publish call can mark them for deletion in the
// same metastore call that publishes the merged split.
type SplitBatch struct {
	Splits           []*model.IndexedSplit
	CheckpointDelta  model.IndexCheckpointDelta
	PublishLock      *model.PublishLock
	DateOfBirth      time.Time
	ReplacedSplitIDs []string
}

// PackagedSplit is one split after the packager has committed its writer
// and derived its persistent metadata.
type PackagedSplit struct {
	Metadata  model.SplitMetadata
	LocalPath string
}

// PackagedSplitBatch is the packager's output, forwarded to the uploader.
type PackagedSplitBatch struct {
	Splits           []PackagedSplit
	CheckpointDelta  model.IndexCheckpointDelta
	PublishLock      *model.PublishLock
	DateOfBirth      time.Time
	ReplacedSplitIDs []string
}

// Sequenced wraps a payload with the monotonic ordinal the packager
// assigned it, so a Sequencer downstream of a concurrent uploader stage can
// restore emission order before publication (spec §9, ordering guarantees).
type Sequenced[T any] struct {
	Seq     uint64
	Payload T
}

// UploadedSplitBatch is the uploader's output: every split has been staged
// in the metastore and copied to the remote store. Full metadata (not just
// ids) rides along so the publisher can hand newly published splits
// straight to the merge planner without a round trip back to the metastore.
type UploadedSplitBatch struct {
	Splits           []model.SplitMetadata
	ReplacedSplitIDs []string
	CheckpointDelta  model.IndexCheckpointDelta
	PublishLock      *model.PublishLock
	DateOfBirth      time.Time
}

// SplitIDs is a convenience view over Splits for metastore calls that take
// bare identifiers.
func (b UploadedSplitBatch) SplitIDs() []string {
	ids := make([]string, len(b.Splits))
	for i, s := range b.Splits {
		ids[i] = s.SplitID
	}
	return ids
}

// MergeJob is one merge operation the planner has selected, addressed to a
// specific index.
type MergeJob struct {
	IndexID string
	Op      mergepolicy.MergeOperation
}

// DownloadedMergeJob is a MergeJob after every input split's file has been
// pulled down into the local split cache (storage.LocalSplitStore).
type DownloadedMergeJob struct {
	IndexID   string
	Splits    []metastore.Split
	LocalPath map[string]string // split_id -> local docstore file path
}
