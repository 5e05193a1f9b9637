package model

import "fmt"

// SourceCheckpointDelta is a half-open offset range [From, To) within one
// source. Deltas are delivered in strict source order; adjacent deltas must
// be contiguous (see Extend).
type SourceCheckpointDelta struct {
	From int64
	To   int64
}

// IsEmpty reports whether the delta covers no offsets at all.
func (d SourceCheckpointDelta) IsEmpty() bool {
	return d.From == d.To
}

// String renders the canonical "from..to" debug form used by the metastore
// when persisting checkpoints.
func (d SourceCheckpointDelta) String() string {
	return fmt.Sprintf("%d..%d", d.From, d.To)
}

// IndexCheckpointDelta accumulates SourceCheckpointDelta ranges for one
// source across a workbench's lifetime.
type IndexCheckpointDelta struct {
	SourceID string
	Delta    SourceCheckpointDelta
}

// NewIndexCheckpointDelta returns an empty (zero-range) delta for sourceID,
// anchored at baseline (the last published checkpoint's end for that
// source) so the first Extend call can seed the range.
func NewIndexCheckpointDelta(sourceID string, baseline int64) IndexCheckpointDelta {
	return IndexCheckpointDelta{
		SourceID: sourceID,
		Delta:    SourceCheckpointDelta{From: baseline, To: baseline},
	}
}

// ErrCheckpointGap is returned when Extend is asked to apply a delta whose
// start does not equal the checkpoint's current end: a non-contiguous
// extension, fatal for the batch that triggered it (see spec §7, CheckpointGap).
type ErrCheckpointGap struct {
	Expected int64
	Got      int64
}

func (e *ErrCheckpointGap) Error() string {
	return fmt.Sprintf("checkpoint gap: expected delta to start at %d, got %d", e.Expected, e.Got)
}

// Extend folds other into d, succeeding only when other's start equals d's
// current end. On success d's end advances to other's end. On failure d is
// left unchanged and an *ErrCheckpointGap is returned.
func (d *IndexCheckpointDelta) Extend(other SourceCheckpointDelta) error {
	if other.From != d.Delta.To {
		return &ErrCheckpointGap{Expected: d.Delta.To, Got: other.From}
	}
	d.Delta.To = other.To
	return nil
}

// IsEmpty reports whether the accumulated delta carries no offset progress.
func (d IndexCheckpointDelta) IsEmpty() bool {
	return d.Delta.IsEmpty()
}
