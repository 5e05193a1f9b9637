package model

import "time"

// WorkbenchID uniquely (and monotonically) identifies one workbench
// generation within a single indexer actor, so that a stale commit_timeout
// timer can be told apart from the current one by id equality alone.
type WorkbenchID uint64

// Workbench is the commit-scoped accumulation state for one commit cycle.
// Exactly one workbench exists at a time per indexer; it is created lazily
// on the first admissible document after a commit or a publish-lock
// rotation, and destroyed on flush.
type Workbench struct {
	ID         WorkbenchID
	PipelineID PipelineID
	Lock       *PublishLock
	Checkpoint IndexCheckpointDelta
	Splits     map[uint64]*IndexedSplit // keyed by PartitionID
	CreatedAt  time.Time
}

// NewWorkbench starts a fresh workbench bound to lock, anchored at the
// checkpoint baseline for the source.
func NewWorkbench(id WorkbenchID, pipelineID PipelineID, lock *PublishLock, sourceID string, checkpointBaseline int64) *Workbench {
	return &Workbench{
		ID:         id,
		PipelineID: pipelineID,
		Lock:       lock,
		Checkpoint: NewIndexCheckpointDelta(sourceID, checkpointBaseline),
		Splits:     make(map[uint64]*IndexedSplit),
	}
}

// SplitFor returns the IndexedSplit for partitionID, creating and
// registering one via newSplit if it does not yet exist. A workbench never
// contains a split from a different pipeline (spec §3 invariant); newSplit
// is responsible for stamping the correct PipelineID.
func (w *Workbench) SplitFor(partitionID uint64, newSplit func() *IndexedSplit) *IndexedSplit {
	if s, ok := w.Splits[partitionID]; ok {
		return s
	}
	s := newSplit()
	w.Splits[partitionID] = s
	return s
}

// NumDocs returns the total document count across every split in the
// workbench.
func (w *Workbench) NumDocs() uint64 {
	var n uint64
	for _, s := range w.Splits {
		n += s.NumDocs
	}
	return n
}

// SplitList returns the workbench's splits as a slice; iteration order is
// irrelevant per spec §3 and callers must not depend on it.
func (w *Workbench) SplitList() []*IndexedSplit {
	out := make([]*IndexedSplit, 0, len(w.Splits))
	for _, s := range w.Splits {
		out = append(out, s)
	}
	return out
}
