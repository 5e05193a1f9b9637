package model

import "sync/atomic"

// IndexerCounters holds the indexer's observable state. Each field is owned
// exclusively by the indexer actor and mutated from its single goroutine;
// Snapshot gives observers (the supervisor's heartbeat) a field-by-field
// copy without taking a lock on the hot path (see spec §9, "Shared mutable
// counters").
type IndexerCounters struct {
	numParseErrors        atomic.Uint64
	numMissingFields      atomic.Uint64
	numValidDocs          atomic.Uint64
	numSplitsEmitted       atomic.Uint64
	numSplitBatchesEmitted atomic.Uint64
	overallNumBytes        atomic.Uint64
	numDocsInWorkbench     atomic.Uint64
}

// CountersSnapshot is an immutable copy of IndexerCounters at one instant.
type CountersSnapshot struct {
	NumParseErrors         uint64
	NumMissingFields       uint64
	NumValidDocs           uint64
	NumSplitsEmitted       uint64
	NumSplitBatchesEmitted uint64
	OverallNumBytes        uint64
	NumDocsInWorkbench     uint64
}

// NumProcessed returns the invariant sum valid+parse_errors+missing_fields
// (spec §8).
func (s CountersSnapshot) NumProcessed() uint64 {
	return s.NumValidDocs + s.NumParseErrors + s.NumMissingFields
}

func (c *IndexerCounters) AddParseError()   { c.numParseErrors.Add(1) }
func (c *IndexerCounters) AddMissingField() { c.numMissingFields.Add(1) }
func (c *IndexerCounters) AddValidDoc()     { c.numValidDocs.Add(1); c.numDocsInWorkbench.Add(1) }
func (c *IndexerCounters) AddBytes(n uint64) { c.overallNumBytes.Add(n) }

// RecordFlush bumps the split/batch counters for one flushed workbench and
// resets num_docs_in_workbench to zero, per spec §4.1 flush semantics.
func (c *IndexerCounters) RecordFlush(numSplits int) {
	if numSplits > 0 {
		c.numSplitsEmitted.Add(uint64(numSplits))
	}
	c.numSplitBatchesEmitted.Add(1)
	c.numDocsInWorkbench.Store(0)
}

// ResetWorkbenchDocs zeroes num_docs_in_workbench without touching the
// emitted-split counters; used for the empty-split-set-with-checkpoint-advance
// flush path (spec §4.1) and for the workbench dropped on a publish-lock
// rotation.
func (c *IndexerCounters) ResetWorkbenchDocs() {
	c.numDocsInWorkbench.Store(0)
}

// Snapshot copies every counter with its own atomic load; counters updated
// between two loads can come from slightly different instants.
func (c *IndexerCounters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		NumParseErrors:         c.numParseErrors.Load(),
		NumMissingFields:       c.numMissingFields.Load(),
		NumValidDocs:           c.numValidDocs.Load(),
		NumSplitsEmitted:       c.numSplitsEmitted.Load(),
		NumSplitBatchesEmitted: c.numSplitBatchesEmitted.Load(),
		OverallNumBytes:        c.overallNumBytes.Load(),
		NumDocsInWorkbench:     c.numDocsInWorkbench.Load(),
	}
}
