package supervisor

import "github.com/sudarshan/indexcore/internal/model"

// Statistics is the pipeline-wide observable state the supervisor reports
// (spec §4.3, "Observability"): generation/spawn bookkeeping plus the
// indexer, uploader and publisher counters the original's Handler<Observe>
// joins together every heartbeat.
type Statistics struct {
	Generation       uint64
	NumSpawnAttempts uint64

	NumParseErrors         uint64
	NumMissingFields       uint64
	NumValidDocs           uint64
	NumSplitsEmitted       uint64
	NumSplitBatchesEmitted uint64
	OverallNumBytes        uint64
	NumDocsInWorkbench     uint64

	NumUploadedSplits  uint64
	NumPublishedSplits uint64
}

// NumProcessed mirrors model.CountersSnapshot's invariant at the pipeline
// level: valid + parse errors + missing fields (spec §8).
func (s Statistics) NumProcessed() uint64 {
	return s.NumValidDocs + s.NumParseErrors + s.NumMissingFields
}

// Merge folds a still-running generation's live counters onto this baseline,
// without mutating the baseline itself — the same shape as the original's
// previous_generations_statistics.clone().add_actor_counters(...). Generation
// and NumSpawnAttempts are carried from the baseline unchanged: those are
// supervisor-owned fields the caller sets directly, not derived from actor
// counters.
func (s Statistics) Merge(indexerSnap model.CountersSnapshot, numUploaded, numPublished uint64) Statistics {
	return Statistics{
		Generation:       s.Generation,
		NumSpawnAttempts: s.NumSpawnAttempts,

		NumParseErrors:         s.NumParseErrors + indexerSnap.NumParseErrors,
		NumMissingFields:       s.NumMissingFields + indexerSnap.NumMissingFields,
		NumValidDocs:           s.NumValidDocs + indexerSnap.NumValidDocs,
		NumSplitsEmitted:       s.NumSplitsEmitted + indexerSnap.NumSplitsEmitted,
		NumSplitBatchesEmitted: s.NumSplitBatchesEmitted + indexerSnap.NumSplitBatchesEmitted,
		OverallNumBytes:        s.OverallNumBytes + indexerSnap.OverallNumBytes,
		// NumDocsInWorkbench is in-flight state, not a running total: it
		// reflects whatever generation is live right now, never summed
		// across generations.
		NumDocsInWorkbench: indexerSnap.NumDocsInWorkbench,

		NumUploadedSplits:  s.NumUploadedSplits + numUploaded,
		NumPublishedSplits: s.NumPublishedSplits + numPublished,
	}
}

// Freeze is Merge with NumDocsInWorkbench cleared, producing the new
// baseline a terminated generation leaves behind for the next spawn
// attempt to build on.
func (s Statistics) Freeze(indexerSnap model.CountersSnapshot, numUploaded, numPublished uint64) Statistics {
	next := s.Merge(indexerSnap, numUploaded, numPublished)
	next.NumDocsInWorkbench = 0
	return next
}
