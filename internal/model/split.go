package model

// TimeRange is an inclusive [Start, End] hull over observed document
// timestamps, in signed 64-bit seconds.
type TimeRange struct {
	Start int64
	End   int64
	set   bool
}

// Extend folds ts into the range, widening it if ts falls outside the
// current bounds. The first call to Extend on a zero-value TimeRange seeds
// both bounds with ts.
func (r *TimeRange) Extend(ts int64) {
	if !r.set {
		r.Start, r.End, r.set = ts, ts, true
		return
	}
	if ts < r.Start {
		r.Start = ts
	}
	if ts > r.End {
		r.End = ts
	}
}

// IsSet reports whether any timestamp has been folded into the range.
func (r TimeRange) IsSet() bool { return r.set }

// IndexedSplit is an in-progress split bound to exactly one partition key.
// It owns a writer handle (the low-level segment builder, out of core scope)
// and running counters updated as documents are added.
type IndexedSplit struct {
	SplitID     string
	PartitionID uint64
	PipelineID  PipelineID
	ScratchDir  string
	Writer      DocWriter

	NumDocs                     uint64
	UncompressedDocsSizeInBytes uint64
	TimeRange                   TimeRange
}

// DocWriter is the capability the indexer needs from the low-level segment
// builder: add a parsed document to the in-progress split. The segment
// builder itself (postings, doc store compression, final commit to disk) is
// out of core scope; indexcore only needs this narrow surface to exercise
// the write path end to end.
type DocWriter interface {
	AddDocument(fields map[string]any) error
	Commit() error
	Close() error
}

// AddDocument folds one valid parsed document into the split: bumps
// NumDocs and byte counters, widens TimeRange if a timestamp was observed,
// and forwards the document to the writer.
func (s *IndexedSplit) AddDocument(doc ParsedDocument, sizeInBytes uint64, timestamp *int64) error {
	if err := s.Writer.AddDocument(doc.Fields); err != nil {
		return err
	}
	s.NumDocs++
	s.UncompressedDocsSizeInBytes += sizeInBytes
	if timestamp != nil {
		s.TimeRange.Extend(*timestamp)
	}
	return nil
}

// SplitMetadata is the persistent description of a published or staged
// split, as the metastore sees it.
type SplitMetadata struct {
	SplitID   string
	NumDocs   uint64
	TimeRange TimeRange
	Tags      []string

	NumBytes uint64
}

// SortOrder selects ascending or descending ordering for a sort field.
type SortOrder int

const (
	SortAsc SortOrder = iota
	SortDesc
)

// SortBy selects how documents within an emitted split are ordered:
// insertion order (DocID), by relevance score, or by a configured fast
// field (typically the timestamp field, descending, for recency queries).
type SortBy struct {
	Kind  SortByKind
	Field string
	Order SortOrder
}

type SortByKind int

const (
	SortByDocID SortByKind = iota
	SortByScore
	SortByFastField
)
