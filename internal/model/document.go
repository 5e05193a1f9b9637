package model

// RawDocBatch is a batch of opaque JSON document strings delivered together
// with the SourceCheckpointDelta they advance. Batches arrive in strict
// source order; the indexer rejects a batch whose delta does not abut the
// previous one (see IndexCheckpointDelta.Extend).
type RawDocBatch struct {
	Docs            []string
	CheckpointDelta SourceCheckpointDelta
}

// OutcomeKind discriminates the three PrepareDocumentOutcome variants.
type OutcomeKind int

const (
	// OutcomeDocument is the success variant: the document parsed, every
	// required field (including the configured timestamp field) was present,
	// and a partition key was derived.
	OutcomeDocument OutcomeKind = iota
	// OutcomeParsingError means the JSON was malformed or failed a schema rule.
	OutcomeParsingError
	// OutcomeMissingField means a required field (possibly the timestamp
	// field) was absent from an otherwise well-formed document.
	OutcomeMissingField
)

// PrepareDocumentOutcome is the sum type produced by the document mapper for
// a single raw JSON document.
type PrepareDocumentOutcome struct {
	Kind      OutcomeKind
	ParseErr  error  // set iff Kind == OutcomeParsingError
	Field     string // set iff Kind == OutcomeMissingField: the absent field's name
	Parsed    ParsedDocument
	Timestamp *int64 // optional inclusive timestamp in seconds, set iff Kind == OutcomeDocument
}

// ParsedDocument is the mapper's output document ready for indexing, plus
// the partition key the document was routed on.
type ParsedDocument struct {
	Fields       map[string]any
	PartitionKey uint64
}
