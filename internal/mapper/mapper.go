// Package mapper implements document preparation: JSON parsing, required
// field validation (including the configured timestamp field), and
// partition key derivation. This is the Go-native stand-in for the
// document mapper the core spec treats as an external collaborator (schema
// + JSON->document parsing); indexcore needs a concrete implementation to
// exercise the indexer end to end.
package mapper

import (
	"encoding/json"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/sudarshan/indexcore/internal/model"
)

// Config drives one Mapper instance: the field carrying the document
// timestamp (required unless empty) and the field used to derive the
// partition key (defaults to partition 0 when unset or absent, per spec §4.1).
type Config struct {
	TimestampField string
	PartitionField string
	RequiredFields []string
}

// Mapper prepares raw JSON documents per spec §3 (PrepareDocumentOutcome)
// and §4.1 (prepare_document).
type Mapper struct {
	cfg Config
}

func New(cfg Config) *Mapper {
	return &Mapper{cfg: cfg}
}

// Prepare parses one raw JSON document and classifies it.
func (m *Mapper) Prepare(raw string) model.PrepareDocumentOutcome {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return model.PrepareDocumentOutcome{Kind: model.OutcomeParsingError, ParseErr: err}
	}

	for _, f := range m.cfg.RequiredFields {
		if _, ok := fields[f]; !ok {
			return model.PrepareDocumentOutcome{Kind: model.OutcomeMissingField, Field: f}
		}
	}

	var timestamp *int64
	if m.cfg.TimestampField != "" {
		v, ok := fields[m.cfg.TimestampField]
		if !ok {
			return model.PrepareDocumentOutcome{Kind: model.OutcomeMissingField, Field: m.cfg.TimestampField}
		}
		ts, ok := normalizeTimestamp(v)
		if !ok {
			return model.PrepareDocumentOutcome{Kind: model.OutcomeMissingField, Field: m.cfg.TimestampField}
		}
		timestamp = &ts
	}

	partitionKey := m.partitionKey(fields)

	return model.PrepareDocumentOutcome{
		Kind:      model.OutcomeDocument,
		Parsed:    model.ParsedDocument{Fields: fields, PartitionKey: partitionKey},
		Timestamp: timestamp,
	}
}

// partitionKey derives a stable hash over the configured partition field's
// value, or returns 0 (unpartitioned) when the field is unset or absent.
func (m *Mapper) partitionKey(fields map[string]any) uint64 {
	if m.cfg.PartitionField == "" {
		return 0
	}
	v, ok := fields[m.cfg.PartitionField]
	if !ok {
		return 0
	}
	h := fnv.New64a()
	switch t := v.(type) {
	case string:
		h.Write([]byte(t))
	case float64:
		h.Write([]byte(strconv.FormatFloat(t, 'g', -1, 64)))
	default:
		b, _ := json.Marshal(t)
		h.Write(b)
	}
	return h.Sum64()
}

// normalizeTimestamp accepts either a numeric epoch-seconds value or an
// RFC3339 date string and returns signed seconds, per spec §4.1 ("documents
// carrying a date-typed field are normalized to seconds").
func normalizeTimestamp(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return 0, false
		}
		return parsed.Unix(), true
	default:
		return 0, false
	}
}
