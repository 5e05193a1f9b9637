// Package model holds the data types shared by the indexer, the merge
// policy, and the pipeline supervisor: pipeline identity, checkpoints,
// splits, the commit-scoped workbench, the publish lock, and the
// counters the indexer exposes to observers.
package model

import (
	"encoding/base32"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PipelineID identifies one pipeline instance. Immutable once constructed.
type PipelineID struct {
	IndexID     string
	SourceID    string
	NodeID      string
	PipelineOrd int
}

func (p PipelineID) String() string {
	return fmt.Sprintf("%s:%s:%s:%d", p.IndexID, p.SourceID, p.NodeID, p.PipelineOrd)
}

var splitIDEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// NewSplitID returns a 26-character, lexicographically sortable, globally
// unique split identifier: a millisecond-resolution timestamp prefix
// (13 base32 characters, sortable) followed by a 13-character base32 suffix
// derived from a random UUID (uniqueness, stable across retries since it is
// generated once per split and never regenerated).
func NewSplitID() string {
	return NewSplitIDAt(time.Now())
}

// NewSplitIDAt is NewSplitID with an explicit timestamp, used by tests that
// need deterministic, order-checkable IDs.
func NewSplitIDAt(t time.Time) string {
	millis := uint64(t.UnixMilli())
	var tsBuf [8]byte
	for i := 7; i >= 0; i-- {
		tsBuf[i] = byte(millis & 0xff)
		millis >>= 8
	}
	tsPart := splitIDEncoding.EncodeToString(tsBuf[:])[:13]

	u := uuid.New()
	suffixPart := splitIDEncoding.EncodeToString(u[:])[:13]

	return tsPart + suffixPart
}
