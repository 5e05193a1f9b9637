package source

import (
	"context"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/model"
)

// InMemorySource replays a fixed slice of raw JSON documents, skipping
// StartOffset of them (resuming after a respawn) and batching the rest by
// Config.BatchSize. This is indexcore's equivalent of the original's test
// sources and the teacher's own fixed-collection iteration in
// CountDocumentsToIndex/StreamDocuments, minus the database round trip.
type InMemorySource struct {
	cfg  Config
	docs []string
}

func NewInMemorySource(cfg Config, docs []string) *InMemorySource {
	return &InMemorySource{cfg: cfg, docs: docs}
}

func (s *InMemorySource) Run(ctx context.Context, k *actor.KillSwitch, indexer *actor.Mailbox[model.RawDocBatch]) actor.ExitStatus {
	skip := int(s.cfg.StartOffset)
	if skip > len(s.docs) {
		skip = len(s.docs)
	}
	remaining := s.docs[skip:]
	batchSize := s.cfg.batchSize()

	return sendBatches(ctx, k, indexer, s.cfg.StartOffset, func() ([]string, bool) {
		if len(remaining) == 0 {
			return nil, false
		}
		n := batchSize
		if n > len(remaining) {
			n = len(remaining)
		}
		batch := remaining[:n]
		remaining = remaining[n:]
		return batch, true
	})
}

func (s *InMemorySource) Health() actor.HealthState { return actor.Healthy }

var _ Source = (*InMemorySource)(nil)
