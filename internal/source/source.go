// Package source implements the upstream half of the main chain: drivers
// that produce model.RawDocBatch values for the indexer to consume. The
// Rust original wraps an arbitrary Source trait object in a SourceActor that
// forwards to the indexer's mailbox; indexcore's Source implementations are
// actors in their own right, since Go has no equivalent need for a generic
// wrapper actor around a narrower trait object.
package source

import (
	"context"
	"errors"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/model"
)

// Source is the capability set the supervisor consumes from a source driver
// (spec §9, "Polymorphism"): pump batches into the indexer's mailbox until
// exhausted, respecting cancellation, and report liveness.
type Source interface {
	Run(ctx context.Context, k *actor.KillSwitch, indexer *actor.Mailbox[model.RawDocBatch]) actor.ExitStatus
	Health() actor.HealthState
}

// Config is the resumption/batching state every driver shares: StartOffset
// is the last published checkpoint for this source (fetched from the
// metastore's IndexMetadata before the source is spawned, per spec §4.3's
// "fetch index_metadata to be sure to have the last updated checkpoint"),
// and BatchSize caps how many documents accumulate before a RawDocBatch is
// sent, mirroring the teacher's own MongoBatchSize knob.
type Config struct {
	SourceID    string
	StartOffset int64
	BatchSize   int
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 100
	}
	return c.BatchSize
}

// sendBatches is the shared pump loop both concrete sources use: drain
// batches from next until it reports done or an error, sending each to
// indexer and advancing the checkpoint by the batch's length.
func sendBatches(ctx context.Context, k *actor.KillSwitch, indexer *actor.Mailbox[model.RawDocBatch], offset int64, next func() ([]string, bool)) actor.ExitStatus {
	for {
		docs, ok := next()
		if !ok {
			return actor.ExitSuccess
		}
		if len(docs) == 0 {
			continue
		}
		delta := model.SourceCheckpointDelta{From: offset, To: offset + int64(len(docs))}
		batch := model.RawDocBatch{Docs: docs, CheckpointDelta: delta}
		if err := indexer.Send(ctx, k, batch); err != nil {
			if errors.Is(err, actor.ErrKilled) {
				return actor.ExitKilled
			}
			return actor.ExitQuit
		}
		offset += int64(len(docs))
	}
}
