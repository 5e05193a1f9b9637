package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/storage"
)

// UploaderCounters tracks the observable state the supervisor folds into
// IndexingStatistics alongside PublisherCounters (spec §4.3, "Observability");
// the Rust original's Handler<Observe> joins indexer, uploader and publisher
// counters in exactly this shape.
type UploaderCounters struct {
	numUploadedSplits atomic.Uint64
}

func (c *UploaderCounters) NumUploadedSplits() uint64 { return c.numUploadedSplits.Load() }

// Uploader stages each packaged split in the metastore and copies its file
// to the remote store, then forwards the batch — carrying each split's full
// metadata — to the sequencer. It handles one batch at a time; Sequenced
// carries the packager's ordinal through untouched so the sequencer can
// enforce publication order.
type Uploader struct {
	Name    string
	IndexID string

	Inbox  *actor.Mailbox[Sequenced[PackagedSplitBatch]]
	Uplink *actor.Mailbox[Sequenced[UploadedSplitBatch]]

	Metastore metastore.Metastore
	Remote    storage.RemoteStore

	Counters UploaderCounters
}

func NewUploader(name, indexID string, ms metastore.Metastore, remote storage.RemoteStore, uplink *actor.Mailbox[Sequenced[UploadedSplitBatch]]) *Uploader {
	return &Uploader{
		Name:      name,
		IndexID:   indexID,
		Inbox:     actor.NewMailbox[Sequenced[PackagedSplitBatch]](4),
		Uplink:    uplink,
		Metastore: ms,
		Remote:    remote,
	}
}

func (u *Uploader) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case msg, ok := <-u.Inbox.Receive():
			if !ok {
				u.Uplink.Close()
				return actor.ExitSuccess
			}
			uploaded, err := u.upload(ctx, msg.Payload)
			if err != nil {
				log.Printf("%s: %v", u.Name, err)
				return actor.ExitFailure
			}
			if err := u.Uplink.Send(ctx, k, Sequenced[UploadedSplitBatch]{Seq: msg.Seq, Payload: uploaded}); err != nil {
				log.Printf("%s: send to sequencer: %v", u.Name, err)
				return actor.ExitFailure
			}

		case <-k.Dead():
			return actor.ExitKilled
		case <-ctx.Done():
			return actor.ExitQuit
		}
	}
}

func (u *Uploader) upload(ctx context.Context, batch PackagedSplitBatch) (UploadedSplitBatch, error) {
	out := UploadedSplitBatch{
		ReplacedSplitIDs: batch.ReplacedSplitIDs,
		CheckpointDelta:  batch.CheckpointDelta,
		PublishLock:      batch.PublishLock,
		DateOfBirth:      batch.DateOfBirth,
	}
	for _, s := range batch.Splits {
		if err := u.Metastore.StageSplit(ctx, u.IndexID, s.Metadata); err != nil {
			return UploadedSplitBatch{}, fmt.Errorf("%s: stage split %s: %w", u.Name, s.Metadata.SplitID, err)
		}
		if err := u.Remote.Put(ctx, s.Metadata.SplitID, s.LocalPath); err != nil {
			return UploadedSplitBatch{}, fmt.Errorf("%s: upload split %s: %w", u.Name, s.Metadata.SplitID, err)
		}
		out.Splits = append(out.Splits, s.Metadata)
	}
	u.Counters.numUploadedSplits.Add(uint64(len(batch.Splits)))
	return out, nil
}

func (u *Uploader) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*Uploader)(nil)
