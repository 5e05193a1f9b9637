package pipeline

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/model"
)

// Packager commits each in-progress split's docstore writer to disk and
// derives its persistent SplitMetadata, then hands the batch to the
// uploader tagged with a monotonic sequence number. One Packager instance
// serves either the main chain or the merge chain; Name distinguishes them
// in logs the way the teacher's two mongodb/opensearch clients each log
// under their own prefix.
type Packager struct {
	Name string

	Inbox  *actor.Mailbox[SplitBatch]
	Uplink *actor.Mailbox[Sequenced[PackagedSplitBatch]]

	nextSeq atomic.Uint64
}

func NewPackager(name string, uplink *actor.Mailbox[Sequenced[PackagedSplitBatch]]) *Packager {
	return &Packager{
		Name:   name,
		Inbox:  actor.NewMailbox[SplitBatch](4),
		Uplink: uplink,
	}
}

func (p *Packager) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case batch, ok := <-p.Inbox.Receive():
			if !ok {
				p.Uplink.Close()
				return actor.ExitSuccess
			}
			packaged, err := p.packageBatch(batch)
			if err != nil {
				log.Printf("%s: %v", p.Name, err)
				return actor.ExitFailure
			}
			seq := p.nextSeq.Add(1) - 1
			if err := p.Uplink.Send(ctx, k, Sequenced[PackagedSplitBatch]{Seq: seq, Payload: packaged}); err != nil {
				log.Printf("%s: send to uploader: %v", p.Name, err)
				return actor.ExitFailure
			}

		case <-k.Dead():
			return actor.ExitKilled
		case <-ctx.Done():
			return actor.ExitQuit
		}
	}
}

// packageBatch commits every split's writer and builds its metadata. A
// split whose writer fails to commit aborts the whole batch: the original
// treats a segment-builder commit failure as unrecoverable for that split,
// and a partially packaged batch cannot be published atomically anyway.
func (p *Packager) packageBatch(batch SplitBatch) (PackagedSplitBatch, error) {
	out := PackagedSplitBatch{
		CheckpointDelta:  batch.CheckpointDelta,
		PublishLock:      batch.PublishLock,
		DateOfBirth:      batch.DateOfBirth,
		ReplacedSplitIDs: batch.ReplacedSplitIDs,
	}
	for _, s := range batch.Splits {
		if err := s.Writer.Commit(); err != nil {
			return PackagedSplitBatch{}, fmt.Errorf("%s: commit split %s: %w", p.Name, s.SplitID, err)
		}
		if err := s.Writer.Close(); err != nil {
			return PackagedSplitBatch{}, fmt.Errorf("%s: close split %s: %w", p.Name, s.SplitID, err)
		}
		out.Splits = append(out.Splits, PackagedSplit{
			Metadata:  metadataFor(s),
			LocalPath: filepath.Join(s.ScratchDir, s.SplitID+".docstore"),
		})
	}
	return out, nil
}

// metadataFor derives the persistent SplitMetadata a freshly committed
// IndexedSplit leaves behind. Tag extraction (the original's tag_fields)
// is out of core scope here; indexcore carries the field through the wire
// types (spec §6) without populating it from document content.
func metadataFor(s *model.IndexedSplit) model.SplitMetadata {
	return model.SplitMetadata{
		SplitID:   s.SplitID,
		NumDocs:   s.NumDocs,
		TimeRange: s.TimeRange,
		NumBytes:  s.UncompressedDocsSizeInBytes,
	}
}

func (p *Packager) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*Packager)(nil)
