package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/model"
)

// PublisherKind distinguishes the main chain's publisher, which feeds the
// source a truncation hint, from the merge chain's, which never does
// (spec §4.3 spawn sequence names both "merge publisher" and "publisher").
type PublisherKind int

const (
	MainPublisher PublisherKind = iota
	MergePublisher
)

// PublishedSplits notifies the merge planner of newly published splits,
// whichever chain produced them — the planner treats both identically
// (spec §9: "the merge planner both produces and... consumes splits").
type PublishedSplits struct {
	IndexID string
	Splits  []model.SplitMetadata
}

// PublisherCounters tracks the observable state the supervisor folds into
// IndexingStatistics (spec §4.3, "Observability").
type PublisherCounters struct {
	numPublishedSplits atomic.Uint64
}

func (c *PublisherCounters) NumPublishedSplits() uint64 { return c.numPublishedSplits.Load() }

// Publisher calls PublishSplits on the metastore (an atomic swap: the newly
// uploaded splits become Published, the replaced ones MarkedForDeletion,
// and the checkpoint advances, all in one call), then fans the result out
// to the merge planner and, for the main chain, calls SourceNotifier with the
// checkpoint end if the caller has set it after construction (a truncation
// hint in the original; the supervisor sets a no-op hook since source
// checkpoint truncation is out of core scope).
type Publisher struct {
	Kind    PublisherKind
	IndexID string

	Inbox          *actor.Mailbox[UploadedSplitBatch]
	Metastore      metastore.Metastore
	MergePlanner   *actor.Mailbox[PublishedSplits]
	GC             *actor.Mailbox[MarkedForDeletion]
	SourceNotifier func(checkpointEnd int64)

	Counters PublisherCounters
}

func NewPublisher(kind PublisherKind, indexID string, ms metastore.Metastore, mergePlanner *actor.Mailbox[PublishedSplits], gc *actor.Mailbox[MarkedForDeletion]) *Publisher {
	return &Publisher{
		Kind:         kind,
		IndexID:      indexID,
		Inbox:        actor.NewMailbox[UploadedSplitBatch](4),
		Metastore:    ms,
		MergePlanner: mergePlanner,
		GC:           gc,
	}
}

// MarkedForDeletion tells the garbage collector a new batch of splits is
// eligible for eventual physical deletion, once the grace period elapses.
type MarkedForDeletion struct {
	IndexID  string
	SplitIDs []string
}

func (p *Publisher) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case batch, ok := <-p.Inbox.Receive():
			if !ok {
				return actor.ExitSuccess
			}
			if err := p.publish(ctx, k, batch); err != nil {
				log.Printf("publisher(%s): %v", p.IndexID, err)
				return actor.ExitFailure
			}

		case <-k.Dead():
			return actor.ExitKilled
		case <-ctx.Done():
			return actor.ExitQuit
		}
	}
}

func (p *Publisher) publish(ctx context.Context, k *actor.KillSwitch, batch UploadedSplitBatch) error {
	var delta *model.IndexCheckpointDelta
	if !batch.CheckpointDelta.IsEmpty() {
		delta = &batch.CheckpointDelta
	}
	splitIDs := batch.SplitIDs()
	if err := p.Metastore.PublishSplits(ctx, p.IndexID, splitIDs, batch.ReplacedSplitIDs, delta); err != nil {
		return fmt.Errorf("publish splits: %w", err)
	}
	p.Counters.numPublishedSplits.Add(uint64(len(splitIDs)))

	if len(batch.Splits) > 0 && p.MergePlanner != nil {
		if err := p.MergePlanner.Send(ctx, k, PublishedSplits{IndexID: p.IndexID, Splits: batch.Splits}); err != nil {
			return fmt.Errorf("notify merge planner: %w", err)
		}
	}
	if len(batch.ReplacedSplitIDs) > 0 && p.GC != nil {
		if err := p.GC.Send(ctx, k, MarkedForDeletion{IndexID: p.IndexID, SplitIDs: batch.ReplacedSplitIDs}); err != nil {
			return fmt.Errorf("notify garbage collector: %w", err)
		}
	}
	if p.Kind == MainPublisher && p.SourceNotifier != nil {
		p.SourceNotifier(batch.CheckpointDelta.Delta.To)
	}
	return nil
}

func (p *Publisher) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*Publisher)(nil)
