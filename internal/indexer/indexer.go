// Package indexer implements the Indexer actor: the pipeline stage that
// turns RawDocBatch messages into IndexedSplitBatch messages bound for the
// packager. One Indexer owns at most one Workbench at a time, lazily
// created on the first document that needs it and flushed either on a
// commit timeout, on reaching the configured document-count target, or on
// end of stream (spec §4.1).
package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/mapper"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/model"
	"github.com/sudarshan/indexcore/internal/storage"
)

// IndexedSplitBatch is the Indexer's output message, consumed by the
// packager. An empty Splits slice never occurs on the wire: a flush with no
// valid documents only advances the checkpoint and is never sent (see
// flush below).
type IndexedSplitBatch struct {
	Splits          []*model.IndexedSplit
	CheckpointDelta model.IndexCheckpointDelta
	PublishLock     *model.PublishLock
	DateOfBirth     time.Time
}

// commitTimeout is the Indexer's self-addressed message scheduled whenever
// a workbench is created; it is ignored if the workbench it names has
// already been flushed by the time it fires (spec §4.1, CommitTimeout).
type commitTimeout struct {
	workbenchID model.WorkbenchID
}

// newPublishLock carries a publish-lock rotation, sent by the supervisor
// whenever a pipeline generation's predecessor is superseded. Receiving one
// unconditionally drops any current workbench (spec §4.1).
type newPublishLock struct {
	sourceID string
	lock     *model.PublishLock
}

// commitTrigger names why a flush happened, purely for logging (spec §4.1).
type commitTrigger int

const (
	triggerTimeout commitTrigger = iota
	triggerNoMoreDocs
	triggerNumDocsLimit
)

func (t commitTrigger) String() string {
	switch t {
	case triggerTimeout:
		return "timeout"
	case triggerNoMoreDocs:
		return "no-more-docs"
	case triggerNumDocsLimit:
		return "num-docs-limit"
	default:
		return "unknown"
	}
}

// Settings bundles the indexing knobs that shape workbench lifetime and
// split sizing (spec §6 indexing_settings).
type Settings struct {
	CommitTimeout      time.Duration
	SplitNumDocsTarget uint64
	ScratchDir         string
	DocStore           storage.DocStoreConfig
}

// Config wires one Indexer instance together. Metastore is the durable
// target for a poison-only flush's checkpoint-only publish (see flush); it
// is never used to stage or publish an actual split, only to advance a
// source's checkpoint when a batch produced no valid documents at all.
type Config struct {
	PipelineID model.PipelineID
	Mapper     *mapper.Mapper
	Settings   Settings
	QueueCap   int
	Metastore  metastore.Metastore
}

// Indexer is the actor. Batches arrive on Inbox; flushed splits leave on
// PackagerMailbox. Counters is exported so the supervisor's heartbeat can
// snapshot it without a method call crossing actor boundaries.
type Indexer struct {
	pipelineID model.PipelineID
	mapper     *mapper.Mapper
	settings   Settings
	metastore  metastore.Metastore

	Inbox           *actor.Mailbox[model.RawDocBatch]
	lockMailbox     *actor.Mailbox[newPublishLock]
	timeoutMailbox  *actor.Mailbox[commitTimeout]
	PackagerMailbox *actor.Mailbox[IndexedSplitBatch]

	Counters model.IndexerCounters

	lock      *model.PublishLock
	workbench *model.Workbench
	nextWBID  model.WorkbenchID

	checkpointBaseline int64
}

// New constructs an Indexer with a fresh, alive publish lock and an empty
// checkpoint baseline. Use NewWithLock to resume a source at a non-zero
// offset (e.g. after a supervisor restart).
func New(cfg Config, packagerMailbox *actor.Mailbox[IndexedSplitBatch]) *Indexer {
	return NewWithLock(cfg, packagerMailbox, model.NewPublishLock("initial"), 0)
}

// NewWithLock is New with an explicit starting publish lock and checkpoint
// baseline, letting the supervisor resume an indexer at the watermark a
// prior generation left in the metastore.
func NewWithLock(cfg Config, packagerMailbox *actor.Mailbox[IndexedSplitBatch], lock *model.PublishLock, checkpointBaseline int64) *Indexer {
	qc := cfg.QueueCap
	if qc <= 0 {
		qc = 10
	}
	return &Indexer{
		pipelineID:         cfg.PipelineID,
		mapper:             cfg.Mapper,
		settings:           cfg.Settings,
		metastore:          cfg.Metastore,
		Inbox:              actor.NewMailbox[model.RawDocBatch](qc),
		lockMailbox:        actor.NewMailbox[newPublishLock](1),
		timeoutMailbox:     actor.NewMailbox[commitTimeout](1),
		PackagerMailbox:    packagerMailbox,
		lock:               lock,
		checkpointBaseline: checkpointBaseline,
	}
}

// SetPublishLock delivers a lock rotation to a running Indexer from outside
// its own goroutine.
func (idx *Indexer) SetPublishLock(ctx context.Context, k *actor.KillSwitch, sourceID string, lock *model.PublishLock) error {
	return idx.lockMailbox.Send(ctx, k, newPublishLock{sourceID: sourceID, lock: lock})
}

// Run drives the actor loop until ctx is cancelled, the kill switch trips,
// or the upstream source closes the Inbox. The exit dispatch mirrors the
// original actor's finalize(): only a clean Success or an explicit Quit
// trigger a final NoMoreDocs flush; every other exit drops the workbench
// in place (spec §4.1, §7).
func (idx *Indexer) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case batch, ok := <-idx.Inbox.Receive():
			if !ok {
				return idx.finalize(ctx, k, actor.ExitSuccess)
			}
			if err := idx.processBatch(ctx, k, batch); err != nil {
				log.Printf("indexer %s: process batch: %v", idx.pipelineID, err)
				return idx.finalize(ctx, k, actor.ExitFailure)
			}
			if idx.settings.SplitNumDocsTarget > 0 && idx.Counters.Snapshot().NumDocsInWorkbench >= idx.settings.SplitNumDocsTarget {
				if err := idx.flush(ctx, k, triggerNumDocsLimit); err != nil {
					log.Printf("indexer %s: flush on num-docs-limit: %v", idx.pipelineID, err)
					return idx.finalize(ctx, k, actor.ExitFailure)
				}
			}

		case rot := <-idx.lockMailbox.Receive():
			idx.workbench = nil
			idx.Counters.ResetWorkbenchDocs()
			idx.lock = rot.lock

		case timeout := <-idx.timeoutMailbox.Receive():
			if idx.workbench == nil || idx.workbench.ID != timeout.workbenchID {
				continue
			}
			if err := idx.flush(ctx, k, triggerTimeout); err != nil {
				log.Printf("indexer %s: flush on timeout: %v", idx.pipelineID, err)
				return idx.finalize(ctx, k, actor.ExitFailure)
			}

		case <-k.Dead():
			return actor.ExitKilled

		case <-ctx.Done():
			return idx.finalize(ctx, k, actor.ExitQuit)
		}
	}
}

// finalize runs the exit-status dispatch from spec §4.1/§7. On a clean
// Success or Quit it also closes PackagerMailbox, so the downstream chain
// sees its own inbox close and cascades the same clean shutdown rather than
// sitting idle forever waiting on a producer that's already gone.
func (idx *Indexer) finalize(ctx context.Context, k *actor.KillSwitch, status actor.ExitStatus) actor.ExitStatus {
	if status == actor.ExitSuccess || status == actor.ExitQuit {
		if err := idx.flush(ctx, k, triggerNoMoreDocs); err != nil {
			log.Printf("indexer %s: flush on finalize: %v", idx.pipelineID, err)
			return actor.ExitFailure
		}
		idx.PackagerMailbox.Close()
	}
	return status
}

// getOrCreateWorkbench returns the current workbench, creating one and
// scheduling its commit timer on first use after a commit or lock rotation
// (spec §4.1, get_or_create_workbench).
func (idx *Indexer) getOrCreateWorkbench(ctx context.Context, k *actor.KillSwitch, sourceID string) *model.Workbench {
	if idx.workbench != nil {
		return idx.workbench
	}
	idx.nextWBID++
	wb := model.NewWorkbench(idx.nextWBID, idx.pipelineID, idx.lock, sourceID, idx.checkpointBaseline)
	wb.CreatedAt = time.Now()
	idx.workbench = wb

	wbID := wb.ID
	if idx.settings.CommitTimeout > 0 {
		go func() {
			t := time.NewTimer(idx.settings.CommitTimeout)
			defer t.Stop()
			select {
			case <-t.C:
				idx.timeoutMailbox.TrySend(commitTimeout{workbenchID: wbID})
			case <-k.Dead():
			case <-ctx.Done():
			}
		}()
	}
	return wb
}

// newSplitFor allocates a fresh IndexedSplit bound to partitionID, opening
// its docstore writer under the configured scratch directory.
func (idx *Indexer) newSplitFor(partitionID uint64) *model.IndexedSplit {
	splitID := model.NewSplitID()
	writer, err := storage.NewDocStoreWriter(idx.settings.ScratchDir, splitID, idx.settings.DocStore)
	if err != nil {
		// A scratch-directory failure is unrecoverable for this split; it
		// surfaces as an error on the first AddDocument call instead of
		// failing newSplitFor itself, which has no error return (it is
		// called from inside Workbench.SplitFor's lazy-init callback).
		writer = &failingWriter{err: err}
	}
	return &model.IndexedSplit{
		SplitID:     splitID,
		PartitionID: partitionID,
		PipelineID:  idx.pipelineID,
		ScratchDir:  idx.settings.ScratchDir,
		Writer:      writer,
	}
}

// failingWriter reports the scratch-dir error on the first write instead of
// at construction time, so newSplitFor never needs to return an error.
type failingWriter struct{ err error }

func (w *failingWriter) AddDocument(map[string]any) error { return w.err }
func (w *failingWriter) Commit() error                    { return w.err }
func (w *failingWriter) Close() error                     { return nil }

// processBatch folds one RawDocBatch into the current workbench: it
// extends the checkpoint first (a gap is fatal for the whole batch, per
// spec §7 CheckpointGap), then parses and routes every document, counting
// every document's raw byte size unconditionally before classification —
// the same order the original's process_batch uses for overall_num_bytes.
func (idx *Indexer) processBatch(ctx context.Context, k *actor.KillSwitch, batch model.RawDocBatch) error {
	sourceID := idx.pipelineID.SourceID
	wb := idx.getOrCreateWorkbench(ctx, k, sourceID)

	if err := wb.Checkpoint.Extend(batch.CheckpointDelta); err != nil {
		return fmt.Errorf("indexer: %w", err)
	}

	for _, raw := range batch.Docs {
		if idx.lock.IsDead() {
			// The workbench's publish lock died mid-batch (a newer
			// generation superseded it); stop folding documents into a
			// split that will never be published. The checkpoint advance
			// already applied above still stands.
			return nil
		}

		idx.Counters.AddBytes(uint64(len(raw)))

		outcome := idx.mapper.Prepare(raw)
		switch outcome.Kind {
		case model.OutcomeParsingError:
			idx.Counters.AddParseError()
		case model.OutcomeMissingField:
			idx.Counters.AddMissingField()
		case model.OutcomeDocument:
			split := wb.SplitFor(outcome.Parsed.PartitionKey, func() *model.IndexedSplit {
				return idx.newSplitFor(outcome.Parsed.PartitionKey)
			})
			if err := split.AddDocument(outcome.Parsed, uint64(len(raw)), outcome.Timestamp); err != nil {
				return fmt.Errorf("indexer: add document to split %s: %w", split.SplitID, err)
			}
			idx.Counters.AddValidDoc()
		}
	}
	return nil
}

// flush sends the current workbench's splits to the packager and clears
// the workbench, or — if every split turned out empty because the batch
// was poison only — advances the checkpoint baseline without emitting a
// batch at all, so the faulty documents are never reprocessed (spec §4.1,
// "avoid producing an empty split but still update the checkpoint").
func (idx *Indexer) flush(ctx context.Context, k *actor.KillSwitch, trigger commitTrigger) error {
	wb := idx.workbench
	if wb == nil {
		return nil
	}
	idx.workbench = nil

	splits := nonEmptySplits(wb)
	if len(splits) == 0 {
		idx.Counters.ResetWorkbenchDocs()
		guard, ok := wb.Lock.Acquire()
		if !ok {
			log.Printf("indexer %s: publish lock dead, dropping checkpoint-only flush", idx.pipelineID)
			return nil
		}
		defer guard.Release()
		if err := PublishCheckpoint(ctx, idx.metastore, idx.pipelineID.IndexID, wb.Checkpoint); err != nil {
			return fmt.Errorf("indexer: checkpoint-only publish: %w", err)
		}
		idx.checkpointBaseline = wb.Checkpoint.Delta.To
		return nil
	}

	numDocs := wb.NumDocs()
	log.Printf("indexer %s: send-to-packager trigger=%s splits=%d num_docs=%d", idx.pipelineID, trigger, len(splits), numDocs)

	batch := IndexedSplitBatch{
		Splits:          splits,
		CheckpointDelta: wb.Checkpoint,
		PublishLock:     wb.Lock,
		DateOfBirth:     wb.CreatedAt,
	}
	if err := idx.PackagerMailbox.Send(ctx, k, batch); err != nil {
		return fmt.Errorf("indexer: send to packager: %w", err)
	}
	idx.Counters.RecordFlush(len(splits))
	idx.checkpointBaseline = wb.Checkpoint.Delta.To
	return nil
}

// PublishCheckpoint durably records a split-less flush's checkpoint advance
// against the metastore, matching the original's ctx.protect_future(
// metastore.publish_splits(..., &[], &[], Some(checkpoint_delta))) call.
// The Indexer's flush calls it on a poison-only flush, with the Metastore
// given in Config. An empty delta is not published.
func PublishCheckpoint(ctx context.Context, ms metastore.Metastore, indexID string, delta model.IndexCheckpointDelta) error {
	if delta.IsEmpty() {
		return nil
	}
	return ms.PublishSplits(ctx, indexID, nil, nil, &delta)
}

// nonEmptySplits filters out any split that never received a document — a
// workbench can allocate a split for a partition and then have every
// document routed to it fail to parse (spec §4.1 edge cases).
func nonEmptySplits(wb *model.Workbench) []*model.IndexedSplit {
	var out []*model.IndexedSplit
	for _, s := range wb.SplitList() {
		if s.NumDocs > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Health reports Healthy while the actor loop is alive; the supervisor only
// ever observes Success/FailureOrUnhealthy once Run has returned, matching
// spec §4.3.
func (idx *Indexer) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*Indexer)(nil)
