// Package supervisor implements the pipeline supervisor (spec §4.3):
// spawning the main chain and merge chain as one generation of actors
// behind a shared kill switch, heartbeat-driven healthchecking, exponential
// backoff on spawn failure, and exit-status classification on
// IndexDoesNotExist.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/indexer"
	"github.com/sudarshan/indexcore/internal/mapper"
	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/model"
	"github.com/sudarshan/indexcore/internal/pipeline"
	"github.com/sudarshan/indexcore/internal/source"
	"github.com/sudarshan/indexcore/internal/storage"
)

// heartbeat is the interval the original names HEARTBEAT: how often the
// supervisor's own healthcheck runs, and how long it waits before the
// first respawn attempt after a runtime failure.
const heartbeat = time.Second

// maxRetryDelay caps the exponential backoff applied to repeated spawn
// failures (spec §7).
const maxRetryDelay = 600 * time.Second

// waitDurationBeforeRetry computes 2^min(retryCount+1, 31) seconds, capped
// at maxRetryDelay: 2s, 4s, 8s, 16s, ... up to 10 minutes (spec §7).
func waitDurationBeforeRetry(retryCount int) time.Duration {
	exp := retryCount + 1
	if exp > 31 {
		exp = 31
	}
	d := time.Duration(uint64(1)<<uint(exp)) * time.Second
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// Params bundles everything one pipeline generation needs to spawn: where
// to read and write (metastore, remote store, local scratch/cache dirs),
// how to prepare and bound documents (mapper, indexing settings, merge
// policy), and how to construct this generation's source driver.
type Params struct {
	IndexID     string
	SourceID    string
	NodeID      string
	PipelineOrd int

	Metastore metastore.Metastore
	Remote    storage.RemoteStore

	Mapper           *mapper.Mapper
	IndexingSettings indexer.Settings
	MergePolicyCfg   mergepolicy.Config
	GCGracePeriod    time.Duration

	LocalCacheDir      string
	LocalCacheMaxCount int
	LocalCacheMaxBytes uint64
	MergeScratchDir    string

	SourceBatchSize int
	// NewSource constructs this generation's source driver bound to the
	// checkpoint the supervisor fetched from the metastore just before
	// spawning it (spec §4.3, "fetch index_metadata to be sure to have the
	// last updated checkpoint").
	NewSource func(cfg source.Config) source.Source
}

// handles mirrors the original's IndexingPipelineHandle: one Handle per
// supervised actor in this generation, plus indexerBridge — a detail the
// original doesn't need since its indexer and packager already share one
// message type.
type handles struct {
	source               *actor.Handle
	indexer              *actor.Handle
	indexerBridge        *actor.Handle
	packager             *actor.Handle
	uploader             *actor.Handle
	sequencer            *actor.Handle
	publisher            *actor.Handle
	garbageCollector     *actor.Handle
	mergePlanner         *actor.Handle
	mergeSplitDownloader *actor.Handle
	mergeExecutor        *actor.Handle
	mergePackager        *actor.Handle
	mergeUploader        *actor.Handle
	mergeSequencer       *actor.Handle
	mergePublisher       *actor.Handle
}

func (h *handles) all() []*actor.Handle {
	return []*actor.Handle{
		h.source, h.indexer, h.indexerBridge, h.packager, h.uploader, h.sequencer, h.publisher,
		h.garbageCollector, h.mergePlanner, h.mergeSplitDownloader, h.mergeExecutor,
		h.mergePackager, h.mergeUploader, h.mergeSequencer, h.mergePublisher,
	}
}

// indexerBridge forwards the indexer's output message to the main
// packager. The indexer and merge executor are independently developed
// producers of "one or more committed splits plus checkpoint bookkeeping"
// — the merge executor's SplitBatch additionally carries ReplacedSplitIDs,
// which the indexer's output never has, so indexcore keeps them as
// distinct named types rather than forcing one shape on both, and bridges
// the one mismatch it creates at the packager boundary.
type indexerBridge struct {
	Inbox  *actor.Mailbox[indexer.IndexedSplitBatch]
	Uplink *actor.Mailbox[pipeline.SplitBatch]
}

func newIndexerBridge(uplink *actor.Mailbox[pipeline.SplitBatch]) *indexerBridge {
	return &indexerBridge{
		Inbox:  actor.NewMailbox[indexer.IndexedSplitBatch](4),
		Uplink: uplink,
	}
}

func (b *indexerBridge) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case batch, ok := <-b.Inbox.Receive():
			if !ok {
				b.Uplink.Close()
				return actor.ExitSuccess
			}
			sb := pipeline.SplitBatch{
				Splits:          batch.Splits,
				CheckpointDelta: batch.CheckpointDelta,
				PublishLock:     batch.PublishLock,
				DateOfBirth:     batch.DateOfBirth,
			}
			if err := b.Uplink.Send(ctx, k, sb); err != nil {
				return actor.ExitFailure
			}

		case <-k.Dead():
			return actor.ExitKilled
		case <-ctx.Done():
			return actor.ExitQuit
		}
	}
}

func (b *indexerBridge) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*indexerBridge)(nil)

// Pipeline is one supervised index/source pair. Spawn a fresh generation of
// actors with Supervise, which blocks until the pipeline exits for good
// (Success: the index was dropped out from under it, or Quit: the caller's
// context was cancelled).
type Pipeline struct {
	params Params

	mu         sync.Mutex
	statistics Statistics
	k          *actor.KillSwitch
	h          *handles

	indexerRef   *indexer.Indexer
	uploaderRef  *pipeline.Uploader
	publisherRef *pipeline.Publisher
}

func New(params Params) *Pipeline {
	return &Pipeline{params: params}
}

// Supervise runs generations of this pipeline until a terminal outcome:
// the index no longer exists (Success), or ctx is cancelled (Quit). A
// generation that goes unhealthy is torn down and respawned from scratch;
// spawn_pipeline failures back off exponentially and retry, the way
// Handler<Spawn> does in the original.
func (p *Pipeline) Supervise(ctx context.Context) actor.ExitStatus {
	retryCount := 0
	for {
		if err := p.spawnPipeline(ctx); err != nil {
			p.mu.Lock()
			p.statistics.NumSpawnAttempts++
			p.mu.Unlock()
			if errors.Is(err, metastore.ErrIndexDoesNotExist) {
				log.Printf("supervisor(%s): index no longer exists, exiting", p.params.IndexID)
				return actor.ExitSuccess
			}

			wait := waitDurationBeforeRetry(retryCount)
			retryCount++
			log.Printf("supervisor(%s): spawn attempt %d failed, retrying in %s: %v", p.params.IndexID, retryCount, wait, err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return actor.ExitQuit
			}
		}

		retryCount = 0
		p.mu.Lock()
		p.statistics.NumSpawnAttempts++
		p.mu.Unlock()

		switch status := p.runGeneration(ctx); status {
		case actor.ExitSuccess:
			return actor.ExitSuccess
		case actor.ExitQuit:
			return actor.ExitQuit
		default:
			p.terminate()
			select {
			case <-time.After(heartbeat):
			case <-ctx.Done():
				return actor.ExitQuit
			}
		}
	}
}

// runGeneration heartbeats healthcheck() every second until the generation
// stops being Healthy, classifying the outcome the way Handler<Supervise>
// does.
func (p *Pipeline) runGeneration(ctx context.Context) actor.ExitStatus {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			switch p.healthcheck() {
			case actor.Healthy:
				continue
			case actor.Success:
				return actor.ExitSuccess
			default:
				return actor.ExitFailure
			}
		case <-ctx.Done():
			p.terminate()
			return actor.ExitQuit
		}
	}
}

// spawnPipeline constructs one fresh generation of the main chain and merge
// chain, in the exact dependency order the cyclic merge-planner graph
// requires (spec §4.3, §9): garbage collector first (nothing feeds it but
// the publishers), then the whole merge chain bottom-up so each stage's
// uplink mailbox exists before the stage that feeds it is spawned, with the
// merge planner's own inbox pre-created before either publisher so both can
// be constructed with a mailbox to notify that doesn't exist as an actor
// yet. The main chain follows, then the indexer, then — last, since it
// needs the freshest checkpoint — the source.
func (p *Pipeline) spawnPipeline(ctx context.Context) error {
	k := actor.NewKillSwitch()

	policy := mergepolicy.New(p.params.MergePolicyCfg)

	cache, err := storage.NewLocalSplitStore(p.params.LocalCacheDir, p.params.LocalCacheMaxCount, p.params.LocalCacheMaxBytes)
	if err != nil {
		return fmt.Errorf("supervisor: local split cache: %w", err)
	}

	seedSplits, err := publishedSplitMetadata(ctx, p.params.Metastore, p.params.IndexID)
	if err != nil {
		return fmt.Errorf("supervisor: seed merge planner: %w", err)
	}

	h := &handles{}

	gc := pipeline.NewGarbageCollector(p.params.IndexID, p.params.GCGracePeriod, p.params.Metastore, p.params.Remote)
	h.garbageCollector = actor.Spawn("garbage_collector", gc, ctx, k, gc.Run)

	mergePlannerMailbox := pipeline.NewMergePlannerMailbox()

	mergePublisher := pipeline.NewPublisher(pipeline.MergePublisher, p.params.IndexID, p.params.Metastore, mergePlannerMailbox, gc.Inbox)
	h.mergePublisher = actor.Spawn("merge_publisher", mergePublisher, ctx, k, mergePublisher.Run)

	mergeSequencer := pipeline.NewSequencer(mergePublisher.Inbox)
	h.mergeSequencer = actor.Spawn("merge_sequencer", mergeSequencer, ctx, k, mergeSequencer.Run)

	mergeUploader := pipeline.NewUploader("merge_uploader", p.params.IndexID, p.params.Metastore, p.params.Remote, mergeSequencer.Inbox)
	h.mergeUploader = actor.Spawn("merge_uploader", mergeUploader, ctx, k, mergeUploader.Run)

	mergePackager := pipeline.NewPackager("merge_packager", mergeUploader.Inbox)
	h.mergePackager = actor.Spawn("merge_packager", mergePackager, ctx, k, mergePackager.Run)

	pipelineID := model.PipelineID{
		IndexID:     p.params.IndexID,
		SourceID:    p.params.SourceID,
		NodeID:      p.params.NodeID,
		PipelineOrd: p.params.PipelineOrd,
	}

	mergeExecutor := pipeline.NewMergeExecutor(pipelineID, p.params.IndexID, p.params.MergeScratchDir, p.params.IndexingSettings.DocStore, mergePackager.Inbox)
	h.mergeExecutor = actor.Spawn("merge_executor", mergeExecutor, ctx, k, mergeExecutor.Run)

	mergeSplitDownloader := pipeline.NewMergeSplitDownloader(p.params.IndexID, p.params.Remote, cache, mergeExecutor.Inbox)
	h.mergeSplitDownloader = actor.Spawn("merge_split_downloader", mergeSplitDownloader, ctx, k, mergeSplitDownloader.Run)

	mergePlanner := pipeline.NewMergePlannerWithInbox(p.params.IndexID, seedSplits, policy, mergeSplitDownloader.Inbox, mergePlannerMailbox)
	h.mergePlanner = actor.Spawn("merge_planner", mergePlanner, ctx, k, mergePlanner.Run)

	mainPublisher := pipeline.NewPublisher(pipeline.MainPublisher, p.params.IndexID, p.params.Metastore, mergePlannerMailbox, gc.Inbox)
	mainPublisher.SourceNotifier = func(checkpointEnd int64) {
		// Truncation hint for the source, used in the original to let a
		// source drop data it knows has already been durably published.
		// indexcore's in-memory/file sources have nothing to truncate, so
		// this hook is intentionally a no-op; a durable source
		// implementation would wire a real truncate call here.
	}
	h.publisher = actor.Spawn("publisher", mainPublisher, ctx, k, mainPublisher.Run)

	mainSequencer := pipeline.NewSequencer(mainPublisher.Inbox)
	h.sequencer = actor.Spawn("sequencer", mainSequencer, ctx, k, mainSequencer.Run)

	mainUploader := pipeline.NewUploader("uploader", p.params.IndexID, p.params.Metastore, p.params.Remote, mainSequencer.Inbox)
	h.uploader = actor.Spawn("uploader", mainUploader, ctx, k, mainUploader.Run)

	mainPackager := pipeline.NewPackager("packager", mainUploader.Inbox)
	h.packager = actor.Spawn("packager", mainPackager, ctx, k, mainPackager.Run)

	bridge := newIndexerBridge(mainPackager.Inbox)
	h.indexerBridge = actor.Spawn("indexer_bridge", bridge, ctx, k, bridge.Run)

	// Fetched before the indexer is constructed, so both it and the source
	// resume from the same freshest watermark the metastore has (spec
	// §4.3): an indexer seeded at baseline 0 while its source resumes past
	// offset 0 would fail its very first batch with ErrCheckpointGap.
	meta, err := p.params.Metastore.IndexMetadata(ctx, p.params.IndexID)
	if err != nil {
		k.Trip()
		return fmt.Errorf("supervisor: fetch index metadata: %w", err)
	}

	p.mu.Lock()
	generation := p.statistics.Generation + 1
	p.mu.Unlock()
	lock := model.NewPublishLock(fmt.Sprintf("%s-gen-%d", p.params.IndexID, generation))

	idx := indexer.NewWithLock(indexer.Config{
		PipelineID: pipelineID,
		Mapper:     p.params.Mapper,
		Settings:   p.params.IndexingSettings,
		Metastore:  p.params.Metastore,
	}, bridge.Inbox, lock, meta.Checkpoint(p.params.SourceID))
	h.indexer = actor.Spawn("indexer", idx, ctx, k, idx.Run)

	srcCfg := source.Config{
		SourceID:    p.params.SourceID,
		StartOffset: meta.Checkpoint(p.params.SourceID),
		BatchSize:   p.params.SourceBatchSize,
	}
	src := p.params.NewSource(srcCfg)
	h.source = actor.Spawn("source", src, ctx, k, func(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
		status := src.Run(ctx, k, idx.Inbox)
		if status == actor.ExitSuccess {
			// Exhaustion is the head of the main-chain shutdown cascade: close
			// the indexer's inbox so it in turn flushes and closes the
			// packager's, and so on down the chain (see the shutdown-cascade
			// scope note in DESIGN.md).
			idx.Inbox.Close()
		}
		return status
	})

	p.mu.Lock()
	p.k = k
	p.h = h
	p.indexerRef = idx
	p.uploaderRef = mainUploader
	p.publisherRef = mainPublisher
	p.statistics.Generation++
	p.mu.Unlock()

	return nil
}

// publishedSplitMetadata fetches the splits already published for indexID,
// seeding a fresh merge planner the way the original's spawn_pipeline seeds
// IndexingSplitStore/the merge planner from list_splits(Published) before
// the planner actor exists.
func publishedSplitMetadata(ctx context.Context, ms metastore.Metastore, indexID string) ([]model.SplitMetadata, error) {
	splits, err := ms.ListSplits(ctx, indexID, metastore.SplitPublished, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.SplitMetadata, 0, len(splits))
	for _, s := range splits {
		out = append(out, s.Metadata)
	}
	return out, nil
}

// healthcheck classifies the current generation the way the original does:
// any failed-or-unhealthy child dominates; if nothing is still running and
// nothing failed, every actor finished cleanly (Success); otherwise at
// least one child is still healthy and running.
func (p *Pipeline) healthcheck() actor.HealthState {
	p.mu.Lock()
	h := p.h
	indexID := p.params.IndexID
	p.mu.Unlock()
	if h == nil {
		return actor.Healthy
	}

	var anyFailure, anyHealthy bool
	for _, handle := range h.all() {
		switch handle.Health() {
		case actor.FailureOrUnhealthy:
			anyFailure = true
			log.Printf("supervisor(%s): %s failed or unhealthy", indexID, handle.Name())
		case actor.Healthy:
			anyHealthy = true
		case actor.Success:
			log.Printf("supervisor(%s): %s finished", indexID, handle.Name())
		}
	}

	switch {
	case anyFailure:
		return actor.FailureOrUnhealthy
	case !anyHealthy:
		return actor.Success
	default:
		return actor.Healthy
	}
}

// terminate trips this generation's kill switch and concurrently kills
// every handle, folding their final counters into the frozen baseline
// before they're torn down — the Go analogue of the original's
// tokio::join! over every supervisable.
func (p *Pipeline) terminate() {
	p.mu.Lock()
	k := p.k
	h := p.h
	p.statistics = p.currentStatisticsLocked()
	p.statistics.NumDocsInWorkbench = 0
	p.indexerRef = nil
	p.uploaderRef = nil
	p.publisherRef = nil
	p.mu.Unlock()

	if k != nil {
		k.Trip()
	}
	if h == nil {
		return
	}

	var g errgroup.Group
	for _, handle := range h.all() {
		handle := handle
		g.Go(func() error {
			handle.Kill()
			<-handle.Done()
			return nil
		})
	}
	_ = g.Wait()
}

// Statistics returns a snapshot of this pipeline's cumulative counters,
// folding in whatever generation is currently live — the on-demand
// equivalent of the original's Handler<Observe> rebuild.
func (p *Pipeline) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentStatisticsLocked()
}

// currentStatisticsLocked must be called with p.mu held.
func (p *Pipeline) currentStatisticsLocked() Statistics {
	if p.indexerRef == nil {
		return p.statistics
	}
	snap := p.indexerRef.Counters.Snapshot()
	var numUploaded, numPublished uint64
	if p.uploaderRef != nil {
		numUploaded = p.uploaderRef.Counters.NumUploadedSplits()
	}
	if p.publisherRef != nil {
		numPublished = p.publisherRef.Counters.NumPublishedSplits()
	}
	return p.statistics.Merge(snap, numUploaded, numPublished)
}
