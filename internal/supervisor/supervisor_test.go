package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/indexer"
	"github.com/sudarshan/indexcore/internal/mapper"
	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/source"
	"github.com/sudarshan/indexcore/internal/storage"
)

func newTestParams(t *testing.T, ms metastore.Metastore, docs []string) Params {
	t.Helper()
	remote, err := storage.NewDiskRemoteStore(t.TempDir())
	require.NoError(t, err)

	return Params{
		IndexID:  "idx",
		SourceID: "src",
		NodeID:   "node-1",

		Metastore: ms,
		Remote:    remote,

		Mapper: mapper.New(mapper.Config{RequiredFields: []string{"msg"}}),
		IndexingSettings: indexer.Settings{
			CommitTimeout:      time.Hour,
			SplitNumDocsTarget: 1_000_000,
			ScratchDir:         t.TempDir(),
			DocStore:           storage.DocStoreConfig{BlockSize: 100, CompressionLevel: 1},
		},
		MergePolicyCfg: mergepolicy.Config{MergeEnabled: false},
		GCGracePeriod:  time.Hour,

		LocalCacheDir:      t.TempDir(),
		LocalCacheMaxCount: 100,
		LocalCacheMaxBytes: 1 << 30,
		MergeScratchDir:    t.TempDir(),

		SourceBatchSize: 2,
		NewSource: func(cfg source.Config) source.Source {
			return source.NewInMemorySource(cfg, docs)
		},
	}
}

// TestSupervise_IndexesAndPublishesThenQuitsOnCancel exercises a whole
// generation end to end against the in-memory metastore and a disk-backed
// remote store: documents flow source -> indexer -> packager -> uploader ->
// sequencer -> publisher, landing published splits the statistics snapshot
// eventually reflects, same shape as spec §8's success-path scenario.
func TestSupervise_IndexesAndPublishesThenQuitsOnCancel(t *testing.T) {
	ms := metastore.NewInMemory()
	ms.CreateIndex("idx")

	docs := []string{
		`{"msg": "one"}`,
		`{"msg": "two"}`,
		`{"msg": "three"}`,
		`{"msg": "four"}`,
		`{"msg": "five"}`,
	}
	params := newTestParams(t, ms, docs)

	p := New(params)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan actor.ExitStatus, 1)
	go func() { done <- p.Supervise(ctx) }()

	require.Eventually(t, func() bool {
		return p.Statistics().NumValidDocs == uint64(len(docs))
	}, 5*time.Second, 10*time.Millisecond, "expected all documents to be indexed")

	require.Eventually(t, func() bool {
		splits, err := ms.ListSplits(context.Background(), "idx", metastore.SplitPublished, nil, nil)
		return err == nil && len(splits) > 0
	}, 5*time.Second, 10*time.Millisecond, "expected at least one published split")

	stats := p.Statistics()
	assert.EqualValues(t, 1, stats.Generation)
	assert.True(t, stats.NumPublishedSplits > 0)
	assert.True(t, stats.NumUploadedSplits > 0)

	cancel()

	select {
	case status := <-done:
		assert.Equal(t, actor.ExitQuit, status)
	case <-time.After(5 * time.Second):
		t.Fatal("expected Supervise to return after context cancellation")
	}
}

// TestSupervise_IndexDoesNotExistExitsSuccessImmediately covers spec §8's
// short-circuit: an index deleted (or never created) before the supervisor
// even gets to spawn a generation exits Success on the first attempt,
// without ever retrying.
func TestSupervise_IndexDoesNotExistExitsSuccessImmediately(t *testing.T) {
	ms := metastore.NewInMemory() // "idx" is never created

	params := newTestParams(t, ms, nil)
	p := New(params)

	status := p.Supervise(context.Background())

	assert.Equal(t, actor.ExitSuccess, status)
	stats := p.Statistics()
	assert.EqualValues(t, 1, stats.NumSpawnAttempts)
	assert.EqualValues(t, 0, stats.Generation)
}

// flakyMetastore wraps an InMemory metastore and fails IndexMetadata with a
// transient connection error the first N calls, grounding spec §8's
// retry/backoff scenario (spawn_pipeline failure -> exponential backoff ->
// eventual success) without waiting out real backoff delays past the first
// couple of retries.
type flakyMetastore struct {
	*metastore.InMemory

	mu        sync.Mutex
	failLeft  int
	callCount int
}

func newFlakyMetastore(inner *metastore.InMemory, failures int) *flakyMetastore {
	return &flakyMetastore{InMemory: inner, failLeft: failures}
}

func (f *flakyMetastore) IndexMetadata(ctx context.Context, indexID string) (metastore.IndexMetadata, error) {
	f.mu.Lock()
	f.callCount++
	if f.failLeft > 0 {
		f.failLeft--
		f.mu.Unlock()
		return metastore.IndexMetadata{}, fmt.Errorf("flaky induced failure: %w", metastore.ErrConnection)
	}
	f.mu.Unlock()
	return f.InMemory.IndexMetadata(ctx, indexID)
}

func (f *flakyMetastore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// TestSupervise_RetriesSpawnFailureThenSucceeds drives a metastore that
// fails spawnPipeline's IndexMetadata fetch twice before succeeding,
// asserting the supervisor retries (NumSpawnAttempts climbs) rather than
// giving up, then eventually spawns a healthy generation.
func TestSupervise_RetriesSpawnFailureThenSucceeds(t *testing.T) {
	inner := metastore.NewInMemory()
	inner.CreateIndex("idx")
	flaky := newFlakyMetastore(inner, 2)

	// waitDurationBeforeRetry(0) and (1) are 2s and 4s; tolerable for a unit
	// test given there are only two failures before success.
	params := newTestParams(t, flaky, []string{`{"msg": "hello"}`})
	p := New(params)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan actor.ExitStatus, 1)
	go func() { done <- p.Supervise(ctx) }()

	require.Eventually(t, func() bool {
		return flaky.calls() >= 3
	}, 15*time.Second, 10*time.Millisecond, "expected the supervisor to retry past both induced failures")

	require.Eventually(t, func() bool {
		return p.Statistics().NumSpawnAttempts >= 3
	}, 15*time.Second, 10*time.Millisecond, "expected NumSpawnAttempts to count both failed and successful spawns")

	cancel()
	select {
	case status := <-done:
		assert.Equal(t, actor.ExitQuit, status)
	case <-time.After(5 * time.Second):
		t.Fatal("expected Supervise to return after context cancellation")
	}
}
