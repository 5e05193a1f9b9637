package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/model"
	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/storage"
)

func TestMergePlanner_SeedsThenEmitsJobOnMaturePublish(t *testing.T) {
	cfg := mergepolicy.DefaultConfig()
	cfg.MinLevelNumDocs = 10
	cfg.MergeFactor = 2
	policy := &mergepolicy.StableMultitenant{Cfg: cfg}

	downloader := actor.NewUnbounded[MergeJob]()
	planner := NewMergePlanner("idx", nil, policy, downloader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()
	go planner.Run(ctx, k)

	notice := PublishedSplits{IndexID: "idx", Splits: []model.SplitMetadata{
		{SplitID: "a", NumDocs: 6},
		{SplitID: "b", NumDocs: 6},
	}}
	require.NoError(t, planner.Inbox.Send(ctx, k, notice))

	select {
	case job := <-downloader.Receive():
		assert.Equal(t, "idx", job.IndexID)
		assert.Len(t, job.Op.Splits, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a merge job once the first level matures")
	}
}

func TestMergePlanner_IgnoresOtherIndexes(t *testing.T) {
	policy := &mergepolicy.StableMultitenant{Cfg: mergepolicy.DefaultConfig()}
	downloader := actor.NewUnbounded[MergeJob]()
	planner := NewMergePlanner("idx", nil, policy, downloader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()
	go planner.Run(ctx, k)

	require.NoError(t, planner.Inbox.Send(ctx, k, PublishedSplits{
		IndexID: "other",
		Splits:  []model.SplitMetadata{{SplitID: "z", NumDocs: 1_000_000}},
	}))

	select {
	case <-downloader.Receive():
		t.Fatal("must not react to another index's publish notice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMergeSplitDownloader_FetchesUncachedAndReusesCached(t *testing.T) {
	remote, err := storage.NewDiskRemoteStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, remote.Put(context.Background(), "split-a", writeTempFile(t, "split-a-bytes")))

	cache, err := storage.NewLocalSplitStore(t.TempDir(), 0, 0)
	require.NoError(t, err)

	executor := actor.NewMailbox[DownloadedMergeJob](2)
	d := NewMergeSplitDownloader("idx", remote, cache, executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()
	go d.Run(ctx, k)

	job := MergeJob{IndexID: "idx", Op: mergepolicy.MergeOperation{Splits: []model.SplitMetadata{{SplitID: "split-a"}}}}
	require.NoError(t, d.Inbox.Send(ctx, k, job))

	select {
	case downloaded := <-executor.Receive():
		require.Len(t, downloaded.Splits, 1)
		path, ok := downloaded.LocalPath["split-a"]
		require.True(t, ok)
		assert.FileExists(t, path)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a downloaded merge job")
	}

	cachedPath, ok := cache.Get("split-a")
	assert.True(t, ok)
	assert.FileExists(t, cachedPath)
}

func TestMergeExecutor_MergesDocsAndSetsReplacedSplitIDs(t *testing.T) {
	splitA := newTestSplit(t, "split-a", map[string]any{"id": "1"}, map[string]any{"id": "2"})
	require.NoError(t, splitA.Writer.Commit())
	require.NoError(t, splitA.Writer.Close())

	splitB := newTestSplit(t, "split-b", map[string]any{"id": "3"})
	require.NoError(t, splitB.Writer.Commit())
	require.NoError(t, splitB.Writer.Close())

	packager := actor.NewMailbox[SplitBatch](2)
	exec := NewMergeExecutor(model.PipelineID{IndexID: "idx"}, "idx", t.TempDir(), storage.DocStoreConfig{}, packager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()
	go exec.Run(ctx, k)

	job := DownloadedMergeJob{
		IndexID: "idx",
		Splits: []metastore.Split{
			{Metadata: model.SplitMetadata{SplitID: "split-a", NumDocs: 2, NumBytes: 20}},
			{Metadata: model.SplitMetadata{SplitID: "split-b", NumDocs: 1, NumBytes: 10}},
		},
		LocalPath: map[string]string{
			"split-a": splitDocstorePath(splitA),
			"split-b": splitDocstorePath(splitB),
		},
	}
	require.NoError(t, exec.Inbox.Send(ctx, k, job))

	select {
	case batch := <-packager.Receive():
		require.Len(t, batch.Splits, 1)
		assert.EqualValues(t, 3, batch.Splits[0].NumDocs)
		assert.ElementsMatch(t, []string{"split-a", "split-b"}, batch.ReplacedSplitIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a merged split batch")
	}
}

func TestGarbageCollector_SweepsAfterGracePeriod(t *testing.T) {
	ms := metastore.NewInMemory()
	ms.CreateIndex("idx")
	require.NoError(t, ms.StageSplit(context.Background(), "idx", model.SplitMetadata{SplitID: "dead-1"}))
	require.NoError(t, ms.MarkSplitsForDeletion(context.Background(), "idx", []string{"dead-1"}))

	remote, err := storage.NewDiskRemoteStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, remote.Put(context.Background(), "dead-1", writeTempFile(t, "bytes")))

	gc := NewGarbageCollector("idx", 10*time.Millisecond, ms, remote)
	gc.SweepEvery = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()
	go gc.Run(ctx, k)

	require.NoError(t, gc.Inbox.Send(ctx, k, MarkedForDeletion{IndexID: "idx", SplitIDs: []string{"dead-1"}}))

	require.Eventually(t, func() bool {
		splits, err := ms.ListSplits(context.Background(), "idx", metastore.SplitMarkedForDeletion, nil, nil)
		return err == nil && len(splits) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, remote.Get(context.Background(), "dead-1", writeTempFile(t, "")))
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tmp-file")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func splitDocstorePath(s *model.IndexedSplit) string {
	return filepath.Join(s.ScratchDir, s.SplitID+".docstore")
}
