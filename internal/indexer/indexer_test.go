package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/mapper"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/model"
)

func newTestIndexer(t *testing.T, settings Settings) (*Indexer, *actor.Mailbox[IndexedSplitBatch], *metastore.InMemory) {
	t.Helper()
	if settings.ScratchDir == "" {
		settings.ScratchDir = t.TempDir()
	}
	packager := actor.NewMailbox[IndexedSplitBatch](4)
	m := mapper.New(mapper.Config{
		TimestampField: "ts",
		PartitionField: "tenant",
		RequiredFields: []string{"id"},
	})
	ms := metastore.NewInMemory()
	ms.CreateIndex("idx")
	idx := New(Config{
		PipelineID: model.PipelineID{IndexID: "idx", SourceID: "src", NodeID: "n1", PipelineOrd: 0},
		Mapper:     m,
		Settings:   settings,
		Metastore:  ms,
	}, packager)
	return idx, packager, ms
}

func docBatch(from, to int64, docs ...string) model.RawDocBatch {
	return model.RawDocBatch{Docs: docs, CheckpointDelta: model.SourceCheckpointDelta{From: from, To: to}}
}

func runInBackground(idx *Indexer, ctx context.Context, k *actor.KillSwitch) <-chan actor.ExitStatus {
	done := make(chan actor.ExitStatus, 1)
	go func() { done <- idx.Run(ctx, k) }()
	return done
}

func TestIndexer_SimpleIngestAndEndOfStreamFlush(t *testing.T) {
	idx, packager, _ := newTestIndexer(t, Settings{SplitNumDocsTarget: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := runInBackground(idx, ctx, k)

	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(0, 2, `{"id":"1","ts":1}`, `{"id":"2","ts":2}`)))
	idx.Inbox.Close()

	select {
	case status := <-done:
		assert.Equal(t, actor.ExitSuccess, status)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not exit")
	}

	select {
	case batch := <-packager.Receive():
		require.Len(t, batch.Splits, 1)
		assert.EqualValues(t, 2, batch.Splits[0].NumDocs)
		assert.Equal(t, int64(0), batch.CheckpointDelta.Delta.From)
		assert.Equal(t, int64(2), batch.CheckpointDelta.Delta.To)
	default:
		t.Fatal("expected a flushed batch on end of stream")
	}

	snap := idx.Counters.Snapshot()
	assert.EqualValues(t, 2, snap.NumValidDocs)
	assert.EqualValues(t, 1, snap.NumSplitsEmitted)
	assert.EqualValues(t, 0, snap.NumDocsInWorkbench)
}

func TestIndexer_CommitByTimeout(t *testing.T) {
	idx, packager, _ := newTestIndexer(t, Settings{CommitTimeout: 20 * time.Millisecond, SplitNumDocsTarget: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := runInBackground(idx, ctx, k)

	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(0, 1, `{"id":"1","ts":1}`)))

	select {
	case batch := <-packager.Receive():
		require.Len(t, batch.Splits, 1)
		assert.EqualValues(t, 1, batch.Splits[0].NumDocs)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a timeout-triggered flush")
	}

	idx.Inbox.Close()
	select {
	case status := <-done:
		assert.Equal(t, actor.ExitSuccess, status)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not exit")
	}
}

func TestIndexer_CommitByNumDocsLimit(t *testing.T) {
	idx, packager, _ := newTestIndexer(t, Settings{SplitNumDocsTarget: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := runInBackground(idx, ctx, k)

	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(0, 2, `{"id":"1","ts":1}`, `{"id":"2","ts":2}`)))

	select {
	case batch := <-packager.Receive():
		require.Len(t, batch.Splits, 1)
		assert.EqualValues(t, 2, batch.Splits[0].NumDocs)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a num-docs-limit flush")
	}

	idx.Inbox.Close()
	<-done
}

func TestIndexer_Partitioning(t *testing.T) {
	idx, packager, _ := newTestIndexer(t, Settings{SplitNumDocsTarget: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := runInBackground(idx, ctx, k)

	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(0, 3,
		`{"id":"1","ts":1,"tenant":"a"}`,
		`{"id":"2","ts":2,"tenant":"b"}`,
		`{"id":"3","ts":3,"tenant":"a"}`,
	)))
	idx.Inbox.Close()
	<-done

	batch := <-packager.Receive()
	assert.Len(t, batch.Splits, 2)
	total := uint64(0)
	for _, s := range batch.Splits {
		total += s.NumDocs
	}
	assert.EqualValues(t, 3, total)
}

func TestIndexer_PublishLockRotationDropsWorkbench(t *testing.T) {
	idx, packager, _ := newTestIndexer(t, Settings{SplitNumDocsTarget: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := runInBackground(idx, ctx, k)

	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(0, 1, `{"id":"1","ts":1}`)))
	time.Sleep(50 * time.Millisecond)

	newLock := model.NewPublishLock("second")
	require.NoError(t, idx.SetPublishLock(ctx, k, "src", newLock))
	time.Sleep(50 * time.Millisecond)

	idx.Inbox.Close()
	status := <-done
	assert.Equal(t, actor.ExitSuccess, status)

	// finalize closes the packager mailbox on a clean exit, so only a
	// receive that yields an actual batch (ok == true) is a flush.
	select {
	case _, ok := <-packager.Receive():
		if ok {
			t.Fatal("rotated-away workbench must not be flushed")
		}
	default:
	}
}

func TestIndexer_DeadPublishLockSkipsRemainingDocs(t *testing.T) {
	idx, packager, _ := newTestIndexer(t, Settings{SplitNumDocsTarget: 1000})
	idx.lock = model.NewDeadPublishLock("dead")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := runInBackground(idx, ctx, k)

	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(0, 2, `{"id":"1","ts":1}`, `{"id":"2","ts":2}`)))
	idx.Inbox.Close()
	status := <-done
	assert.Equal(t, actor.ExitSuccess, status)

	select {
	case _, ok := <-packager.Receive():
		if ok {
			t.Fatal("a batch bound to a dead publish lock must never reach the packager")
		}
	default:
	}
}

func TestIndexer_PoisonOnlyBatchAdvancesCheckpointWithoutEmitting(t *testing.T) {
	idx, packager, ms := newTestIndexer(t, Settings{SplitNumDocsTarget: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := runInBackground(idx, ctx, k)

	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(0, 2, `not json`, `{"ts":1}`)))
	idx.Inbox.Close()
	status := <-done
	assert.Equal(t, actor.ExitSuccess, status)

	select {
	case _, ok := <-packager.Receive():
		if ok {
			t.Fatal("a batch with only parse errors/missing fields must not emit a split batch")
		}
	default:
	}

	snap := idx.Counters.Snapshot()
	assert.EqualValues(t, 1, snap.NumParseErrors)
	assert.EqualValues(t, 1, snap.NumMissingFields)
	assert.EqualValues(t, 0, snap.NumValidDocs)
	assert.EqualValues(t, 0, snap.NumDocsInWorkbench)
	assert.EqualValues(t, 2, idx.checkpointBaseline)

	// The poison-only flush must have gone all the way to the metastore: an
	// empty split set plus a non-empty checkpoint delta, exactly as spec
	// scenario 7 requires, not just a local counter update.
	meta, err := ms.IndexMetadata(ctx, "idx")
	require.NoError(t, err)
	assert.EqualValues(t, 2, meta.Checkpoint("src"))
}

func TestIndexer_CheckpointGapIsFatal(t *testing.T) {
	idx, _, _ := newTestIndexer(t, Settings{SplitNumDocsTarget: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := runInBackground(idx, ctx, k)

	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(0, 1, `{"id":"1","ts":1}`)))
	require.NoError(t, idx.Inbox.Send(ctx, k, docBatch(5, 6, `{"id":"2","ts":2}`)))
	idx.Inbox.Close()

	status := <-done
	assert.Equal(t, actor.ExitFailure, status)
}
