package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/model"
)

func TestPublisher_PublishesAndNotifiesMergePlannerAndGC(t *testing.T) {
	ms := metastore.NewInMemory()
	ms.CreateIndex("idx")
	require.NoError(t, ms.StageSplit(context.Background(), "idx", model.SplitMetadata{SplitID: "new-1", NumDocs: 5}))
	require.NoError(t, ms.StageSplit(context.Background(), "idx", model.SplitMetadata{SplitID: "old-1", NumDocs: 5}))
	require.NoError(t, ms.PublishSplits(context.Background(), "idx", []string{"old-1"}, nil, nil))

	mergeNotices := actor.NewUnbounded[PublishedSplits]()
	gcNotices := actor.NewUnbounded[MarkedForDeletion]()
	p := NewPublisher(MainPublisher, "idx", ms, mergeNotices, gcNotices)

	var notifiedEnd int64 = -1
	p.SourceNotifier = func(end int64) { notifiedEnd = end }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()
	go p.Run(ctx, k)

	batch := UploadedSplitBatch{
		Splits:           []model.SplitMetadata{{SplitID: "new-1", NumDocs: 5}},
		ReplacedSplitIDs: []string{"old-1"},
		CheckpointDelta:  model.IndexCheckpointDelta{SourceID: "src", Delta: model.SourceCheckpointDelta{From: 0, To: 5}},
	}
	require.NoError(t, p.Inbox.Send(ctx, k, batch))

	select {
	case notice := <-mergeNotices.Receive():
		assert.Equal(t, "idx", notice.IndexID)
		require.Len(t, notice.Splits, 1)
		assert.Equal(t, "new-1", notice.Splits[0].SplitID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected merge planner notification")
	}

	select {
	case notice := <-gcNotices.Receive():
		assert.Equal(t, []string{"old-1"}, notice.SplitIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("expected garbage collector notification")
	}

	require.Eventually(t, func() bool { return notifiedEnd == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, p.Counters.NumPublishedSplits())

	splits, err := ms.ListSplits(context.Background(), "idx", metastore.SplitPublished, nil, nil)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, "new-1", splits[0].Metadata.SplitID)
}

func TestPublisher_MergePublisherDoesNotNotifySource(t *testing.T) {
	ms := metastore.NewInMemory()
	ms.CreateIndex("idx")
	require.NoError(t, ms.StageSplit(context.Background(), "idx", model.SplitMetadata{SplitID: "merged-1"}))

	p := NewPublisher(MergePublisher, "idx", ms, nil, nil)
	called := false
	p.SourceNotifier = func(int64) { called = true }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()
	go p.Run(ctx, k)

	require.NoError(t, p.Inbox.Send(ctx, k, UploadedSplitBatch{
		Splits: []model.SplitMetadata{{SplitID: "merged-1"}},
	}))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, called)
}
