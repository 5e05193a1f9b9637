package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/model"
	"github.com/sudarshan/indexcore/internal/storage"
)

func newTestSplit(t *testing.T, splitID string, docs ...map[string]any) *model.IndexedSplit {
	t.Helper()
	dir := t.TempDir()
	w, err := storage.NewDocStoreWriter(dir, splitID, storage.DocStoreConfig{})
	require.NoError(t, err)

	s := &model.IndexedSplit{SplitID: splitID, ScratchDir: dir, Writer: w}
	for i, doc := range docs {
		ts := int64(i + 1)
		require.NoError(t, s.AddDocument(model.ParsedDocument{Fields: doc}, 10, &ts))
	}
	return s
}

func TestPackager_CommitsAndDerivesMetadata(t *testing.T) {
	uplink := actor.NewMailbox[Sequenced[PackagedSplitBatch]](2)
	p := NewPackager("packager", uplink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	done := make(chan actor.ExitStatus, 1)
	go func() { done <- p.Run(ctx, k) }()

	split := newTestSplit(t, "split-1", map[string]any{"id": "1"}, map[string]any{"id": "2"})
	require.NoError(t, p.Inbox.Send(ctx, k, SplitBatch{Splits: []*model.IndexedSplit{split}}))

	select {
	case msg := <-uplink.Receive():
		require.Len(t, msg.Payload.Splits, 1)
		assert.Equal(t, "split-1", msg.Payload.Splits[0].Metadata.SplitID)
		assert.EqualValues(t, 2, msg.Payload.Splits[0].Metadata.NumDocs)
		assert.Equal(t, uint64(0), msg.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a packaged batch")
	}

	p.Inbox.Close()
	<-done
}

func TestPackager_AssignsIncrementingSequence(t *testing.T) {
	uplink := actor.NewMailbox[Sequenced[PackagedSplitBatch]](2)
	p := NewPackager("packager", uplink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	go p.Run(ctx, k)

	require.NoError(t, p.Inbox.Send(ctx, k, SplitBatch{Splits: []*model.IndexedSplit{newTestSplit(t, "a")}}))
	require.NoError(t, p.Inbox.Send(ctx, k, SplitBatch{Splits: []*model.IndexedSplit{newTestSplit(t, "b")}}))

	first := <-uplink.Receive()
	second := <-uplink.Receive()
	assert.Equal(t, uint64(0), first.Seq)
	assert.Equal(t, uint64(1), second.Seq)
}
