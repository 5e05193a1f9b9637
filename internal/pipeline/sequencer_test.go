package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/model"
)

func TestSequencer_RestoresOutOfOrderArrivals(t *testing.T) {
	uplink := actor.NewMailbox[UploadedSplitBatch](4)
	s := NewSequencer(uplink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	go s.Run(ctx, k)

	batchFor := func(id string) UploadedSplitBatch {
		return UploadedSplitBatch{Splits: []model.SplitMetadata{{SplitID: id}}}
	}

	require.NoError(t, s.Inbox.Send(ctx, k, Sequenced[UploadedSplitBatch]{Seq: 2, Payload: batchFor("c")}))
	require.NoError(t, s.Inbox.Send(ctx, k, Sequenced[UploadedSplitBatch]{Seq: 0, Payload: batchFor("a")}))

	select {
	case out := <-uplink.Receive():
		assert.Equal(t, "a", out.Splits[0].SplitID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected seq 0 to drain once it arrives")
	}

	select {
	case <-uplink.Receive():
		t.Fatal("seq 2 must wait for seq 1")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, s.Inbox.Send(ctx, k, Sequenced[UploadedSplitBatch]{Seq: 1, Payload: batchFor("b")}))

	for _, want := range []string{"b", "c"} {
		select {
		case out := <-uplink.Receive():
			assert.Equal(t, want, out.Splits[0].SplitID)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %s to drain", want)
		}
	}
}
