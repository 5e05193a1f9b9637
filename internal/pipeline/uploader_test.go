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
	"github.com/sudarshan/indexcore/internal/storage"
)

func TestUploader_StagesAndCopiesToRemote(t *testing.T) {
	ms := metastore.NewInMemory()
	ms.CreateIndex("idx")
	remote, err := storage.NewDiskRemoteStore(t.TempDir())
	require.NoError(t, err)

	uplink := actor.NewMailbox[Sequenced[UploadedSplitBatch]](2)
	u := NewUploader("uploader", "idx", ms, remote, uplink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := actor.NewKillSwitch()

	go u.Run(ctx, k)

	localDir := t.TempDir()
	localPath := filepath.Join(localDir, "split-1.docstore")
	require.NoError(t, os.WriteFile(localPath, []byte("fake docstore bytes"), 0o644))

	batch := PackagedSplitBatch{
		Splits: []PackagedSplit{{
			Metadata:  model.SplitMetadata{SplitID: "split-1", NumDocs: 3},
			LocalPath: localPath,
		}},
	}
	require.NoError(t, u.Inbox.Send(ctx, k, Sequenced[PackagedSplitBatch]{Seq: 7, Payload: batch}))

	select {
	case msg := <-uplink.Receive():
		assert.Equal(t, uint64(7), msg.Seq)
		require.Len(t, msg.Payload.Splits, 1)
		assert.Equal(t, "split-1", msg.Payload.Splits[0].SplitID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an uploaded batch")
	}

	splits, err := ms.ListSplits(ctx, "idx", metastore.SplitStaged, nil, nil)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Equal(t, "split-1", splits[0].Metadata.SplitID)
}
