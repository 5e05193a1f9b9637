package source

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/model"
)

func drainBatches(t *testing.T, inbox *actor.Mailbox[model.RawDocBatch], n int) []model.RawDocBatch {
	t.Helper()
	var got []model.RawDocBatch
	for len(got) < n {
		select {
		case b := <-inbox.Receive():
			got = append(got, b)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for batch %d/%d", len(got)+1, n)
		}
	}
	return got
}

func TestInMemorySource_BatchesAndExhausts(t *testing.T) {
	docs := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`, `{"id":4}`, `{"id":5}`}
	src := NewInMemorySource(Config{SourceID: "mem", BatchSize: 2}, docs)

	inbox := actor.NewMailbox[model.RawDocBatch](10)
	k := actor.NewKillSwitch()

	statusCh := make(chan actor.ExitStatus, 1)
	go func() { statusCh <- src.Run(context.Background(), k, inbox) }()

	got := drainBatches(t, inbox, 3)
	require.Equal(t, []string{`{"id":1}`, `{"id":2}`}, got[0].Docs)
	require.Equal(t, model.SourceCheckpointDelta{From: 0, To: 2}, got[0].CheckpointDelta)
	require.Equal(t, []string{`{"id":3}`, `{"id":4}`}, got[1].Docs)
	require.Equal(t, model.SourceCheckpointDelta{From: 2, To: 4}, got[1].CheckpointDelta)
	require.Equal(t, []string{`{"id":5}`}, got[2].Docs)
	require.Equal(t, model.SourceCheckpointDelta{From: 4, To: 5}, got[2].CheckpointDelta)

	select {
	case status := <-statusCh:
		require.Equal(t, actor.ExitSuccess, status)
	case <-time.After(time.Second):
		t.Fatal("source did not exit")
	}
}

func TestInMemorySource_ResumesFromStartOffset(t *testing.T) {
	docs := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}
	src := NewInMemorySource(Config{SourceID: "mem", StartOffset: 1, BatchSize: 10}, docs)

	inbox := actor.NewMailbox[model.RawDocBatch](10)
	k := actor.NewKillSwitch()

	go src.Run(context.Background(), k, inbox)

	got := drainBatches(t, inbox, 1)
	require.Equal(t, []string{`{"id":2}`, `{"id":3}`}, got[0].Docs)
	require.Equal(t, model.SourceCheckpointDelta{From: 1, To: 3}, got[0].CheckpointDelta)
}

func TestInMemorySource_KillSwitchStopsRun(t *testing.T) {
	docs := []string{`{"id":1}`}
	src := NewInMemorySource(Config{SourceID: "mem", BatchSize: 1}, docs)

	inbox := actor.NewMailbox[model.RawDocBatch](0)
	k := actor.NewKillSwitch()
	k.Trip()

	status := src.Run(context.Background(), k, inbox)
	require.Equal(t, actor.ExitKilled, status)
}

func TestFileSource_BatchesAndExhausts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.ndjson")
	docs := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}
	require.NoError(t, WriteLines(path, docs))

	src := NewFileSource(Config{SourceID: "file", BatchSize: 2}, path)
	inbox := actor.NewMailbox[model.RawDocBatch](10)
	k := actor.NewKillSwitch()

	statusCh := make(chan actor.ExitStatus, 1)
	go func() { statusCh <- src.Run(context.Background(), k, inbox) }()

	got := drainBatches(t, inbox, 2)
	require.Equal(t, []string{`{"id":1}`, `{"id":2}`}, got[0].Docs)
	require.Equal(t, []string{`{"id":3}`}, got[1].Docs)

	select {
	case status := <-statusCh:
		require.Equal(t, actor.ExitSuccess, status)
	case <-time.After(time.Second):
		t.Fatal("source did not exit")
	}
}

func TestFileSource_ResumesFromStartOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.ndjson")
	docs := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`, `{"id":4}`}
	require.NoError(t, WriteLines(path, docs))

	src := NewFileSource(Config{SourceID: "file", StartOffset: 2, BatchSize: 10}, path)
	inbox := actor.NewMailbox[model.RawDocBatch](10)
	k := actor.NewKillSwitch()

	go src.Run(context.Background(), k, inbox)

	got := drainBatches(t, inbox, 1)
	require.Equal(t, []string{`{"id":3}`, `{"id":4}`}, got[0].Docs)
	require.Equal(t, model.SourceCheckpointDelta{From: 2, To: 4}, got[0].CheckpointDelta)
}

func TestFileSource_MissingFileFails(t *testing.T) {
	src := NewFileSource(Config{SourceID: "file"}, filepath.Join(t.TempDir(), "missing.ndjson"))
	inbox := actor.NewMailbox[model.RawDocBatch](1)
	k := actor.NewKillSwitch()

	status := src.Run(context.Background(), k, inbox)
	require.Equal(t, actor.ExitFailure, status)
}
