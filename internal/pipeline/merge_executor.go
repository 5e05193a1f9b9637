package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/model"
	"github.com/sudarshan/indexcore/internal/storage"
)

// MergeExecutor does the actual compaction work: stream every input split's
// documents into one freshly created split, combine their metadata, and hand
// the result to the merge chain's own packager exactly like a freshly
// indexed split, with ReplacedSplitIDs set so publication retires the
// inputs atomically (spec §4.2, "merge operation" output). This is the CPU-
// and I/O-heavy stage of the merge chain, so unlike the planner and
// downloader its mailbox is bounded (spec §5).
type MergeExecutor struct {
	IndexID    string
	PipelineID model.PipelineID
	ScratchDir string
	DocStore   storage.DocStoreConfig

	Inbox     *actor.Mailbox[DownloadedMergeJob]
	Packager  *actor.Mailbox[SplitBatch]
}

func NewMergeExecutor(pipelineID model.PipelineID, indexID, scratchDir string, docStore storage.DocStoreConfig, packager *actor.Mailbox[SplitBatch]) *MergeExecutor {
	return &MergeExecutor{
		IndexID:    indexID,
		PipelineID: pipelineID,
		ScratchDir: scratchDir,
		DocStore:   docStore,
		Inbox:      actor.NewMailbox[DownloadedMergeJob](2),
		Packager:   packager,
	}
}

func (e *MergeExecutor) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case job, ok := <-e.Inbox.Receive():
			if !ok {
				return actor.ExitSuccess
			}
			batch, err := e.merge(job)
			if err != nil {
				log.Printf("merge executor(%s): %v", e.IndexID, err)
				return actor.ExitFailure
			}
			if err := e.Packager.Send(ctx, k, batch); err != nil {
				log.Printf("merge executor(%s): send to packager: %v", e.IndexID, err)
				return actor.ExitFailure
			}

		case <-k.Dead():
			return actor.ExitKilled
		case <-ctx.Done():
			return actor.ExitQuit
		}
	}
}

func (e *MergeExecutor) merge(job DownloadedMergeJob) (SplitBatch, error) {
	splitID := model.NewSplitID()
	writer, err := storage.NewDocStoreWriter(e.ScratchDir, splitID, e.DocStore)
	if err != nil {
		return SplitBatch{}, fmt.Errorf("merge %s: new docstore writer: %w", splitID, err)
	}

	merged := &model.IndexedSplit{
		SplitID:    splitID,
		PipelineID: e.PipelineID,
		ScratchDir: e.ScratchDir,
		Writer:     writer,
	}

	var replaced []string
	for _, s := range job.Splits {
		path, ok := job.LocalPath[s.Metadata.SplitID]
		if !ok {
			writer.Close()
			return SplitBatch{}, fmt.Errorf("merge %s: no local path for input split %s", splitID, s.Metadata.SplitID)
		}
		if err := copyDocs(path, writer); err != nil {
			writer.Close()
			return SplitBatch{}, fmt.Errorf("merge %s: copy docs from %s: %w", splitID, s.Metadata.SplitID, err)
		}
		merged.NumDocs += s.Metadata.NumDocs
		merged.UncompressedDocsSizeInBytes += s.Metadata.NumBytes
		if s.Metadata.TimeRange.IsSet() {
			merged.TimeRange.Extend(s.Metadata.TimeRange.Start)
			merged.TimeRange.Extend(s.Metadata.TimeRange.End)
		}
		replaced = append(replaced, s.Metadata.SplitID)
	}

	if err := writer.Commit(); err != nil {
		writer.Close()
		return SplitBatch{}, fmt.Errorf("merge %s: commit: %w", splitID, err)
	}
	if err := writer.Close(); err != nil {
		return SplitBatch{}, fmt.Errorf("merge %s: close: %w", splitID, err)
	}

	return SplitBatch{
		Splits:           []*model.IndexedSplit{merged},
		ReplacedSplitIDs: replaced,
		DateOfBirth:      time.Now(),
	}, nil
}

// copyDocs streams every document out of the committed split at path and
// re-adds it to dst, preserving contents exactly; only the physical
// container (block boundaries, compression stream) changes.
func copyDocs(path string, dst *storage.DocStoreWriter) error {
	r, err := storage.OpenDocStoreReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r.Reader())
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		if err := dst.AddDocument(fields); err != nil {
			return fmt.Errorf("re-add document: %w", err)
		}
	}
	return scanner.Err()
}

func (e *MergeExecutor) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*MergeExecutor)(nil)
