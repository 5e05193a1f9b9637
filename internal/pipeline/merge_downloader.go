package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/storage"
)

// MergeSplitDownloader pulls every input split of a selected merge operation
// down to local disk before the executor touches any of them, consulting the
// local cache first — a merge planner running against a busy tier will
// frequently reselect a split that's still sitting from a previous
// operation. Its mailbox is unbounded like the planner's (spec §5): it's
// driven by merge decisions, not by document volume.
type MergeSplitDownloader struct {
	IndexID string

	Inbox    *actor.Mailbox[MergeJob]
	Executor *actor.Mailbox[DownloadedMergeJob]

	Remote     storage.RemoteStore
	LocalCache *storage.LocalSplitStore
}

func NewMergeSplitDownloader(indexID string, remote storage.RemoteStore, cache *storage.LocalSplitStore, executor *actor.Mailbox[DownloadedMergeJob]) *MergeSplitDownloader {
	return &MergeSplitDownloader{
		IndexID:    indexID,
		Inbox:      actor.NewUnbounded[MergeJob](),
		Executor:   executor,
		Remote:     remote,
		LocalCache: cache,
	}
}

func (d *MergeSplitDownloader) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case job, ok := <-d.Inbox.Receive():
			if !ok {
				return actor.ExitSuccess
			}
			downloaded, err := d.download(ctx, job)
			if err != nil {
				log.Printf("merge split downloader(%s): %v", d.IndexID, err)
				return actor.ExitFailure
			}
			if err := d.Executor.Send(ctx, k, downloaded); err != nil {
				log.Printf("merge split downloader(%s): send to executor: %v", d.IndexID, err)
				return actor.ExitFailure
			}

		case <-k.Dead():
			return actor.ExitKilled
		case <-ctx.Done():
			return actor.ExitQuit
		}
	}
}

func (d *MergeSplitDownloader) download(ctx context.Context, job MergeJob) (DownloadedMergeJob, error) {
	out := DownloadedMergeJob{
		IndexID:   job.IndexID,
		LocalPath: make(map[string]string, len(job.Op.Splits)),
	}
	for _, sm := range job.Op.Splits {
		path, ok := d.LocalCache.Get(sm.SplitID)
		if !ok {
			path = d.LocalCache.SplitPath(sm.SplitID)
			if err := d.Remote.Get(ctx, sm.SplitID, path); err != nil {
				return DownloadedMergeJob{}, fmt.Errorf("download split %s: %w", sm.SplitID, err)
			}
			d.LocalCache.Put(sm.SplitID, path, sm.NumBytes)
		}
		out.Splits = append(out.Splits, metastore.Split{Metadata: sm, State: metastore.SplitPublished})
		out.LocalPath[sm.SplitID] = path
	}
	return out, nil
}

func (d *MergeSplitDownloader) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*MergeSplitDownloader)(nil)
