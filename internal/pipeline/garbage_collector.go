package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/metastore"
	"github.com/sudarshan/indexcore/internal/storage"
)

// GarbageCollector retires splits the publisher marked for deletion. It
// waits out a grace period before physically deleting anything, so a
// reader that fetched a split's metadata just before it was replaced still
// has time to finish downloading it (spec §4.2, deferred deletion). Splits
// are tracked with the wall-clock time they became eligible and swept on a
// fixed interval rather than one timer per split, which would mean one
// goroutine per deleted split under sustained merge load.
type GarbageCollector struct {
	IndexID     string
	GracePeriod time.Duration
	SweepEvery  time.Duration

	Inbox *actor.Mailbox[MarkedForDeletion]

	Metastore metastore.Metastore
	Remote    storage.RemoteStore

	pending map[string]time.Time // split_id -> eligible-for-deletion time
}

func NewGarbageCollector(indexID string, gracePeriod time.Duration, ms metastore.Metastore, remote storage.RemoteStore) *GarbageCollector {
	if gracePeriod <= 0 {
		gracePeriod = 2 * time.Minute
	}
	return &GarbageCollector{
		IndexID:     indexID,
		GracePeriod: gracePeriod,
		SweepEvery:  30 * time.Second,
		Inbox:       actor.NewUnbounded[MarkedForDeletion](),
		Metastore:   ms,
		Remote:      remote,
		pending:     make(map[string]time.Time),
	}
}

func (g *GarbageCollector) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	ticker := time.NewTicker(g.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case notice, ok := <-g.Inbox.Receive():
			if !ok {
				return actor.ExitSuccess
			}
			if notice.IndexID != g.IndexID {
				continue
			}
			eligibleAt := time.Now().Add(g.GracePeriod)
			for _, id := range notice.SplitIDs {
				g.pending[id] = eligibleAt
			}

		case <-ticker.C:
			if err := g.sweep(ctx); err != nil {
				log.Printf("garbage collector(%s): %v", g.IndexID, err)
			}

		case <-k.Dead():
			return actor.ExitKilled
		case <-ctx.Done():
			return actor.ExitQuit
		}
	}
}

func (g *GarbageCollector) sweep(ctx context.Context) error {
	now := time.Now()
	var due []string
	for id, eligibleAt := range g.pending {
		if now.After(eligibleAt) {
			due = append(due, id)
		}
	}
	if len(due) == 0 {
		return nil
	}

	if err := g.Metastore.DeleteSplits(ctx, g.IndexID, due); err != nil {
		return err
	}
	for _, id := range due {
		if err := g.Remote.Delete(ctx, id); err != nil {
			log.Printf("garbage collector(%s): delete remote split %s: %v", g.IndexID, id, err)
			continue
		}
		delete(g.pending, id)
	}
	return nil
}

func (g *GarbageCollector) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*GarbageCollector)(nil)
