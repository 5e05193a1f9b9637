package pipeline

import (
	"context"
	"log"

	"github.com/sudarshan/indexcore/internal/actor"
	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/model"
)

// MergePlanner holds the full set of an index's published (not yet mature
// or selected) splits and re-runs the merge policy every time the
// publisher reports new ones — from either chain, since a merged split
// becomes a fresh candidate for the next tier (spec §9's cyclic graph:
// "the merge planner both produces and... consumes splits"). Its mailbox
// is unbounded, per spec §5, because it's fed only by self-regulated
// control events (publish notifications), never by document volume.
type MergePlanner struct {
	IndexID string
	Policy  mergepolicy.Policy

	Inbox      *actor.Mailbox[PublishedSplits]
	Downloader *actor.Mailbox[MergeJob]

	working []model.SplitMetadata
}

// NewMergePlanner seeds the planner with the splits published before this
// pipeline generation started (spec §4.3 "Initialization pre-steps").
func NewMergePlanner(indexID string, seed []model.SplitMetadata, policy mergepolicy.Policy, downloader *actor.Mailbox[MergeJob]) *MergePlanner {
	return NewMergePlannerWithInbox(indexID, seed, policy, downloader, NewMergePlannerMailbox())
}

// NewMergePlannerMailbox builds the unbounded PublishedSplits mailbox the
// merge planner reads from. The supervisor creates this before spawning the
// merge publisher and main publisher that feed it, since both must already
// have a mailbox to send to before the planner actor itself exists — the
// cyclic graph spec §9 describes ("the merge planner both produces and...
// consumes splits").
func NewMergePlannerMailbox() *actor.Mailbox[PublishedSplits] {
	return actor.NewUnbounded[PublishedSplits]()
}

// NewMergePlannerWithInbox is NewMergePlanner against a mailbox the caller
// already created and handed to other actors.
func NewMergePlannerWithInbox(indexID string, seed []model.SplitMetadata, policy mergepolicy.Policy, downloader *actor.Mailbox[MergeJob], inbox *actor.Mailbox[PublishedSplits]) *MergePlanner {
	return &MergePlanner{
		IndexID:    indexID,
		Policy:     policy,
		Inbox:      inbox,
		Downloader: downloader,
		working:    append([]model.SplitMetadata(nil), seed...),
	}
}

func (p *MergePlanner) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case notice, ok := <-p.Inbox.Receive():
			if !ok {
				return actor.ExitSuccess
			}
			if notice.IndexID != p.IndexID {
				continue
			}
			p.working = append(p.working, notice.Splits...)
			ops := p.Policy.Operations(&p.working)
			for _, op := range ops {
				if len(op.Splits) == 0 {
					continue
				}
				if err := p.Downloader.Send(ctx, k, MergeJob{IndexID: p.IndexID, Op: op}); err != nil {
					log.Printf("merge planner(%s): send to downloader: %v", p.IndexID, err)
					return actor.ExitFailure
				}
			}

		case <-k.Dead():
			return actor.ExitKilled
		case <-ctx.Done():
			return actor.ExitQuit
		}
	}
}

func (p *MergePlanner) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*MergePlanner)(nil)
