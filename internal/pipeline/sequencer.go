package pipeline

import (
	"context"

	"github.com/sudarshan/indexcore/internal/actor"
)

// Sequencer makes publication happen in the order the packager originally
// assigned, since checkpoints only advance monotonically (spec §9, ordering
// guarantees). The Uploader forwards batches in the order it receives them;
// the Sequencer does not depend on that and orders by Seq alone. It buffers out-of-order arrivals until the next
// expected sequence number shows up, then drains as many contiguous entries
// as are ready.
type Sequencer struct {
	Inbox  *actor.Mailbox[Sequenced[UploadedSplitBatch]]
	Uplink *actor.Mailbox[UploadedSplitBatch]

	next    uint64
	pending map[uint64]UploadedSplitBatch
}

func NewSequencer(uplink *actor.Mailbox[UploadedSplitBatch]) *Sequencer {
	return &Sequencer{
		Inbox:   actor.NewMailbox[Sequenced[UploadedSplitBatch]](8),
		Uplink:  uplink,
		pending: make(map[uint64]UploadedSplitBatch),
	}
}

func (s *Sequencer) Run(ctx context.Context, k *actor.KillSwitch) actor.ExitStatus {
	for {
		select {
		case msg, ok := <-s.Inbox.Receive():
			if !ok {
				s.Uplink.Close()
				return actor.ExitSuccess
			}
			s.pending[msg.Seq] = msg.Payload
			for {
				batch, ready := s.pending[s.next]
				if !ready {
					break
				}
				delete(s.pending, s.next)
				s.next++
				if err := s.Uplink.Send(ctx, k, batch); err != nil {
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

func (s *Sequencer) Health() actor.HealthState { return actor.Healthy }

var _ actor.Observable = (*Sequencer)(nil)
