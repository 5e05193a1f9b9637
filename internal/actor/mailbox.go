package actor

import "context"

// Mailbox is a single actor inbox. Messages sent to one mailbox are
// delivered and processed in FIFO order (spec §5); across mailboxes there is
// no ordering guarantee beyond what the pipeline topology enforces.
//
// A bounded mailbox (capacity > 0) applies backpressure to senders: Send
// blocks once the channel is full; NewMailbox(0) gives an unbuffered
// mailbox whose Send waits for a receiver. An unbounded mailbox (built with
// NewUnbounded) never blocks a sender, at the cost of an unbounded internal
// queue goroutine; the merge planner and source actors
// use this because they are fed by control events whose rate is
// self-regulated (spec §5).
type Mailbox[T any] struct {
	ch     chan T
	sendCh chan T // non-nil only for the unbounded variant
}

// NewMailbox returns a bounded mailbox with the given capacity. A capacity
// of 10 is what the indexer's inbox uses, to apply backpressure to the
// source (spec §5).
func NewMailbox[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// NewUnbounded returns a mailbox backed by an internal goroutine that drains
// an ever-growing slice into an unbuffered delivery channel, so Send never
// blocks the caller.
func NewUnbounded[T any]() *Mailbox[T] {
	in := make(chan T)
	out := make(chan T)
	mb := &Mailbox[T]{ch: out}
	go func() {
		var queue []T
		for {
			if len(queue) == 0 {
				v, ok := <-in
				if !ok {
					close(out)
					return
				}
				queue = append(queue, v)
				continue
			}
			select {
			case v, ok := <-in:
				if !ok {
					for _, q := range queue {
						out <- q
					}
					close(out)
					return
				}
				queue = append(queue, v)
			case out <- queue[0]:
				queue = queue[1:]
			}
		}
	}()
	mb.sendCh = in
	return mb
}

// sendCh, when non-nil, is the unbounded variant's feeder channel; Send
// writes there instead of to ch directly.
func (m *Mailbox[T]) send() chan<- T {
	if m.sendCh != nil {
		return m.sendCh
	}
	return m.ch
}

// Send delivers msg, blocking on a bounded mailbox that is full, or
// returning early if ctx is done or k is tripped.
func (m *Mailbox[T]) Send(ctx context.Context, k *KillSwitch, msg T) error {
	select {
	case m.send() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-k.Dead():
		return ErrKilled
	}
}

// TrySend delivers msg without blocking; it returns false if the mailbox
// has no room (only meaningful for bounded mailboxes).
func (m *Mailbox[T]) TrySend(msg T) bool {
	select {
	case m.send() <- msg:
		return true
	default:
		return false
	}
}

// Receive returns the mailbox's read channel, for use in a select alongside
// timers and the kill switch's Dead channel.
func (m *Mailbox[T]) Receive() <-chan T { return m.ch }

// Close closes the mailbox's feeder; no more sends are possible afterward.
func (m *Mailbox[T]) Close() {
	if m.sendCh != nil {
		close(m.sendCh)
		return
	}
	close(m.ch)
}
