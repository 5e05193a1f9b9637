package actor

import (
	"context"
	"sync/atomic"
)

// Handle wraps one spawned actor's goroutine so a supervisor can observe its
// terminal state without blocking — the Go analogue of the runtime's
// ActorHandle/Supervisable pair (spec §4.3). An actor's own Health() reports
// self-diagnosed unhealthiness (stalled progress, resource exhaustion) while
// it's still running; once its Run loop returns, the Handle's own exit
// status takes over the classification.
type Handle struct {
	name string

	obs Observable
	k   *KillSwitch

	done   chan struct{}
	status atomic.Int32
}

// exitToHealth classifies a terminal ExitStatus the way the supervisor's
// healthcheck does (spec §4.3): Success means the actor finished its work
// with nothing left to do; every other terminal state — including Killed,
// since by the time an actor observes its own kill switch tripped some
// other supervised child already failed — is FailureOrUnhealthy.
func exitToHealth(s ExitStatus) HealthState {
	if s == ExitSuccess {
		return Success
	}
	return FailureOrUnhealthy
}

// Spawn runs fn in its own goroutine and returns a Handle observing it. obs
// is the actor's own Observable (usually the actor value itself), consulted
// for Health() while fn is still running.
func Spawn(name string, obs Observable, ctx context.Context, k *KillSwitch, fn func(ctx context.Context, k *KillSwitch) ExitStatus) *Handle {
	h := &Handle{name: name, obs: obs, k: k, done: make(chan struct{})}
	h.status.Store(-1)
	go func() {
		status := fn(ctx, k)
		h.status.Store(int32(status))
		close(h.done)
	}()
	return h
}

// Name returns the actor's supervisor-facing name, for healthcheck logging.
func (h *Handle) Name() string { return h.name }

// Done returns a channel closed once the actor's Run loop has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitStatus returns the actor's terminal status and true, once it has
// exited; (0, false) while still running.
func (h *Handle) ExitStatus() (ExitStatus, bool) {
	v := h.status.Load()
	if v < 0 {
		return 0, false
	}
	return ExitStatus(v), true
}

// Health reports this actor's current classification: its own terminal exit
// status if it has returned, otherwise whatever its Observable reports.
func (h *Handle) Health() HealthState {
	if status, exited := h.ExitStatus(); exited {
		return exitToHealth(status)
	}
	return h.obs.Health()
}

// Kill trips this actor's kill switch; the Run loop is responsible for
// observing it and returning ExitKilled. Kill does not block on the actor
// actually stopping — callers that need that should select on Done().
func (h *Handle) Kill() { h.k.Trip() }
