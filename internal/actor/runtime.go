package actor

import (
	"context"
	"errors"
	"time"
)

// ErrKilled is returned by mailbox operations once the generation's kill
// switch has tripped.
var ErrKilled = errors.New("actor: kill switch tripped")

// ExitStatus is the terminal state of one actor's run, reported to the
// supervisor's healthcheck (spec §7).
type ExitStatus int

const (
	ExitSuccess ExitStatus = iota
	ExitFailure
	ExitKilled
	ExitPanicked
	ExitDownstreamClosed
	ExitQuit
)

func (s ExitStatus) String() string {
	switch s {
	case ExitSuccess:
		return "Success"
	case ExitFailure:
		return "Failure"
	case ExitKilled:
		return "Killed"
	case ExitPanicked:
		return "Panicked"
	case ExitDownstreamClosed:
		return "DownstreamClosed"
	case ExitQuit:
		return "Quit"
	default:
		return "Unknown"
	}
}

// HealthState is the classification the supervisor's heartbeat assigns to
// each supervised child (spec §4.3).
type HealthState int

const (
	Healthy HealthState = iota
	Success
	FailureOrUnhealthy
)

// Observable is the capability every supervised actor exposes to the
// supervisor's per-second heartbeat: its current health, without blocking.
type Observable interface {
	Health() HealthState
}

// ProtectFuture runs fn to completion while periodically signaling liveness
// to reportAlive, so that a long CPU-bound section (the indexer's document
// loop, the merge executor's segment merge) does not look unhealthy to the
// supervisor purely because it hasn't touched its mailbox in a while. This
// is the Go analogue of the actor runtime's protect_future/protect_zone
// regions (spec §5).
func ProtectFuture(ctx context.Context, reportAlive func(), fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			reportAlive()
		case <-ctx.Done():
			// The goroutine above keeps running fn to completion (I/O and
			// CPU work are not preemptible in Go); we simply stop waiting on
			// it here and let the caller's own teardown handle the result
			// via done being drained eventually by a leaked goroutine that
			// exits once fn returns.
			return ctx.Err()
		}
	}
}
