package model

import "sync/atomic"

// PublishLock is a shared (by pointer), rescindable permission to
// publish for one ingestion generation. Its identity is stable across the
// workbenches it guards; its state transition (alive -> dead) is one-way.
type PublishLock struct {
	id   string
	dead atomic.Bool
}

// NewPublishLock returns a fresh, alive lock identified by id. id is purely
// for debugging/testing (e.g. distinguishing "foo" from "bar" lock
// rotations in the indexer's publish-lock tests).
func NewPublishLock(id string) *PublishLock {
	return &PublishLock{id: id}
}

// NewDeadPublishLock returns a lock that is already dead, useful for tests
// that exercise the fail-fast path without racing a real Kill.
func NewDeadPublishLock(id string) *PublishLock {
	l := &PublishLock{id: id}
	l.dead.Store(true)
	return l
}

// ID returns the lock's debug identifier.
func (l *PublishLock) ID() string { return l.id }

// IsDead is the non-blocking liveness check.
func (l *PublishLock) IsDead() bool { return l.dead.Load() }

// Kill transitions the lock to dead. Idempotent.
func (l *PublishLock) Kill() { l.dead.Store(true) }

// PublishGuard is the opaque guard returned by a successful Acquire; release
// it (Release) once the publish it guarded has completed or failed.
type PublishGuard struct {
	lock *PublishLock
}

// Release is a no-op placeholder for symmetry with acquire/release
// resource-guard patterns elsewhere in the pipeline (index writers, scratch
// directories); PublishLock itself holds no resource beyond its own state.
func (g *PublishGuard) Release() {}

// Acquire returns a guard for publishing, or (nil, false) if the lock is
// already dead (fails fast, per spec §3: PublishLock.acquire).
func (l *PublishLock) Acquire() (*PublishGuard, bool) {
	if l.IsDead() {
		return nil, false
	}
	return &PublishGuard{lock: l}, true
}
