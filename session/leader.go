package session

import "context"

// LeaderElection is spec §4.9's literal "trivial wrapper" over Lock:
// tryBecomeLeader == acquire, isLeader == isHeld, currentLeader returns the
// LockHolder. It exists as a distinct type purely for call-site clarity —
// nothing about its behavior differs from Lock.
type LeaderElection struct {
	lock *Lock
}

func NewLeaderElection(cfg Config) *LeaderElection {
	return &LeaderElection{lock: New(cfg)}
}

func (e *LeaderElection) TryBecomeLeader(ctx context.Context) (bool, error) {
	return e.lock.Acquire(ctx)
}

func (e *LeaderElection) IsLeader() bool {
	return e.lock.IsHeld()
}

func (e *LeaderElection) CurrentLeader(ctx context.Context) (LockHolder, bool, error) {
	return e.lock.CurrentHolder(ctx)
}

func (e *LeaderElection) Resign(ctx context.Context) error {
	return e.lock.Release(ctx)
}

func (e *LeaderElection) Err() error {
	return e.lock.Err()
}
