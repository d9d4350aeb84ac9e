package consensus

import "context"

// Consensus is the minimal abstraction over a leader-based consensus engine
// for a single partition. It exposes leadership and term information; the
// replicated state machine itself lives outside this module.
type Consensus interface {
    Start(ctx context.Context) error
    IsLeader() bool
    Leader() (id MemberID, ok bool)
    Term() uint64
    Stop() error
}

// Role is the part of an active raft role that leadership policies act on.
type Role interface {
    MemberID() MemberID
    // StepDown asks the role to relinquish leadership. It must not block; the
    // returned Future completes once the transition happened (or failed).
    StepDown() Future
}
