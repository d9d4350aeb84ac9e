package quorum

import "github.com/amirimatin/go-partition/pkg/consensus"

// JointConsensusVoteQuorum needs a majority in both the old and the new
// configuration. A member present in both sets counts toward both.
type JointConsensusVoteQuorum struct {
    latch
    old *tally
    new *tally
}

// NewJointConsensusVoteQuorum creates a joint quorum. An empty new set is
// treated as absent and only the old majority is required.
func NewJointConsensusVoteQuorum(oldMembers, newMembers []consensus.MemberID, callback func(bool)) *JointConsensusVoteQuorum {
    q := &JointConsensusVoteQuorum{latch: latch{kind: "joint", callback: callback}, old: newTally(oldMembers)}
    if len(newMembers) > 0 { q.new = newTally(newMembers) }
    if len(q.old.members) == 0 { q.resolve(false) }
    return q
}

func (q *JointConsensusVoteQuorum) Succeed(member consensus.MemberID) {
    if q.resolved { return }
    counted := q.old.record(member, true)
    if q.new != nil && q.new.record(member, true) { counted = true }
    if !counted { return }
    if q.old.reached() && (q.new == nil || q.new.reached()) { q.resolve(true) }
}

func (q *JointConsensusVoteQuorum) Fail(member consensus.MemberID) {
    if q.resolved { return }
    counted := q.old.record(member, false)
    if q.new != nil && q.new.record(member, false) { counted = true }
    if !counted { return }
    if q.old.unreachable() || (q.new != nil && q.new.unreachable()) { q.resolve(false) }
}

var _ VoteQuorum = (*JointConsensusVoteQuorum)(nil)
