package quorum

import "github.com/amirimatin/go-partition/pkg/consensus"

// tally counts distinct successes and failures within one member universe.
type tally struct {
    members   consensus.MemberSet
    majority  int
    succeeded consensus.MemberSet
    failed    consensus.MemberSet
}

func newTally(members []consensus.MemberID) *tally {
    set := consensus.NewMemberSet(members...)
    return &tally{
        members:   set,
        majority:  len(set)/2 + 1,
        succeeded: consensus.MemberSet{},
        failed:    consensus.MemberSet{},
    }
}

// record notes a response and reports whether it was counted. A member that
// already responded keeps its first response.
func (t *tally) record(member consensus.MemberID, ok bool) bool {
    if !t.members.Contains(member) { return false }
    if t.succeeded.Contains(member) || t.failed.Contains(member) { return false }
    if ok {
        t.succeeded[member] = struct{}{}
    } else {
        t.failed[member] = struct{}{}
    }
    return true
}

func (t *tally) reached() bool { return len(t.succeeded) >= t.majority }

// unreachable reports whether the remaining members can no longer form a majority.
func (t *tally) unreachable() bool { return len(t.members)-len(t.failed) < t.majority }

// SimpleVoteQuorum succeeds once a strict majority of its members succeeded
// and fails once a majority can no longer be reached.
type SimpleVoteQuorum struct {
    latch
    t *tally
}

// NewSimpleVoteQuorum creates a majority quorum over members. Duplicate ids
// count once. An empty member set can never succeed and fails immediately.
func NewSimpleVoteQuorum(members []consensus.MemberID, callback func(bool)) *SimpleVoteQuorum {
    q := &SimpleVoteQuorum{latch: latch{kind: "simple", callback: callback}, t: newTally(members)}
    if len(q.t.members) == 0 { q.resolve(false) }
    return q
}

func (q *SimpleVoteQuorum) Succeed(member consensus.MemberID) {
    if q.resolved || !q.t.record(member, true) { return }
    if q.t.reached() { q.resolve(true) }
}

func (q *SimpleVoteQuorum) Fail(member consensus.MemberID) {
    if q.resolved || !q.t.record(member, false) { return }
    if q.t.unreachable() { q.resolve(false) }
}

// Majority is the number of successes required.
func (q *SimpleVoteQuorum) Majority() int { return q.t.majority }

var _ VoteQuorum = (*SimpleVoteQuorum)(nil)
