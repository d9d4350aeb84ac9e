package quorum

import "github.com/amirimatin/go-partition/pkg/consensus"

// ForceConfigureQuorum succeeds only when every member acknowledged and fails
// on the first failure. A member keeps its first response.
type ForceConfigureQuorum struct {
    latch
    members   consensus.MemberSet
    succeeded consensus.MemberSet
}

func NewForceConfigureQuorum(members []consensus.MemberID, callback func(bool)) *ForceConfigureQuorum {
    q := &ForceConfigureQuorum{
        latch:     latch{kind: "force", callback: callback},
        members:   consensus.NewMemberSet(members...),
        succeeded: consensus.MemberSet{},
    }
    if len(q.members) == 0 { q.resolve(false) }
    return q
}

func (q *ForceConfigureQuorum) Succeed(member consensus.MemberID) {
    if q.resolved || !q.members.Contains(member) { return }
    q.succeeded[member] = struct{}{}
    if len(q.succeeded) == len(q.members) { q.resolve(true) }
}

func (q *ForceConfigureQuorum) Fail(member consensus.MemberID) {
    if q.resolved || !q.members.Contains(member) || q.succeeded.Contains(member) { return }
    q.resolve(false)
}

var _ VoteQuorum = (*ForceConfigureQuorum)(nil)
