package partition

import (
    "context"

    "github.com/amirimatin/go-partition/pkg/consensus"
    raftcons "github.com/amirimatin/go-partition/pkg/consensus/raft"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/tracing"
    "github.com/amirimatin/go-partition/pkg/transport"
)

// becomeLeader takes over the partition: it stops the election timer, opens
// the term with a no-op entry and starts heartbeating.
func (p *Partition) becomeLeader() {
    p.cancelTimer()
    p.setRole(RoleLeader)
    p.st.leader = p.opts.MemberID
    if _, err := p.append(raftcons.EntryNoop, nil); err != nil {
        logutil.Warnf(p.logger, "append no-op for term %d: %v", p.st.term, err)
    }
    p.publish()
    p.broadcastHeartbeat()
    p.scheduleHeartbeat()
    if p.st.config.Joint() {
        // finish the membership change a previous leader started
        p.beginJoint(p.st.config.OldMembers, p.st.config.NewMembers, consensus.NewPromise())
    }
}

func (p *Partition) scheduleHeartbeat() {
    term := p.st.term
    p.st.heartbeat = p.ctx.Schedule(p.opts.HeartbeatInterval, func() {
        if p.st.halted || p.st.role != RoleLeader || p.st.term != term { return }
        p.broadcastHeartbeat()
        p.scheduleHeartbeat()
    })
}

func (p *Partition) stopHeartbeats() {
    if p.st.heartbeat != nil {
        p.st.heartbeat.Cancel()
        p.st.heartbeat = nil
    }
}

// broadcastHeartbeat asserts leadership to every other member and carries the
// current configuration so followers converge on it.
func (p *Partition) broadcastHeartbeat() {
    term := p.st.term
    req := transport.HeartbeatRequest{
        PartitionID:   p.opts.PartitionID,
        Term:          term,
        Leader:        p.opts.MemberID,
        LastLogIndex:  p.log.LastIndex(),
        Configuration: p.st.config,
    }
    for _, member := range p.others() {
        member := member
        go func() {
            ctx, cancel := p.rpcContext()
            resp, err := p.trans.Heartbeat(ctx, member, req)
            cancel()
            if err != nil {
                logutil.Debugf(p.logger, "heartbeat to %s failed: %v", member, err)
                return
            }
            if resp.Term > term {
                p.ctx.Execute(func() { p.onHigherTerm(member, resp.Term) })
            }
        }()
    }
}

// onHigherTerm steps back to follower when another member reports a newer term.
func (p *Partition) onHigherTerm(member consensus.MemberID, term uint64) {
    if p.st.halted || term <= p.st.term { return }
    logutil.Infof(p.logger, "member %s reports term %d > %d, stepping back to follower", member, term, p.st.term)
    p.becomeFollower(term, "")
}

// HandleHeartbeat serves a leader heartbeat.
func (p *Partition) HandleHeartbeat(ctx context.Context, req transport.HeartbeatRequest) (transport.HeartbeatResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "partition.heartbeat", "leader", string(req.Leader))
    defer end()
    var resp transport.HeartbeatResponse
    err := p.call(ctx, func() { resp = p.heartbeat(req) })
    return resp, err
}

func (p *Partition) heartbeat(req transport.HeartbeatRequest) transport.HeartbeatResponse {
    if req.Term < p.st.term {
        return transport.HeartbeatResponse{Term: p.st.term, Member: p.opts.MemberID}
    }
    p.followLeader(req.Term, req.Leader)
    p.adoptConfiguration(req.Configuration)
    return transport.HeartbeatResponse{Term: p.st.term, Member: p.opts.MemberID, Success: true}
}

// followLeader accepts leader as the leader of term and rearms the timer.
func (p *Partition) followLeader(term uint64, leader consensus.MemberID) {
    if term > p.st.term || p.st.role != RoleFollower {
        p.becomeFollower(term, leader)
        return
    }
    if p.st.leader != leader {
        p.st.leader = leader
        p.publish()
    }
    p.resetTimer()
}
