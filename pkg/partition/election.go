package partition

import (
    "context"
    "strconv"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/consensus/quorum"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/metrics"
    "github.com/amirimatin/go-partition/pkg/observability/tracing"
    "github.com/amirimatin/go-partition/pkg/transport"
)

// electionAttempt is one candidacy. It is abandoned when the term or role
// changes before the vote quorum resolves.
type electionAttempt struct {
    id      string
    term    uint64
    started time.Time
    votes   quorum.VoteQuorum
}

func (p *Partition) onElectionTimeout() {
    if p.st.halted || p.st.role == RoleLeader { return }
    if !p.st.config.AllMembers().Contains(p.opts.MemberID) {
        logutil.Debugf(p.logger, "not a member of the current configuration, not campaigning")
        p.resetTimer()
        return
    }
    p.startElection()
}

// startElection becomes candidate for the next term and requests votes from
// every member of the current configuration.
func (p *Partition) startElection() {
    p.abandonElection()
    p.setTerm(p.st.term + 1)
    p.setRole(RoleCandidate)
    p.st.leader = ""
    p.setVote(p.opts.MemberID)
    // a split vote retries once the timer expires again
    p.resetTimer()
    p.publish()

    attempt := &electionAttempt{id: uuid.NewString(), term: p.st.term, started: time.Now()}
    ctx, end := tracing.StartSpan(context.Background(), "partition.election",
        "attempt", attempt.id, "term", strconv.FormatUint(attempt.term, 10), "member", string(p.opts.MemberID))
    defer end()
    logutil.Infof(p.logger, "starting election %s for term %d", attempt.id, attempt.term)
    p.events.publish(Event{Type: EventElectionStart, Term: attempt.term, Details: map[string]string{"attempt": attempt.id}})

    attempt.votes = quorum.ForConfiguration(p.st.config, func(won bool) { p.onElectionResolved(attempt, won) })
    if attempt.votes.Resolved() { return }
    p.st.election = attempt
    attempt.votes.Succeed(p.opts.MemberID)
    if p.st.election != attempt { return }

    req := transport.VoteRequest{
        PartitionID:  p.opts.PartitionID,
        Term:         attempt.term,
        Candidate:    p.opts.MemberID,
        LastLogIndex: p.log.LastIndex(),
        LastLogTerm:  p.log.LastTerm(),
    }
    for _, member := range p.others() {
        member := member
        go func() {
            rctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
            resp, err := p.trans.RequestVote(rctx, member, req)
            cancel()
            p.ctx.Execute(func() { p.onVoteResponse(attempt, member, resp, err) })
        }()
    }
}

func (p *Partition) onVoteResponse(attempt *electionAttempt, member consensus.MemberID, resp transport.VoteResponse, err error) {
    if p.st.halted || p.st.election != attempt { return }
    switch {
    case err != nil:
        logutil.Debugf(p.logger, "vote request to %s failed: %v", member, err)
        attempt.votes.Fail(member)
    case resp.Term > p.st.term:
        logutil.Infof(p.logger, "member %s is at term %d, abandoning election", member, resp.Term)
        p.becomeFollower(resp.Term, "")
    case resp.Granted:
        attempt.votes.Succeed(member)
    default:
        attempt.votes.Fail(member)
    }
}

func (p *Partition) onElectionResolved(attempt *electionAttempt, won bool) {
    if p.st.role != RoleCandidate || p.st.term != attempt.term {
        metrics.ElectionsTotal.WithLabelValues(p.label, "superseded").Inc()
        return
    }
    p.st.election = nil
    metrics.ElectionDuration.WithLabelValues(p.label).Observe(time.Since(attempt.started).Seconds())
    result := "lost"
    if won { result = "won" }
    metrics.ElectionsTotal.WithLabelValues(p.label, result).Inc()
    logutil.Infof(p.logger, "election %s for term %d %s", attempt.id, attempt.term, result)
    p.events.publish(Event{Type: EventElectionEnd, Term: attempt.term, Details: map[string]string{"attempt": attempt.id, "result": result}})
    if won {
        p.becomeLeader()
        return
    }
    p.becomeFollower(attempt.term, "")
}

// abandonElection drops the pending candidacy; late responses are ignored.
func (p *Partition) abandonElection() {
    if p.st.election == nil { return }
    if !p.st.election.votes.Resolved() {
        metrics.ElectionsTotal.WithLabelValues(p.label, "superseded").Inc()
    }
    p.st.election = nil
}

// HandleVote serves a vote request from a candidate.
func (p *Partition) HandleVote(ctx context.Context, req transport.VoteRequest) (transport.VoteResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "partition.vote", "candidate", string(req.Candidate))
    defer end()
    var resp transport.VoteResponse
    err := p.call(ctx, func() { resp = p.vote(req) })
    return resp, err
}

func (p *Partition) vote(req transport.VoteRequest) transport.VoteResponse {
    if req.Term < p.st.term {
        return transport.VoteResponse{Term: p.st.term, Voter: p.opts.MemberID}
    }
    if req.Term > p.st.term {
        p.becomeFollower(req.Term, "")
    }
    resp := transport.VoteResponse{Term: p.st.term, Voter: p.opts.MemberID}
    if !p.st.config.AllMembers().Contains(req.Candidate) {
        logutil.Debugf(p.logger, "rejecting vote for %s: not in configuration", req.Candidate)
        return resp
    }
    if p.st.votedFor != "" && p.st.votedFor != req.Candidate {
        return resp
    }
    lastTerm, lastIndex := p.log.LastTerm(), p.log.LastIndex()
    upToDate := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)
    if !upToDate {
        logutil.Debugf(p.logger, "rejecting vote for %s: log behind (%d/%d < %d/%d)", req.Candidate, req.LastLogTerm, req.LastLogIndex, lastTerm, lastIndex)
        return resp
    }
    p.setVote(req.Candidate)
    if p.st.role == RoleFollower { p.resetTimer() }
    resp.Granted = true
    return resp
}
