package partition

import (
    "context"
    "encoding/json"
    "errors"
    "strconv"
    "syscall"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/consensus/quorum"
    raftcons "github.com/amirimatin/go-partition/pkg/consensus/raft"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/metrics"
    "github.com/amirimatin/go-partition/pkg/observability/tracing"
    "github.com/amirimatin/go-partition/pkg/transport"
)

type pendingReconfig struct {
    term    uint64
    old     []consensus.MemberID
    target  []consensus.MemberID
    acks    quorum.VoteQuorum
    promise *consensus.Promise
}

type pendingForce struct {
    config  consensus.Configuration
    acks    quorum.VoteQuorum
    promise *consensus.Promise
}

// Reconfigure changes the member set through joint consensus. Only the
// leader can reconfigure, one change at a time. The future completes once
// both the old and the new member set acknowledged the joint configuration
// and the final configuration was installed.
func (p *Partition) Reconfigure(members []consensus.MemberID) consensus.Future {
    return p.submit(func(promise *consensus.Promise) {
        _, end := tracing.StartSpan(context.Background(), "partition.reconfigure", "term", strconv.FormatUint(p.st.term, 10))
        defer end()
        if p.st.role != RoleLeader {
            promise.Complete(ErrNotLeader)
            return
        }
        if p.st.reconfig != nil || p.st.config.Joint() {
            promise.Complete(ErrReconfigurationInProgress)
            return
        }
        target := consensus.NewMemberSet(members...)
        if len(target) == 0 {
            promise.Complete(errors.New("partition: empty member set"))
            return
        }
        if target.Equal(consensus.NewMemberSet(p.st.config.NewMembers...)) {
            promise.Complete(nil)
            return
        }
        p.beginJoint(p.st.config.NewMembers, target.Sorted(), promise)
    })
}

// beginJoint enters (or resumes) the joint configuration old+target and
// collects acknowledgements from both member sets.
func (p *Partition) beginJoint(old, target []consensus.MemberID, promise *consensus.Promise) {
    joint := consensus.Configuration{Term: p.st.term, Time: time.Now(), OldMembers: old, NewMembers: target}
    if err := p.installConfiguration(joint); err != nil {
        promise.Complete(err)
        return
    }
    logutil.Infof(p.logger, "entering joint configuration old=%v new=%v", old, target)
    rc := &pendingReconfig{term: p.st.term, old: old, target: target, promise: promise}
    rc.acks = quorum.NewJointConsensusVoteQuorum(old, target, func(ok bool) { p.onReconfigResolved(rc, ok) })
    p.st.reconfig = rc
    rc.acks.Succeed(p.opts.MemberID)
    if p.st.reconfig != rc { return }
    p.sendConfigure(rc, p.st.config)
}

func (p *Partition) sendConfigure(rc *pendingReconfig, cfg consensus.Configuration) {
    req := transport.ConfigureRequest{PartitionID: p.opts.PartitionID, Term: rc.term, Leader: p.opts.MemberID, Configuration: cfg}
    for _, member := range p.others() {
        member := member
        go func() {
            ctx, cancel := p.rpcContext()
            resp, err := p.trans.Configure(ctx, member, req)
            cancel()
            p.ctx.Execute(func() {
                if p.st.halted || p.st.reconfig != rc { return }
                switch {
                case err != nil:
                    logutil.Debugf(p.logger, "configure %s failed: %v", member, err)
                    rc.acks.Fail(member)
                case resp.Term > p.st.term:
                    p.becomeFollower(resp.Term, "")
                case resp.Accepted:
                    rc.acks.Succeed(member)
                default:
                    logutil.Debugf(p.logger, "configure rejected by %s: %s", member, resp.Error)
                    rc.acks.Fail(member)
                }
            })
        }()
    }
}

func (p *Partition) onReconfigResolved(rc *pendingReconfig, ok bool) {
    if p.st.reconfig != rc { return }
    p.st.reconfig = nil
    if p.st.role != RoleLeader || p.st.term != rc.term {
        metrics.Reconfigurations.WithLabelValues(p.label, "joint", "aborted").Inc()
        rc.promise.Complete(ErrNotLeader)
        return
    }
    next := consensus.Configuration{Term: p.st.term, Time: time.Now(), NewMembers: rc.target}
    result, err := "committed", error(nil)
    if !ok {
        next.NewMembers = rc.old
        result, err = "reverted", ErrQuorumFailed
    }
    if ierr := p.installConfiguration(next); ierr != nil && err == nil { err = ierr }
    metrics.Reconfigurations.WithLabelValues(p.label, "joint", result).Inc()
    logutil.Infof(p.logger, "reconfiguration %s: members=%v", result, next.NewMembers)
    p.broadcastHeartbeat()
    rc.promise.Complete(err)
    if !consensus.NewMemberSet(next.NewMembers...).Contains(p.opts.MemberID) {
        logutil.Infof(p.logger, "removed from the configuration, stepping down")
        p.becomeFollower(p.st.term, "")
    }
}

// ForceConfigure installs members as the configuration without joint
// consensus. It may be called in any role; every member of the new
// configuration must acknowledge it.
func (p *Partition) ForceConfigure(members []consensus.MemberID) consensus.Future {
    return p.submit(func(promise *consensus.Promise) {
        _, end := tracing.StartSpan(context.Background(), "partition.force_configure", "term", strconv.FormatUint(p.st.term, 10))
        defer end()
        if p.st.force != nil {
            promise.Complete(ErrReconfigurationInProgress)
            return
        }
        set := consensus.NewMemberSet(members...)
        if len(set) == 0 {
            promise.Complete(errors.New("partition: empty member set"))
            return
        }
        cfg := consensus.Configuration{Term: p.st.term, Time: time.Now(), NewMembers: set.Sorted(), Force: true}
        if p.st.reconfig != nil {
            p.st.reconfig.promise.Complete(ErrConfigurationConflict)
            p.st.reconfig = nil
        }
        if err := p.installConfiguration(cfg); err != nil {
            promise.Complete(err)
            return
        }
        logutil.Warnf(p.logger, "force configuring members=%v", cfg.NewMembers)
        pf := &pendingForce{config: p.st.config, promise: promise}
        pf.acks = quorum.NewForceConfigureQuorum(cfg.NewMembers, func(ok bool) { p.onForceResolved(pf, ok) })
        p.st.force = pf
        pf.acks.Succeed(p.opts.MemberID)
        if p.st.force != pf { return }
        req := transport.ForceConfigureRequest{PartitionID: p.opts.PartitionID, Term: p.st.term, From: p.opts.MemberID, Configuration: pf.config}
        for _, member := range cfg.NewMembers {
            if member == p.opts.MemberID { continue }
            member := member
            go func() {
                ctx, cancel := p.rpcContext()
                resp, err := p.trans.ForceConfigure(ctx, member, req)
                cancel()
                p.ctx.Execute(func() {
                    if p.st.halted || p.st.force != pf { return }
                    if err == nil && resp.Accepted {
                        pf.acks.Succeed(member)
                        return
                    }
                    if err != nil {
                        logutil.Warnf(p.logger, "force configure %s failed: %v", member, err)
                    } else {
                        logutil.Warnf(p.logger, "force configure rejected by %s: %s", member, resp.Error)
                    }
                    pf.acks.Fail(member)
                })
            }()
        }
    })
}

func (p *Partition) onForceResolved(pf *pendingForce, ok bool) {
    if p.st.force != pf { return }
    p.st.force = nil
    if !ok {
        metrics.Reconfigurations.WithLabelValues(p.label, "force", "failed").Inc()
        pf.promise.Complete(ErrQuorumFailed)
        return
    }
    metrics.Reconfigurations.WithLabelValues(p.label, "force", "committed").Inc()
    logutil.Infof(p.logger, "force configuration acknowledged by %v", pf.config.NewMembers)
    pf.promise.Complete(nil)
    if p.st.role == RoleLeader {
        if consensus.NewMemberSet(pf.config.NewMembers...).Contains(p.opts.MemberID) {
            p.broadcastHeartbeat()
        } else {
            p.becomeFollower(p.st.term, "")
        }
    }
}

// HandleConfigure serves a configuration sent by the leader.
func (p *Partition) HandleConfigure(ctx context.Context, req transport.ConfigureRequest) (transport.ConfigureResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "partition.configure", "leader", string(req.Leader))
    defer end()
    var resp transport.ConfigureResponse
    err := p.call(ctx, func() {
        if req.Term < p.st.term {
            resp = transport.ConfigureResponse{Term: p.st.term, Error: ErrNotLeader.Error()}
            return
        }
        p.followLeader(req.Term, req.Leader)
        if err := p.adoptConfiguration(req.Configuration); err != nil {
            resp = transport.ConfigureResponse{Term: p.st.term, Error: err.Error()}
            return
        }
        resp = transport.ConfigureResponse{Term: p.st.term, Accepted: true}
    })
    return resp, err
}

// HandleForceConfigure serves a force configuration. A replica that already
// runs a force configuration rejects one with a different member set.
func (p *Partition) HandleForceConfigure(ctx context.Context, req transport.ForceConfigureRequest) (transport.ForceConfigureResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "partition.force_configure.handle", "from", string(req.From))
    defer end()
    var resp transport.ForceConfigureResponse
    err := p.call(ctx, func() {
        if req.Term < p.st.term {
            resp = transport.ForceConfigureResponse{Term: p.st.term, Error: "stale term"}
            return
        }
        cur := p.st.config
        incoming := consensus.NewMemberSet(req.Configuration.NewMembers...)
        if cur.Force && !incoming.Equal(consensus.NewMemberSet(cur.NewMembers...)) {
            logutil.Warnf(p.logger, "rejecting force configuration %v from %s: already forced to %v", req.Configuration.NewMembers, req.From, cur.NewMembers)
            resp = transport.ForceConfigureResponse{Term: p.st.term, Error: ErrConfigurationConflict.Error()}
            return
        }
        if !cur.Force || !incoming.Equal(consensus.NewMemberSet(cur.NewMembers...)) {
            cfg := req.Configuration
            cfg.Force = true
            if err := p.installConfiguration(cfg); err != nil {
                resp = transport.ForceConfigureResponse{Term: p.st.term, Error: err.Error()}
                return
            }
        }
        p.becomeFollower(req.Term, "")
        resp = transport.ForceConfigureResponse{Term: p.st.term, Accepted: true}
    })
    return resp, err
}

// adoptConfiguration installs cfg when it is newer than the current one.
func (p *Partition) adoptConfiguration(cfg consensus.Configuration) error {
    cur := p.st.config
    newer := cfg.Term > cur.Term || (cfg.Term == cur.Term && cfg.Index > cur.Index)
    if !newer || len(cfg.NewMembers) == 0 { return nil }
    // a forced configuration is only replaced by one decided in a later term
    if cur.Force && !cfg.Force && cfg.Term <= cur.Term { return nil }
    return p.installConfiguration(cfg)
}

// installConfiguration makes cfg current, appends it to the log and persists
// it. Configurations created locally get the index of their log entry.
func (p *Partition) installConfiguration(cfg consensus.Configuration) error {
    data, err := json.Marshal(cfg)
    if err != nil { return err }
    index, err := p.append(raftcons.EntryConfiguration, data)
    if err != nil { return err }
    if cfg.Index == 0 { cfg.Index = index }
    if err := p.meta.SetConfiguration(cfg); err != nil {
        logutil.Errorf(p.logger, "persist configuration: %v", err)
    }
    p.st.config = cfg
    p.publish()
    c := cfg
    p.events.publish(Event{Type: EventConfigurationChanged, Term: p.st.term, Configuration: &c})
    return nil
}

// append writes an entry at the current term. When the disk is full it frees
// space by compacting without the replication threshold and retries once.
func (p *Partition) append(typ raftcons.EntryType, data []byte) (uint64, error) {
    index, err := p.log.Append(p.st.term, typ, data)
    if err == nil || !errors.Is(err, syscall.ENOSPC) { return index, err }
    logutil.Warnf(p.logger, "log append failed, disk full: %v", err)
    if !p.st.compactor.CompactIgnoringReplicationThreshold() { return 0, err }
    return p.log.Append(p.st.term, typ, data)
}

// failPending completes in-flight reconfigurations with err.
func (p *Partition) failPending(err error) {
    if rc := p.st.reconfig; rc != nil {
        p.st.reconfig = nil
        metrics.Reconfigurations.WithLabelValues(p.label, "joint", "aborted").Inc()
        rc.promise.Complete(err)
    }
    if pf := p.st.force; pf != nil && errors.Is(err, ErrStopped) {
        p.st.force = nil
        pf.promise.Complete(err)
    }
}
