// Package partition runs the raft roles of one partition replica. All
// consensus state is confined to the partition's threadctx.Context: election
// timing, vote and acknowledgement quorums, configuration changes, step-down
// and log compaction. RPC handlers and public methods hand their work to the
// context and wait for the result.
package partition

import (
    "context"
    "fmt"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/consensus/compaction"
    "github.com/amirimatin/go-partition/pkg/consensus/election"
    raftcons "github.com/amirimatin/go-partition/pkg/consensus/raft"
    "github.com/amirimatin/go-partition/pkg/consensus/stepdown"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/metrics"
    "github.com/amirimatin/go-partition/pkg/threadctx"
    "github.com/amirimatin/go-partition/pkg/transport"
)

// Partition is one replica of a partition.
type Partition struct {
    opts   Options
    logger *log.Logger
    label  string
    ctx    threadctx.Context
    // ownCtx is set when the partition created its context.
    ownCtx  *threadctx.SingleThread
    storage *raftcons.Storage

    log       Log
    snapshots SnapshotStore
    meta      MetaStore
    trans     transport.Transport

    started atomic.Bool
    stopped atomic.Bool
    closing chan struct{}

    // guarded by mu; a copy of the context-confined state for other goroutines
    mu   sync.RWMutex
    view Status

    leaderCh chan consensus.LeaderInfo
    events   eventBus

    // Owned by the context.
    st state
}

// state is only read and written on the partition's context.
type state struct {
    role     Role
    term     uint64
    votedFor consensus.MemberID
    leader   consensus.MemberID
    config   consensus.Configuration

    electionCfg  election.Config
    partitionCfg consensus.PartitionConfig
    timer        election.ElectionTimer

    election  *electionAttempt
    reconfig  *pendingReconfig
    force     *pendingForce
    heartbeat threadctx.Scheduled
    compactor *compaction.LogCompactor
    maintain  threadctx.Scheduled
    policy    stepdown.Policy
    halted    bool
}

// New validates opts and assembles a partition. It performs no network
// activity; call Start to join the election cycle.
func New(opts Options) (*Partition, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    p := &Partition{
        opts:      opts,
        logger:    logutil.Named(opts.Logger, fmt.Sprintf("partition-%d", opts.PartitionID)),
        label:     metrics.Label(opts.PartitionID),
        trans:     opts.Transport,
        closing:   make(chan struct{}),
        leaderCh:  make(chan consensus.LeaderInfo, 16),
        log:       opts.Log,
        snapshots: opts.Snapshots,
        meta:      opts.Meta,
    }
    if p.log == nil || p.snapshots == nil || p.meta == nil {
        s, err := raftcons.Open(raftcons.Options{Logger: opts.Logger})
        if err != nil { return nil, err }
        p.storage = s
        if p.log == nil { p.log = s.Log }
        if p.snapshots == nil { p.snapshots = s.Snapshots }
        if p.meta == nil { p.meta = s.Meta }
    }
    p.ctx = opts.Context
    if p.ctx == nil {
        p.ownCtx = threadctx.NewSingleThread(fmt.Sprintf("partition-%d-%s", opts.PartitionID, opts.MemberID), p.logger)
        p.ctx = p.ownCtx
    }
    compactor, err := compaction.New(compaction.Options{
        Context:              p.ctx,
        Log:                  p.log,
        ReplicationThreshold: opts.ReplicationThreshold,
        Metrics:              metrics.Compaction(opts.PartitionID),
        Logger:               p.logger,
    })
    if err != nil { return nil, err }
    p.st = state{
        role:        RoleFollower,
        config:      consensus.Configuration{NewMembers: append([]consensus.MemberID(nil), opts.Members...)},
        electionCfg: opts.Election,
        partitionCfg: consensus.PartitionConfig{
            PartitionID:             opts.PartitionID,
            Members:                 opts.Members,
            PriorityElectionEnabled: opts.Election.PriorityElectionEnabled,
            PrimaryMemberID:         opts.PrimaryMemberID,
        },
        compactor: compactor,
    }
    p.st.policy = stepdown.Policy{
        Config: func() consensus.PartitionConfig { return p.st.partitionCfg },
        Role:   p.attachedRole,
        Local:  opts.MemberID,
    }
    p.view = Status{PartitionID: opts.PartitionID, MemberID: opts.MemberID, Role: RoleFollower, Configuration: p.st.config}
    return p, nil
}

// Start restores the persisted term, vote and configuration, then starts the
// follower role. The partition stops when ctx is done.
func (p *Partition) Start(ctx context.Context) error {
    if p.stopped.Load() { return ErrStopped }
    if !p.started.CompareAndSwap(false, true) { return nil }
    metrics.Register()
    term, err := p.meta.Term()
    if err != nil { return fmt.Errorf("partition: load term: %w", err) }
    vote, err := p.meta.Vote(term)
    if err != nil { return fmt.Errorf("partition: load vote: %w", err) }
    restored, hasConfig, err := p.meta.Configuration()
    if err != nil { return fmt.Errorf("partition: load configuration: %w", err) }

    p.snapshots.AddListener(func(s consensus.PersistedSnapshot) {
        p.ctx.Execute(func() {
            if p.st.halted { return }
            logutil.Debugf(p.logger, "snapshot %s persisted at index %d", s.ID, s.Index)
            p.afterCompaction(p.st.compactor.CompactFromSnapshots(p.snapshots), "snapshot")
        })
    })

    err = p.call(ctx, func() {
        p.st.term, p.st.votedFor = term, vote
        if hasConfig { p.st.config = restored }
        logutil.Infof(p.logger, "starting as follower: member=%s term=%d members=%v", p.opts.MemberID, term, p.st.config.NewMembers)
        p.becomeFollower(term, "")
        p.scheduleMaintenance()
    })
    if err != nil { return err }
    go func() {
        select {
        case <-ctx.Done():
            _ = p.Stop()
        case <-p.closing:
        }
    }()
    return nil
}

// Stop halts all roles, fails pending operations and releases owned resources.
func (p *Partition) Stop() error {
    if !p.stopped.CompareAndSwap(false, true) { return nil }
    done := make(chan struct{})
    p.ctx.Execute(func() {
        defer close(done)
        p.halt()
    })
    select {
    case <-done:
    case <-time.After(p.opts.ElectionTimeout + p.opts.RequestTimeout):
        logutil.Warnf(p.logger, "timed out waiting for partition context to halt")
    }
    close(p.closing)
    if p.ownCtx != nil { p.ownCtx.Close() }
    if p.storage != nil { return p.storage.Close() }
    return nil
}

func (p *Partition) halt() {
    p.st.halted = true
    p.cancelTimer()
    p.stopHeartbeats()
    p.abandonElection()
    p.failPending(ErrStopped)
    if p.st.maintain != nil {
        p.st.maintain.Cancel()
        p.st.maintain = nil
    }
    logutil.Infof(p.logger, "stopped at term %d", p.st.term)
}

// call runs fn on the partition context and waits for it.
func (p *Partition) call(ctx context.Context, fn func()) error {
    if p.stopped.Load() { return ErrStopped }
    done := make(chan bool, 1)
    p.ctx.Execute(func() {
        if p.st.halted {
            done <- false
            return
        }
        fn()
        done <- true
    })
    select {
    case ran := <-done:
        if !ran { return ErrStopped }
        return nil
    case <-ctx.Done():
        return ctx.Err()
    case <-p.closing:
        return ErrStopped
    }
}

// submit runs fn on the context and returns a future completed by fn.
func (p *Partition) submit(fn func(done *consensus.Promise)) consensus.Future {
    promise := consensus.NewPromise()
    if p.stopped.Load() {
        promise.Complete(ErrStopped)
        return promise
    }
    p.ctx.Execute(func() {
        if p.st.halted {
            promise.Complete(ErrStopped)
            return
        }
        fn(promise)
    })
    return promise
}

func (p *Partition) IsLeader() bool {
    p.mu.RLock()
    defer p.mu.RUnlock()
    return p.view.Role == RoleLeader
}

func (p *Partition) Leader() (consensus.MemberID, bool) {
    p.mu.RLock()
    defer p.mu.RUnlock()
    return p.view.Leader, p.view.Leader != ""
}

func (p *Partition) Term() uint64 {
    p.mu.RLock()
    defer p.mu.RUnlock()
    return p.view.Term
}

func (p *Partition) MemberID() consensus.MemberID { return p.opts.MemberID }

func (p *Partition) LeaderCh() <-chan consensus.LeaderInfo { return p.leaderCh }

// Status returns the latest published snapshot of the replica.
func (p *Partition) Status() Status {
    p.mu.RLock()
    s := p.view
    p.mu.RUnlock()
    s.Configuration.NewMembers = append([]consensus.MemberID(nil), s.Configuration.NewMembers...)
    s.Configuration.OldMembers = append([]consensus.MemberID(nil), s.Configuration.OldMembers...)
    s.FirstLogIndex = p.log.FirstIndex()
    s.LastLogIndex = p.log.LastIndex()
    return s
}

// publish copies context state into the view read by other goroutines.
func (p *Partition) publish() {
    st := &p.st
    p.mu.Lock()
    prevLeader := p.view.Leader
    p.view.Role = st.role
    p.view.Term = st.term
    p.view.Leader = st.leader
    p.view.Configuration = st.config
    p.view.PriorityElection = st.electionCfg.PriorityElectionEnabled
    p.view.NodePriority = st.electionCfg.NodePriority
    p.view.TargetPriority = st.electionCfg.InitialTargetPriority
    p.view.PrimaryMemberID = st.partitionCfg.PrimaryMemberID
    p.view.CompactableIndex = st.compactor.CompactableIndex()
    p.mu.Unlock()

    metrics.Term.WithLabelValues(p.label).Set(float64(st.term))
    metrics.SetRole(p.label, string(st.role))
    if st.leader != "" && st.leader != prevLeader {
        li := consensus.LeaderInfo{ID: st.leader, Term: st.term}
        select {
        case p.leaderCh <- li:
        default:
        }
        p.events.publish(Event{Type: EventLeaderChanged, Term: st.term, Leader: st.leader})
    }
}

// setTerm adopts a newer term and forgets the vote of the old one.
func (p *Partition) setTerm(term uint64) {
    if term <= p.st.term { return }
    p.st.term = term
    p.st.votedFor = ""
    if err := p.meta.SetTerm(term); err != nil {
        logutil.Errorf(p.logger, "persist term %d: %v", term, err)
    }
}

func (p *Partition) setVote(candidate consensus.MemberID) {
    p.st.votedFor = candidate
    if err := p.meta.SetVote(p.st.term, candidate); err != nil {
        logutil.Errorf(p.logger, "persist vote for %s in term %d: %v", candidate, p.st.term, err)
    }
}

func (p *Partition) setRole(role Role) {
    if p.st.role == role { return }
    logutil.Infof(p.logger, "role %s -> %s (term %d)", p.st.role, role, p.st.term)
    p.st.role = role
    p.events.publish(Event{Type: EventRoleChanged, Term: p.st.term, Role: role})
}

// becomeFollower moves to the follower role at term (or the current term if
// higher) and (re)arms the election timer.
func (p *Partition) becomeFollower(term uint64, leader consensus.MemberID) {
    p.setTerm(term)
    wasLeader := p.st.role == RoleLeader
    p.setRole(RoleFollower)
    p.st.leader = leader
    p.abandonElection()
    p.stopHeartbeats()
    if wasLeader { p.failPending(ErrNotLeader) }
    p.resetTimer()
    p.publish()
}

// resetTimer arms the election timer, creating it when the follower role
// starts. A replica outside the configuration never campaigns.
func (p *Partition) resetTimer() {
    if p.st.timer == nil {
        t, err := election.NewTimer(election.Options{
            Config:      p.st.electionCfg,
            BaseTimeout: p.opts.ElectionTimeout,
            Context:     p.ctx,
            Trigger:     p.onElectionTimeout,
            Label:       p.label,
            Logger:      p.logger,
        })
        if err != nil {
            logutil.Errorf(p.logger, "create election timer: %v", err)
            return
        }
        p.st.timer = t
    }
    p.st.timer.Reset()
}

func (p *Partition) cancelTimer() {
    if p.st.timer != nil {
        p.st.timer.Cancel()
        p.st.timer = nil
    }
}

// attachedRole is the role step-down acts on: the partition while it leads.
func (p *Partition) attachedRole() consensus.Role {
    if p.st.role != RoleLeader { return nil }
    return p
}

func (p *Partition) others() []consensus.MemberID {
    all := p.st.config.AllMembers()
    out := make([]consensus.MemberID, 0, len(all))
    for _, id := range all.Sorted() {
        if id != p.opts.MemberID { out = append(out, id) }
    }
    return out
}

func (p *Partition) rpcContext() (context.Context, context.CancelFunc) {
    return context.WithTimeout(context.Background(), p.opts.RequestTimeout)
}

var (
    _ consensus.Consensus      = (*Partition)(nil)
    _ consensus.LeaderNotifier = (*Partition)(nil)
    _ consensus.Role           = (*Partition)(nil)
    _ consensus.Reconfigurer   = (*Partition)(nil)
    _ transport.Handler        = (*Partition)(nil)
)
