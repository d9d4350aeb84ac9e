package partition

import (
    "context"
    "fmt"
    "strings"
    "sync"
    "syscall"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/consensus/election"
    raftcons "github.com/amirimatin/go-partition/pkg/consensus/raft"
    "github.com/amirimatin/go-partition/pkg/transport"
)

const (
    electionTimeout = 60 * time.Millisecond
    heartbeat       = 15 * time.Millisecond
)

type testCluster struct {
    t     *testing.T
    net   *transport.LocalNetwork
    nodes map[consensus.MemberID]*Partition
}

func newCluster(t *testing.T) *testCluster {
    return &testCluster{t: t, net: transport.NewLocalNetwork(), nodes: map[consensus.MemberID]*Partition{}}
}

// add starts member id with the given initial configuration and priority (0
// disables priority election).
func (c *testCluster) add(id consensus.MemberID, members []consensus.MemberID, priority int, mutate ...func(*Options)) *Partition {
    c.t.Helper()
    opts := Options{
        PartitionID:       1,
        MemberID:          id,
        Members:           members,
        ElectionTimeout:   electionTimeout,
        HeartbeatInterval: heartbeat,
        RequestTimeout:    electionTimeout,
        Transport:         c.net.Transport(id),
    }
    if priority > 0 {
        opts.Election = election.Config{PriorityElectionEnabled: true, InitialTargetPriority: 3, NodePriority: priority}
    }
    for _, m := range mutate { m(&opts) }
    p, err := New(opts)
    require.NoError(c.t, err)
    c.net.Register(id, p)
    require.NoError(c.t, p.Start(context.Background()))
    c.nodes[id] = p
    c.t.Cleanup(func() { _ = p.Stop() })
    return p
}

func ids(s ...string) []consensus.MemberID {
    out := make([]consensus.MemberID, len(s))
    for i, v := range s { out[i] = consensus.MemberID(v) }
    return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatalf("timed out waiting for %s", what)
}

// leader returns the single leader among connected nodes, or nil.
func (c *testCluster) leader(skip ...consensus.MemberID) *Partition {
    var found *Partition
    for id, p := range c.nodes {
        if contains(skip, id) { continue }
        if p.IsLeader() {
            if found != nil && found.Term() == p.Term() { return nil }
            if found == nil || p.Term() > found.Term() { found = p }
        }
    }
    return found
}

func contains(list []consensus.MemberID, id consensus.MemberID) bool {
    for _, v := range list {
        if v == id { return true }
    }
    return false
}

func TestSingleNode_BecomesLeader(t *testing.T) {
    c := newCluster(t)
    p := c.add("1", ids("1"), 0)
    waitFor(t, "leadership", p.IsLeader)

    select {
    case li := <-p.LeaderCh():
        require.Equal(t, consensus.MemberID("1"), li.ID)
        require.GreaterOrEqual(t, li.Term, uint64(1))
    case <-time.After(2 * time.Second):
        t.Fatalf("no leader notification")
    }
    id, ok := p.Leader()
    require.True(t, ok)
    require.Equal(t, consensus.MemberID("1"), id)
    st := p.Status()
    require.Equal(t, RoleLeader, st.Role)
    require.GreaterOrEqual(t, st.LastLogIndex, uint64(1), "leader opens its term with an entry")
}

func TestPriorityElection_HighestPriorityWins(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    c.add("1", members, 1)
    c.add("2", members, 2)
    c.add("3", members, 3)

    waitFor(t, "a leader", func() bool { return c.leader() != nil })
    require.Equal(t, consensus.MemberID("3"), c.leader().MemberID())
    term := c.leader().Term()
    waitFor(t, "followers to learn the leader", func() bool {
        for _, p := range c.nodes {
            id, ok := p.Leader()
            if !ok || id != "3" || p.Term() != term { return false }
        }
        return true
    })
}

func TestFailover_NewLeaderAfterDisconnect(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    for _, id := range members { c.add(id, members, 0) }
    waitFor(t, "a leader", func() bool { return c.leader() != nil })
    old := c.leader()
    oldTerm := old.Term()

    c.net.Disconnect(old.MemberID())
    waitFor(t, "a new leader", func() bool {
        l := c.leader(old.MemberID())
        return l != nil && l.Term() > oldTerm
    })
    newLeader := c.leader(old.MemberID())

    c.net.Reconnect(old.MemberID())
    waitFor(t, "old leader to step back", func() bool { return !old.IsLeader() && old.Term() >= newLeader.Term() })
}

func TestStepDown_MovesLeadership(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    c.add("1", members, 1)
    c.add("2", members, 2)
    c.add("3", members, 3)
    waitFor(t, "node 3 to lead", func() bool { l := c.leader(); return l != nil && l.MemberID() == "3" })

    // demote 3, promote 1
    require.NoError(t, c.nodes["3"].ReconfigurePriority(1).Error())
    require.NoError(t, c.nodes["1"].ReconfigurePriority(3).Error())
    require.NoError(t, c.nodes["3"].StepDown().Error())
    require.False(t, c.nodes["3"].IsLeader())
    waitFor(t, "node 1 to lead", func() bool { l := c.leader(); return l != nil && l.MemberID() == "1" })
}

func TestCheckStepDown_HandsOverToPrimary(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    c.add("1", members, 1)
    c.add("2", members, 2)
    c.add("3", members, 3)
    waitFor(t, "node 3 to lead", func() bool { l := c.leader(); return l != nil && l.MemberID() == "3" })

    require.NoError(t, c.nodes["3"].ReconfigurePriority(1).Error())
    require.NoError(t, c.nodes["2"].ReconfigurePriority(3).Error())
    cfg := consensus.PartitionConfig{PartitionID: 1, Members: members, PriorityElectionEnabled: true, PrimaryMemberID: "2"}
    require.NoError(t, c.nodes["3"].UpdatePartitionConfig(cfg).Error())
    require.False(t, c.nodes["3"].IsLeader())
    waitFor(t, "primary to lead", func() bool { l := c.leader(); return l != nil && l.MemberID() == "2" })

    // the primary itself never steps down
    require.NoError(t, c.nodes["2"].UpdatePartitionConfig(cfg).Error())
    require.True(t, c.nodes["2"].IsLeader())
    require.Equal(t, consensus.MemberID("2"), c.nodes["2"].Status().PrimaryMemberID)
}

func TestStepDown_NoopOnFollower(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2")
    c.add("1", members, 0)
    c.add("2", members, 0)
    waitFor(t, "a leader", func() bool { return c.leader() != nil })
    var follower *Partition
    for _, p := range c.nodes {
        if !p.IsLeader() { follower = p }
    }
    require.NotNil(t, follower)
    require.NoError(t, follower.StepDown().Error())
    require.NoError(t, follower.CheckStepDown().Error())
}

func TestReconfigure_AddsMember(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    for _, id := range members { c.add(id, members, 0) }
    // a joining replica does not campaign until it is part of the configuration
    c.add("4", members, 0)
    waitFor(t, "a leader", func() bool { l := c.leader(); return l != nil && l.MemberID() != "4" })
    leader := c.leader()

    events := leader.Subscribe(context.Background())
    require.NoError(t, leader.Reconfigure(ids("1", "2", "3", "4")).Error())
    st := leader.Status()
    require.False(t, st.Configuration.Joint())
    require.Equal(t, ids("1", "2", "3", "4"), st.Configuration.NewMembers)

    waitFor(t, "all members to adopt the configuration", func() bool {
        for _, p := range c.nodes {
            cfg := p.Status().Configuration
            if cfg.Joint() || len(cfg.NewMembers) != 4 { return false }
        }
        return true
    })

    var sawJoint bool
    timeout := time.After(time.Second)
    for !sawJoint {
        select {
        case ev := <-events:
            if ev.Type == EventConfigurationChanged && ev.Configuration.Joint() { sawJoint = true }
        case <-timeout:
            t.Fatalf("no joint configuration event")
        }
    }
}

func TestReconfigure_RevertsWhenNewMembersUnreachable(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    for _, id := range members { c.add(id, members, 0) }
    waitFor(t, "a leader", func() bool { return c.leader() != nil })
    leader := c.leader()

    // neither 5 nor 6 exists, so the new set cannot reach a majority
    err := leader.Reconfigure([]consensus.MemberID{leader.MemberID(), "5", "6"}).Error()
    require.ErrorIs(t, err, ErrQuorumFailed)
    cfg := leader.Status().Configuration
    require.False(t, cfg.Joint())
    require.Equal(t, members, cfg.NewMembers)
}

func TestReconfigure_RequiresLeader(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    for _, id := range members { c.add(id, members, 0) }
    waitFor(t, "a leader", func() bool { return c.leader() != nil })
    for _, p := range c.nodes {
        if p.IsLeader() { continue }
        require.ErrorIs(t, p.Reconfigure(ids("1", "2")).Error(), ErrNotLeader)
        return
    }
}

func TestForceConfigure_ShrinksAndRejectsConflict(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    for _, id := range members { c.add(id, members, 0) }
    waitFor(t, "a leader", func() bool { return c.leader() != nil })

    c.net.Disconnect("3")
    require.NoError(t, c.nodes["1"].ForceConfigure(ids("1", "2")).Error())
    for _, id := range ids("1", "2") {
        cfg := c.nodes[id].Status().Configuration
        require.True(t, cfg.Force, "member %s", id)
        require.Equal(t, ids("1", "2"), cfg.NewMembers)
    }

    resp, err := c.nodes["2"].HandleForceConfigure(context.Background(), transport.ForceConfigureRequest{
        PartitionID:   1,
        Term:          1 << 20,
        From:          "3",
        Configuration: consensus.Configuration{NewMembers: ids("2", "3"), Force: true},
    })
    require.NoError(t, err)
    require.False(t, resp.Accepted)
    require.Equal(t, ErrConfigurationConflict.Error(), resp.Error)

    waitFor(t, "a leader of the shrunk partition", func() bool {
        l := c.leader("3")
        return l != nil && (l.MemberID() == "1" || l.MemberID() == "2")
    })
}

func TestForceConfigure_FailsWhenMemberUnreachable(t *testing.T) {
    c := newCluster(t)
    members := ids("1", "2", "3")
    for _, id := range members { c.add(id, members, 0) }
    waitFor(t, "a leader", func() bool { return c.leader() != nil })
    c.net.Disconnect("3")
    require.ErrorIs(t, c.nodes["1"].ForceConfigure(members).Error(), ErrQuorumFailed)
}

func TestHandleVote(t *testing.T) {
    storage, err := raftcons.Open(raftcons.Options{})
    require.NoError(t, err)
    _, err = storage.Log.Append(1, raftcons.EntryNoop, nil)
    require.NoError(t, err)
    net := transport.NewLocalNetwork()
    p, err := New(Options{
        PartitionID:     1,
        MemberID:        "1",
        Members:         ids("1", "2", "3"),
        ElectionTimeout: 10 * time.Second,
        Transport:       net.Transport("1"),
        Log:             storage.Log,
        Snapshots:       storage.Snapshots,
        Meta:            storage.Meta,
    })
    require.NoError(t, err)
    defer p.Stop()
    ctx := context.Background()
    upToDate := func(term uint64, candidate consensus.MemberID) transport.VoteRequest {
        return transport.VoteRequest{Term: term, Candidate: candidate, LastLogIndex: 1, LastLogTerm: 1}
    }

    resp, err := p.HandleVote(ctx, upToDate(2, "2"))
    require.NoError(t, err)
    require.True(t, resp.Granted)
    require.Equal(t, uint64(2), resp.Term)
    vote, err := storage.Meta.Vote(2)
    require.NoError(t, err)
    require.Equal(t, consensus.MemberID("2"), vote)

    resp, err = p.HandleVote(ctx, upToDate(2, "3"))
    require.NoError(t, err)
    require.False(t, resp.Granted, "already voted in term 2")

    resp, err = p.HandleVote(ctx, upToDate(2, "2"))
    require.NoError(t, err)
    require.True(t, resp.Granted, "repeated request from the same candidate")

    resp, err = p.HandleVote(ctx, upToDate(1, "3"))
    require.NoError(t, err)
    require.False(t, resp.Granted)
    require.Equal(t, uint64(2), resp.Term)

    resp, err = p.HandleVote(ctx, upToDate(3, "9"))
    require.NoError(t, err)
    require.False(t, resp.Granted, "candidate outside the configuration")
    require.Equal(t, uint64(3), resp.Term)

    resp, err = p.HandleVote(ctx, transport.VoteRequest{Term: 4, Candidate: "3"})
    require.NoError(t, err)
    require.False(t, resp.Granted, "candidate log behind")

    resp, err = p.HandleVote(ctx, transport.VoteRequest{Term: 4, Candidate: "3", LastLogIndex: 1, LastLogTerm: 2})
    require.NoError(t, err)
    require.True(t, resp.Granted, "newer last term wins over a longer log")
}

func TestStop_RejectsFurtherWork(t *testing.T) {
    c := newCluster(t)
    p := c.add("1", ids("1"), 0)
    waitFor(t, "leadership", p.IsLeader)
    require.NoError(t, p.Stop())
    require.NoError(t, p.Stop())

    _, err := p.HandleVote(context.Background(), transport.VoteRequest{Term: 9, Candidate: "1"})
    require.ErrorIs(t, err, ErrStopped)
    require.ErrorIs(t, p.Reconfigure(ids("1", "2")).Error(), ErrStopped)
    require.ErrorIs(t, p.Start(context.Background()), ErrStopped)
}

func TestCompaction_FromSnapshots(t *testing.T) {
    storage, err := raftcons.Open(raftcons.Options{})
    require.NoError(t, err)
    c := newCluster(t)
    p := c.add("1", ids("1"), 0, func(o *Options) {
        o.Log, o.Snapshots, o.Meta = storage.Log, storage.Snapshots, storage.Meta
        o.ReplicationThreshold = 2
    })
    waitFor(t, "leadership", p.IsLeader)
    for i := 0; i < 10; i++ {
        _, err := storage.Log.Append(p.Term(), raftcons.EntryCommand, []byte(fmt.Sprint(i)))
        require.NoError(t, err)
    }
    last := storage.Log.LastIndex()

    snap, err := p.TakeSnapshot(context.Background(), 100, 90, nil)
    require.NoError(t, err)
    require.Equal(t, last, snap.Index)
    waitFor(t, "snapshot compaction", func() bool {
        return storage.Log.FirstIndex() == last-2 && p.Status().CompactableIndex == last
    })

    deleted, err := p.Compact(context.Background(), true)
    require.NoError(t, err)
    require.True(t, deleted)
    require.Equal(t, last, storage.Log.FirstIndex())
}

func TestCompaction_ManualIndex(t *testing.T) {
    storage, err := raftcons.Open(raftcons.Options{})
    require.NoError(t, err)
    c := newCluster(t)
    p := c.add("1", ids("1"), 0, func(o *Options) {
        o.Log, o.Snapshots, o.Meta = storage.Log, storage.Snapshots, storage.Meta
        o.ReplicationThreshold = 5
    })
    waitFor(t, "leadership", p.IsLeader)
    for storage.Log.LastIndex() < 20 {
        _, err := storage.Log.Append(p.Term(), raftcons.EntryCommand, nil)
        require.NoError(t, err)
    }
    require.NoError(t, p.SetCompactableIndex(context.Background(), 12))
    deleted, err := p.Compact(context.Background(), false)
    require.NoError(t, err)
    require.True(t, deleted)
    require.Equal(t, uint64(7), storage.Log.FirstIndex())
}

// fullDiskLog fails the first append with ENOSPC.
type fullDiskLog struct {
    *raftcons.Log
    mu       sync.Mutex
    full     bool
    compacts int
}

func (l *fullDiskLog) Append(term uint64, typ raftcons.EntryType, data []byte) (uint64, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.full { return 0, fmt.Errorf("write entry: %w", syscall.ENOSPC) }
    return l.Log.Append(term, typ, data)
}

func (l *fullDiskLog) DeleteUntil(index uint64) bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    l.compacts++
    if l.full {
        l.full = false
        return true
    }
    return l.Log.DeleteUntil(index)
}

func TestAppend_RetriesAfterFreeingSpace(t *testing.T) {
    storage, err := raftcons.Open(raftcons.Options{})
    require.NoError(t, err)
    log := &fullDiskLog{Log: storage.Log, full: true}
    c := newCluster(t)
    p := c.add("1", ids("1"), 0, func(o *Options) { o.Log = log })
    waitFor(t, "leadership", p.IsLeader)
    log.mu.Lock()
    defer log.mu.Unlock()
    require.False(t, log.full)
    require.GreaterOrEqual(t, log.compacts, 1)
    require.GreaterOrEqual(t, storage.Log.LastIndex(), uint64(1))
}

func TestOptionsValidate(t *testing.T) {
    net := transport.NewLocalNetwork()
    cases := []struct {
        name string
        opts Options
        want string
    }{
        {"no member", Options{Members: ids("1"), Transport: net.Transport("1")}, "MemberID"},
        {"no members", Options{MemberID: "1", Transport: net.Transport("1")}, "member set"},
        {"no transport", Options{MemberID: "1", Members: ids("1")}, "Transport"},
        {"heartbeat", Options{MemberID: "1", Members: ids("1"), Transport: net.Transport("1"), ElectionTimeout: time.Second, HeartbeatInterval: time.Second}, "heartbeat"},
        {"priority", Options{MemberID: "1", Members: ids("1"), Transport: net.Transport("1"), Election: election.Config{PriorityElectionEnabled: true}}, "priority"},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            err := tc.opts.Validate()
            require.Error(t, err)
            require.True(t, strings.Contains(err.Error(), tc.want), err.Error())
        })
    }
}
