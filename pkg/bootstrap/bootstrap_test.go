package bootstrap

import (
    "context"
    "net"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/transport/httpjson"
)

const sampleYAML = `
partitionId: 3
memberId: b
members:
  a: 10.0.0.1:9520
  b: 10.0.0.2:9520
  c: 10.0.0.3:9520
priorityElection:
  enabled: true
  targetPriority: 3
  nodePriority: 2
primaryMemberId: a
electionTimeout: 2s
heartbeatInterval: 250ms
replicationThreshold: 100
compactionInterval: 1m
raftAddr: ":9520"
mgmtAddr: ":17946"
`

func TestLoadAndValidate(t *testing.T) {
    path := filepath.Join(t.TempDir(), "partition.yaml")
    require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
    cfg, err := Load(path)
    require.NoError(t, err)
    require.NoError(t, cfg.Validate())

    require.Equal(t, 3, cfg.PartitionID)
    require.Equal(t, 2*time.Second, cfg.ElectionTimeout)
    require.Equal(t, 250*time.Millisecond, cfg.HeartbeatInterval)
    require.Equal(t, time.Minute, cfg.CompactionInterval)
    require.Equal(t, []consensus.MemberID{"a", "b", "c"}, cfg.MemberIDs())
    ec := cfg.PriorityElection.ElectionConfig()
    require.True(t, ec.PriorityElectionEnabled)
    require.Equal(t, 3, ec.InitialTargetPriority)
    require.Equal(t, 2, ec.NodePriority)
}

func TestValidate_Rejects(t *testing.T) {
    base := func() Config {
        return Config{PartitionID: 1, MemberID: "a", Members: map[string]string{"a": "127.0.0.1:1"}, RaftAddr: ":1"}
    }
    cases := map[string]func(*Config){
        "no partition":     func(c *Config) { c.PartitionID = 0 },
        "no member":        func(c *Config) { c.MemberID = "" },
        "no members":       func(c *Config) { c.Members = nil },
        "empty address":    func(c *Config) { c.Members["b"] = "" },
        "self missing":     func(c *Config) { c.MemberID = "z" },
        "unknown primary":  func(c *Config) { c.PrimaryMemberID = "z" },
        "no raft addr":     func(c *Config) { c.RaftAddr = "" },
        "target priority":  func(c *Config) { c.PriorityElection.Enabled = true },
        "heartbeat":        func(c *Config) { c.ElectionTimeout, c.HeartbeatInterval = time.Second, time.Second },
        "negative timeout": func(c *Config) { c.RequestTimeout = -time.Second },
        "discovery kind":   func(c *Config) { c.Discovery.Kind = "consul" },
        "file no path":     func(c *Config) { c.Discovery.Kind = "file" },
        "dns no template":  func(c *Config) { c.Discovery.Kind = "dns" },
    }
    for name, mutate := range cases {
        t.Run(name, func(t *testing.T) {
            cfg := base()
            require.NoError(t, cfg.Validate())
            mutate(&cfg)
            require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
        })
    }
}

func TestValidate_DiscoveryAllowsEmptyAddresses(t *testing.T) {
    cfg := Config{
        PartitionID: 1,
        MemberID:    "a",
        Members:     map[string]string{"a": "", "b": ""},
        Discovery:   Discovery{Kind: "dns", Template: "%s.partition.svc"},
        RaftAddr:    ":1",
    }
    require.NoError(t, cfg.Validate())
    require.NotNil(t, cfg.Discovery.Resolver(nil))
    require.Nil(t, Discovery{}.Resolver(nil))
}

func TestParseMembers(t *testing.T) {
    m, err := ParseMembers("a=h1:1, b=h2:2,")
    require.NoError(t, err)
    require.Equal(t, map[string]string{"a": "h1:1", "b": "h2:2"}, m)
    _, err = ParseMembers("a")
    require.ErrorIs(t, err, ErrInvalidConfig)
}

func freeAddr(t *testing.T) string {
    t.Helper()
    l, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    addr := l.Addr().String()
    require.NoError(t, l.Close())
    return addr
}

func TestRun_ThreeNodesOverGRPC(t *testing.T) {
    members := map[string]string{"a": freeAddr(t), "b": freeAddr(t), "c": freeAddr(t)}
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    nodes := map[string]*Node{}
    for id, addr := range members {
        cfg := Config{
            PartitionID:       1,
            MemberID:          id,
            Members:           members,
            ElectionTimeout:   200 * time.Millisecond,
            HeartbeatInterval: 40 * time.Millisecond,
            RaftAddr:          addr,
            MgmtAddr:          "127.0.0.1:0",
            DataDir:           t.TempDir(),
        }
        n, err := Run(ctx, cfg)
        require.NoError(t, err)
        t.Cleanup(func() { _ = n.Close() })
        nodes[id] = n
    }

    var leader *Node
    deadline := time.Now().Add(10 * time.Second)
    for leader == nil && time.Now().Before(deadline) {
        for _, n := range nodes {
            if n.Partition.IsLeader() { leader = n }
        }
        time.Sleep(20 * time.Millisecond)
    }
    if leader == nil { t.Fatalf("no leader elected over gRPC") }

    client := httpjson.NewClient(2 * time.Second)
    st, err := client.Status(context.Background(), leader.Mgmt.Addr(), 1)
    require.NoError(t, err)
    require.Len(t, st, 1)
    require.Equal(t, "leader", string(st[0].Role))

    // every follower learns the leader through heartbeats
    deadline = time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        ok := true
        for _, n := range nodes {
            id, known := n.Partition.Leader()
            if !known || id != leader.Partition.MemberID() { ok = false }
        }
        if ok { return }
        time.Sleep(20 * time.Millisecond)
    }
    t.Fatalf("followers did not learn leader %s", leader.Partition.MemberID())
}
