// Package bootstrap assembles a partition replica from a Config: storage,
// the gRPC partition transport, the role engine and the management API.
package bootstrap

import (
    "context"
    "crypto/tls"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
    raftcons "github.com/amirimatin/go-partition/pkg/consensus/raft"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/metrics"
    "github.com/amirimatin/go-partition/pkg/observability/tracing"
    "github.com/amirimatin/go-partition/pkg/partition"
    rpcgrpc "github.com/amirimatin/go-partition/pkg/transport/grpc"
    "github.com/amirimatin/go-partition/pkg/transport/httpjson"
)

// Node is an assembled replica. Close releases everything Build created.
type Node struct {
    Config    Config
    Partition *partition.Partition
    Storage   *raftcons.Storage
    RPC       *rpcgrpc.Server
    RPCClient *rpcgrpc.Client
    // Mgmt is nil when no management address is configured.
    Mgmt *httpjson.Server

    logger        *log.Logger
    traceShutdown func(context.Context) error
}

// Build validates cfg and assembles a Node without starting it.
func Build(cfg Config) (*Node, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if cfg.Logger == nil { cfg.Logger = log.Default() }

    var srvTLS, cliTLS *tls.Config
    if cfg.TLS.Enable {
        var err error
        if srvTLS, err = cfg.TLS.Server(); err != nil { return nil, err }
        if cliTLS, err = cfg.TLS.Client(); err != nil { return nil, err }
    }

    storage, err := raftcons.Open(raftcons.Options{DataDir: cfg.DataDir, SnapshotsRetained: cfg.SnapshotsRetained, Logger: cfg.Logger})
    if err != nil { return nil, err }

    client := rpcgrpc.NewClient(cfg.RequestTimeout)
    if cliTLS != nil { client.UseTLS(cliTLS) }
    if r := cfg.Discovery.Resolver(cfg.Logger); r != nil { client.UseResolver(r) }
    for id, addr := range cfg.Members {
        if id != cfg.MemberID && addr != "" { client.SetAddress(consensus.MemberID(id), addr) }
    }

    p, err := partition.New(partition.Options{
        PartitionID:          cfg.PartitionID,
        MemberID:             consensus.MemberID(cfg.MemberID),
        Members:              cfg.MemberIDs(),
        Election:             cfg.PriorityElection.ElectionConfig(),
        PrimaryMemberID:      consensus.MemberID(cfg.PrimaryMemberID),
        ElectionTimeout:      cfg.ElectionTimeout,
        HeartbeatInterval:    cfg.HeartbeatInterval,
        RequestTimeout:       cfg.RequestTimeout,
        ReplicationThreshold: cfg.ReplicationThreshold,
        CompactionInterval:   cfg.CompactionInterval,
        Log:                  storage.Log,
        Snapshots:            storage.Snapshots,
        Meta:                 storage.Meta,
        Transport:            client,
        Logger:               cfg.Logger,
    })
    if err != nil {
        _ = storage.Close()
        client.Close()
        return nil, err
    }

    rpc := rpcgrpc.NewServer(cfg.RaftAddr)
    if srvTLS != nil { rpc.UseTLS(srvTLS) }
    rpc.Register(cfg.PartitionID, p)

    n := &Node{Config: cfg, Partition: p, Storage: storage, RPC: rpc, RPCClient: client, logger: cfg.Logger}
    if cfg.MgmtAddr != "" {
        mgmt := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { mgmt.UseTLS(srvTLS) }
        mgmt.Register(cfg.PartitionID, p)
        n.Mgmt = mgmt
    }
    return n, nil
}

// Start serves RPCs, starts the partition and the management API. The node
// stops when ctx is done.
func (n *Node) Start(ctx context.Context) error {
    metrics.Register()
    if n.Config.Trace {
        shutdown, err := tracing.Setup(true)
        if err != nil {
            logutil.Warnf(n.logger, "tracing setup error: %v", err)
        } else {
            n.traceShutdown = shutdown
        }
    }
    if err := n.RPC.Start(ctx); err != nil { return fmt.Errorf("bootstrap: start rpc server: %w", err) }
    if err := n.Partition.Start(ctx); err != nil { return err }
    if n.Mgmt != nil {
        if err := n.Mgmt.Start(ctx); err != nil { return fmt.Errorf("bootstrap: start management api: %w", err) }
    }
    logutil.Infof(n.logger, "partition %d member %s serving rpc on %s", n.Config.PartitionID, n.Config.MemberID, n.RPC.Addr())
    return nil
}

// Close stops the partition, the servers and closes storage.
func (n *Node) Close() error {
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    err := n.Partition.Stop()
    if n.Mgmt != nil { _ = n.Mgmt.Stop(ctx) }
    _ = n.RPC.Stop(ctx)
    n.RPCClient.Close()
    if cerr := n.Storage.Close(); err == nil { err = cerr }
    if n.traceShutdown != nil { _ = n.traceShutdown(ctx) }
    return err
}

// Run builds and starts a node. The caller is responsible for calling Close
// when finished.
func Run(ctx context.Context, cfg Config) (*Node, error) {
    n, err := Build(cfg)
    if err != nil { return nil, err }
    if err := n.Start(ctx); err != nil {
        _ = n.Close()
        return nil, err
    }
    return n, nil
}
