package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-partition/pkg/bootstrap"
    "github.com/amirimatin/go-partition/pkg/consensus"
    tlsx "github.com/amirimatin/go-partition/pkg/security/tlsconfig"
    "github.com/amirimatin/go-partition/pkg/transport/httpjson"
)

// AddAll attaches the partition subcommands to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(
        NewRunCmd(),
        NewStatusCmd(),
        NewStepDownCmd(),
        NewPriorityCmd(),
        NewCompactCmd(),
        NewSnapshotCmd(),
        NewConfigureCmd(false),
        NewConfigureCmd(true),
    )
}

// NewPartitionCommand returns a parent command "partition" containing all
// subcommands, for embedding in other CLIs.
func NewPartitionCommand() *cobra.Command {
    parent := &cobra.Command{Use: "partition", Short: "partition replica commands"}
    AddAll(parent)
    return parent
}

// NewRunCmd returns the "run" command used to start a partition replica.
// Flags override values loaded from --config.
func NewRunCmd() *cobra.Command {
    var (
        configPath, membersCSV string
        cfg                    bootstrap.Config
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a partition replica",
        RunE: func(cmd *cobra.Command, args []string) error {
            base := bootstrap.Config{}
            if configPath != "" {
                loaded, err := bootstrap.Load(configPath)
                if err != nil { return err }
                base = loaded
            }
            if err := overrideFromFlags(cmd, &base, &cfg, membersCSV); err != nil { return err }

            ctx, cancel := signalContext()
            defer cancel()
            n, err := bootstrap.Run(ctx, base)
            if err != nil { return err }
            defer n.Close()

            fmt.Printf("partition %d member %s running. Press Ctrl+C to exit.\n", base.PartitionID, base.MemberID)
            <-ctx.Done()
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&configPath, "config", "", "YAML config file")
    f.IntVar(&cfg.PartitionID, "partition", 1, "partition id")
    f.StringVar(&cfg.MemberID, "id", "", "member id (required)")
    f.StringVar(&membersCSV, "members", "", "initial members as id=host:port,... (partition RPC addresses)")
    f.StringVar(&cfg.RaftAddr, "raft-addr", ":9520", "partition RPC bind addr (tcp)")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17946", "management HTTP address, empty to disable")
    f.StringVar(&cfg.DataDir, "data", "", "data dir for log, state and snapshots (empty: in-memory)")
    f.IntVar(&cfg.SnapshotsRetained, "snapshots-retained", 2, "snapshots kept on disk")
    f.DurationVar(&cfg.ElectionTimeout, "election-timeout", time.Second, "base election timeout")
    f.DurationVar(&cfg.HeartbeatInterval, "heartbeat", 250*time.Millisecond, "leader heartbeat interval")
    f.DurationVar(&cfg.RequestTimeout, "request-timeout", time.Second, "partition RPC timeout")
    f.Uint64Var(&cfg.ReplicationThreshold, "replication-threshold", 0, "log entries kept below the compactable index")
    f.DurationVar(&cfg.CompactionInterval, "compaction-interval", 0, "periodic compaction from snapshots (0 disables)")
    f.BoolVar(&cfg.PriorityElection.Enabled, "priority-election", false, "enable priority election")
    f.IntVar(&cfg.PriorityElection.TargetPriority, "target-priority", 0, "initial target priority (highest priority in the partition)")
    f.IntVar(&cfg.PriorityElection.NodePriority, "node-priority", 0, "priority of this member")
    f.StringVar(&cfg.PrimaryMemberID, "primary", "", "designated primary member")
    f.BoolVar(&cfg.Trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    f.StringVar(&cfg.Discovery.Kind, "discovery", "", "member address source for members without one: static|file|dns")
    f.StringVar(&cfg.Discovery.Path, "discovery-file", "", "file or glob of id=host:port lines (file discovery)")
    f.StringVar(&cfg.Discovery.Env, "discovery-env", "", "env var overriding the discovery file")
    f.StringVar(&cfg.Discovery.Template, "dns-template", "", "DNS name per member id, e.g. %s.partition.svc (dns discovery)")
    f.IntVar(&cfg.Discovery.Port, "dns-port", 9520, "RPC port for A/AAAA answers (dns discovery)")
    bindTLSFlags(cmd, &cfg.TLS)
    return cmd
}

// overrideFromFlags copies every flag the user set from flags into cfg; with
// no config file all flags apply, defaults included.
func overrideFromFlags(cmd *cobra.Command, cfg, flags *bootstrap.Config, membersCSV string) error {
    all := cfg.MemberID == "" && cfg.Members == nil
    set := func(name string) bool { return all || cmd.Flags().Changed(name) }
    if set("partition") { cfg.PartitionID = flags.PartitionID }
    if set("id") { cfg.MemberID = flags.MemberID }
    if set("members") && membersCSV != "" {
        m, err := bootstrap.ParseMembers(membersCSV)
        if err != nil { return err }
        cfg.Members = m
    }
    if set("raft-addr") { cfg.RaftAddr = flags.RaftAddr }
    if set("mgmt-addr") { cfg.MgmtAddr = flags.MgmtAddr }
    if set("data") { cfg.DataDir = flags.DataDir }
    if set("snapshots-retained") { cfg.SnapshotsRetained = flags.SnapshotsRetained }
    if set("election-timeout") { cfg.ElectionTimeout = flags.ElectionTimeout }
    if set("heartbeat") { cfg.HeartbeatInterval = flags.HeartbeatInterval }
    if set("request-timeout") { cfg.RequestTimeout = flags.RequestTimeout }
    if set("replication-threshold") { cfg.ReplicationThreshold = flags.ReplicationThreshold }
    if set("compaction-interval") { cfg.CompactionInterval = flags.CompactionInterval }
    if set("priority-election") { cfg.PriorityElection.Enabled = flags.PriorityElection.Enabled }
    if set("target-priority") { cfg.PriorityElection.TargetPriority = flags.PriorityElection.TargetPriority }
    if set("node-priority") { cfg.PriorityElection.NodePriority = flags.PriorityElection.NodePriority }
    if set("primary") { cfg.PrimaryMemberID = flags.PrimaryMemberID }
    if set("trace") { cfg.Trace = flags.Trace }
    if set("tls-enable") { cfg.TLS = flags.TLS }
    if set("discovery") { cfg.Discovery.Kind = flags.Discovery.Kind }
    if set("discovery-file") { cfg.Discovery.Path = flags.Discovery.Path }
    if set("discovery-env") { cfg.Discovery.Env = flags.Discovery.Env }
    if set("dns-template") { cfg.Discovery.Template = flags.Discovery.Template }
    if set("dns-port") { cfg.Discovery.Port = flags.Discovery.Port }
    if cfg.Members == nil && cfg.MemberID != "" {
        // single member partition
        cfg.Members = map[string]string{cfg.MemberID: cfg.RaftAddr}
    }
    return nil
}

func bindTLSFlags(cmd *cobra.Command, o *tlsx.Options) {
    f := cmd.Flags()
    f.BoolVar(&o.Enable, "tls-enable", false, "enable mTLS")
    f.StringVar(&o.CAFile, "tls-ca", "", "path to CA cert (PEM)")
    f.StringVar(&o.CertFile, "tls-cert", "", "path to certificate (PEM)")
    f.StringVar(&o.KeyFile, "tls-key", "", "path to private key (PEM)")
    f.BoolVar(&o.InsecureSkipVerify, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    f.StringVar(&o.ServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

// target holds the flags every management command shares.
type target struct {
    addr      string
    partition int
    timeout   time.Duration
    tls       tlsx.Options
}

func (t *target) bind(cmd *cobra.Command) {
    cmd.Flags().StringVar(&t.addr, "addr", "127.0.0.1:17946", "management HTTP address of a node (host:port)")
    cmd.Flags().IntVar(&t.partition, "partition", 0, "partition id (required when the node serves several)")
    cmd.Flags().DurationVar(&t.timeout, "timeout", 5*time.Second, "request timeout")
    bindTLSFlags(cmd, &t.tls)
}

func (t *target) client() (*httpjson.Client, context.Context, context.CancelFunc, error) {
    c := httpjson.NewClient(t.timeout)
    if t.tls.Enable {
        cfg, err := t.tls.Client()
        if err != nil { return nil, nil, nil, fmt.Errorf("tls client config: %w", err) }
        c.UseTLS(cfg)
    }
    ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
    return c, ctx, cancel, nil
}

func printJSON(v any) error {
    enc := json.NewEncoder(os.Stdout)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var t target
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch partition status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            c, ctx, cancel, err := t.client()
            if err != nil { return err }
            defer cancel()
            st, err := c.Status(ctx, t.addr, t.partition)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            return printJSON(st)
        },
    }
    t.bind(cmd)
    return cmd
}

// NewStepDownCmd returns the "step-down" command.
func NewStepDownCmd() *cobra.Command {
    var t target
    cmd := &cobra.Command{
        Use:   "step-down",
        Short: "Ask the leader at --addr to step down",
        RunE: func(cmd *cobra.Command, args []string) error {
            c, ctx, cancel, err := t.client()
            if err != nil { return err }
            defer cancel()
            if err := c.StepDown(ctx, t.addr, t.partition); err != nil { return fmt.Errorf("step-down error: %w", err) }
            fmt.Println("ok")
            return nil
        },
    }
    t.bind(cmd)
    return cmd
}

// NewPriorityCmd returns the "priority" command.
func NewPriorityCmd() *cobra.Command {
    var t target
    cmd := &cobra.Command{
        Use:   "priority <n>",
        Short: "Change the election priority of the member at --addr",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            var p int
            if _, err := fmt.Sscanf(args[0], "%d", &p); err != nil || p < 0 { return fmt.Errorf("invalid priority %q", args[0]) }
            c, ctx, cancel, err := t.client()
            if err != nil { return err }
            defer cancel()
            if err := c.SetPriority(ctx, t.addr, t.partition, p); err != nil { return fmt.Errorf("priority error: %w", err) }
            fmt.Println("ok")
            return nil
        },
    }
    t.bind(cmd)
    return cmd
}

// NewCompactCmd returns the "compact" command.
func NewCompactCmd() *cobra.Command {
    var (
        t   target
        req httpjson.CompactRequest
    )
    cmd := &cobra.Command{
        Use:   "compact",
        Short: "Compact the log of the member at --addr",
        RunE: func(cmd *cobra.Command, args []string) error {
            c, ctx, cancel, err := t.client()
            if err != nil { return err }
            defer cancel()
            res, err := c.Compact(ctx, t.addr, t.partition, req)
            if err != nil { return fmt.Errorf("compact error: %w", err) }
            return printJSON(res)
        },
    }
    t.bind(cmd)
    cmd.Flags().Uint64Var(&req.Index, "index", 0, "raise the compactable index first")
    cmd.Flags().BoolVar(&req.IgnoreThreshold, "ignore-threshold", false, "do not keep the replication threshold")
    return cmd
}

// NewSnapshotCmd returns the "snapshot" command.
func NewSnapshotCmd() *cobra.Command {
    var (
        t   target
        req httpjson.SnapshotRequest
    )
    cmd := &cobra.Command{
        Use:   "snapshot",
        Short: "Persist a snapshot at the end of the log; compaction follows",
        RunE: func(cmd *cobra.Command, args []string) error {
            c, ctx, cancel, err := t.client()
            if err != nil { return err }
            defer cancel()
            snap, err := c.Snapshot(ctx, t.addr, t.partition, req)
            if err != nil { return fmt.Errorf("snapshot error: %w", err) }
            return printJSON(snap)
        },
    }
    t.bind(cmd)
    cmd.Flags().Uint64Var(&req.ProcessedPosition, "processed", 0, "processed position recorded in the snapshot")
    cmd.Flags().Uint64Var(&req.ExportedPosition, "exported", 0, "exported position recorded in the snapshot")
    return cmd
}

// NewConfigureCmd returns "configure" (joint consensus, sent to the leader)
// or, with force, "force-configure".
func NewConfigureCmd(force bool) *cobra.Command {
    var t target
    use, short := "configure", "Change the member set through joint consensus (leader only)"
    if force { use, short = "force-configure", "Install a member set without joint consensus" }
    cmd := &cobra.Command{
        Use:   use + " <member,member,...>",
        Short: short,
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            var members []consensus.MemberID
            for _, m := range strings.Split(args[0], ",") {
                if m = strings.TrimSpace(m); m != "" { members = append(members, consensus.MemberID(m)) }
            }
            if len(members) == 0 { return fmt.Errorf("no members given") }
            c, ctx, cancel, err := t.client()
            if err != nil { return err }
            defer cancel()
            if force {
                err = c.ForceConfigure(ctx, t.addr, t.partition, members)
            } else {
                err = c.Configure(ctx, t.addr, t.partition, members)
            }
            if err != nil { return fmt.Errorf("%s error: %w", use, err) }
            fmt.Println("ok")
            return nil
        },
    }
    t.bind(cmd)
    return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
