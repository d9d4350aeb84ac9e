package bootstrap

import (
    "errors"
    "fmt"
    "log"
    "os"
    "sort"
    "strings"
    "time"

    "github.com/go-playground/validator/v10"
    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/consensus/election"
    "github.com/amirimatin/go-partition/pkg/discovery"
    "github.com/amirimatin/go-partition/pkg/discovery/dns"
    "github.com/amirimatin/go-partition/pkg/discovery/file"
    "github.com/amirimatin/go-partition/pkg/discovery/static"
    tlsx "github.com/amirimatin/go-partition/pkg/security/tlsconfig"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("bootstrap: invalid config")

var validate = validator.New()

// Config defines the inputs to assemble a partition replica. It is loaded
// from YAML and may be overridden by CLI flags.
type Config struct {
    PartitionID int    `yaml:"partitionId" validate:"gte=1"`
    MemberID    string `yaml:"memberId" validate:"required"`
    // Members maps every member id of the initial configuration to its
    // partition RPC (gRPC) address. Addresses may be left empty when a file
    // or dns discovery source supplies them.
    Members   map[string]string `yaml:"members" validate:"required,min=1,dive,keys,required,endkeys"`
    Discovery Discovery         `yaml:"discovery"`

    PriorityElection PriorityElection `yaml:"priorityElection"`
    PrimaryMemberID  string           `yaml:"primaryMemberId"`

    ElectionTimeout      time.Duration `yaml:"electionTimeout" validate:"gte=0"`
    HeartbeatInterval    time.Duration `yaml:"heartbeatInterval" validate:"gte=0"`
    RequestTimeout       time.Duration `yaml:"requestTimeout" validate:"gte=0"`
    ReplicationThreshold uint64        `yaml:"replicationThreshold"`
    CompactionInterval   time.Duration `yaml:"compactionInterval" validate:"gte=0"`

    // DataDir selects on-disk storage; empty keeps everything in memory.
    DataDir           string `yaml:"dataDir"`
    SnapshotsRetained int    `yaml:"snapshotsRetained" validate:"gte=0"`

    // RaftAddr is the partition RPC bind address; MgmtAddr the management
    // HTTP address (empty disables it).
    RaftAddr string `yaml:"raftAddr" validate:"required"`
    MgmtAddr string `yaml:"mgmtAddr"`

    Trace bool         `yaml:"trace"`
    TLS   tlsx.Options `yaml:"tls"`

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger `yaml:"-"`
}

// Discovery selects where member addresses missing from Members come from.
type Discovery struct {
    Kind string `yaml:"kind" validate:"omitempty,oneof=static file dns"`
    // file: Path (file or glob of id=host:port lines) and an Env override.
    Path string `yaml:"path" validate:"required_if=Kind file"`
    Env  string `yaml:"env"`
    // dns: Template is formatted with the member id, e.g. "%s.partition.svc".
    Template string        `yaml:"template" validate:"required_if=Kind dns"`
    Port     int           `yaml:"port" validate:"gte=0,lte=65535"`
    Refresh  time.Duration `yaml:"refresh" validate:"gte=0"`
}

// Resolver builds the configured resolver, or nil for static addressing.
func (d Discovery) Resolver(logger *log.Logger) discovery.Resolver {
    switch d.Kind {
    case "file":
        return file.New(file.Options{Path: d.Path, Env: d.Env, Refresh: d.Refresh})
    case "dns":
        return dns.New(dns.Options{Template: d.Template, Port: d.Port, Refresh: d.Refresh, Logger: logger})
    }
    return nil
}

type PriorityElection struct {
    Enabled        bool `yaml:"enabled"`
    TargetPriority int  `yaml:"targetPriority" validate:"gte=0"`
    NodePriority   int  `yaml:"nodePriority" validate:"gte=0"`
}

// ElectionConfig converts the YAML section into the election package config.
func (p PriorityElection) ElectionConfig() election.Config {
    return election.Config{PriorityElectionEnabled: p.Enabled, InitialTargetPriority: p.TargetPriority, NodePriority: p.NodePriority}
}

// Load reads a YAML config file. The result is not validated so flags can
// still override it.
func Load(path string) (Config, error) {
    var cfg Config
    data, err := os.ReadFile(path)
    if err != nil { return cfg, fmt.Errorf("bootstrap: read config: %w", err) }
    if err := yaml.Unmarshal(data, &cfg); err != nil { return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err) }
    return cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
    if err := validate.Struct(c); err != nil { return fmt.Errorf("%w: %s", ErrInvalidConfig, formatValidationError(err)) }
    if _, ok := c.Members[c.MemberID]; !ok {
        return fmt.Errorf("%w: memberId %q missing from members", ErrInvalidConfig, c.MemberID)
    }
    if c.Discovery.Kind == "" || c.Discovery.Kind == "static" {
        for id, addr := range c.Members {
            if addr == "" { return fmt.Errorf("%w: member %q has no address", ErrInvalidConfig, id) }
        }
    }
    if c.PrimaryMemberID != "" {
        if _, ok := c.Members[c.PrimaryMemberID]; !ok {
            return fmt.Errorf("%w: primaryMemberId %q missing from members", ErrInvalidConfig, c.PrimaryMemberID)
        }
    }
    if c.PriorityElection.Enabled && c.PriorityElection.TargetPriority < 1 {
        return fmt.Errorf("%w: %v", ErrInvalidConfig, election.ErrInvalidPriority)
    }
    if c.HeartbeatInterval > 0 && c.ElectionTimeout > 0 && c.HeartbeatInterval >= c.ElectionTimeout {
        return fmt.Errorf("%w: heartbeatInterval must be below electionTimeout", ErrInvalidConfig)
    }
    return nil
}

// MemberIDs returns the configured members in lexical order.
func (c *Config) MemberIDs() []consensus.MemberID {
    ids := make([]consensus.MemberID, 0, len(c.Members))
    for id := range c.Members { ids = append(ids, consensus.MemberID(id)) }
    sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
    return ids
}

func formatValidationError(err error) string {
    var verrs validator.ValidationErrors
    if !errors.As(err, &verrs) { return err.Error() }
    msgs := make([]string, 0, len(verrs))
    for _, fe := range verrs {
        msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
    }
    return strings.Join(msgs, "; ")
}

// ParseMembers parses "id=host:port,id=host:port" as given on the command line.
func ParseMembers(csv string) (map[string]string, error) {
    out, err := static.Parse(csv)
    if err != nil { return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err) }
    return out, nil
}
