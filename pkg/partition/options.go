package partition

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/consensus/election"
    raftcons "github.com/amirimatin/go-partition/pkg/consensus/raft"
    "github.com/amirimatin/go-partition/pkg/threadctx"
    "github.com/amirimatin/go-partition/pkg/transport"
)

// Log is the replicated log as seen by the partition.
type Log interface {
    consensus.Log
    Append(term uint64, typ raftcons.EntryType, data []byte) (uint64, error)
    FirstIndex() uint64
    LastIndex() uint64
    LastTerm() uint64
}

// SnapshotStore is the snapshot store as seen by the partition.
type SnapshotStore interface {
    consensus.SnapshotStore
    Create(index, term, processed, exported uint64, data []byte) (consensus.PersistedSnapshot, error)
    AddListener(fn func(consensus.PersistedSnapshot))
}

// MetaStore persists the current term, vote and configuration.
type MetaStore interface {
    Term() (uint64, error)
    SetTerm(term uint64) error
    Vote(term uint64) (consensus.MemberID, error)
    SetVote(term uint64, candidate consensus.MemberID) error
    Configuration() (consensus.Configuration, bool, error)
    SetConfiguration(cfg consensus.Configuration) error
}

// Options configure a Partition. Zero durations take defaults; nil stores
// fall back to in-memory raft stores.
type Options struct {
    PartitionID int
    MemberID    consensus.MemberID
    // Members is the initial configuration, used until the log holds one.
    Members []consensus.MemberID

    Election        election.Config
    PrimaryMemberID consensus.MemberID

    // ElectionTimeout is the base timeout of the election timer.
    ElectionTimeout   time.Duration
    HeartbeatInterval time.Duration
    // RequestTimeout bounds every outgoing RPC.
    RequestTimeout time.Duration

    ReplicationThreshold uint64
    // CompactionInterval schedules maintenance compaction; zero disables it.
    CompactionInterval time.Duration

    Log       Log
    Snapshots SnapshotStore
    Meta      MetaStore
    Transport transport.Transport

    // Context owns all partition state. When nil a SingleThread context is
    // created and closed on Stop.
    Context threadctx.Context
    Logger  *log.Logger
}

// Validate checks required fields and fills defaults.
func (o *Options) Validate() error {
    if o.MemberID == "" { return errors.New("partition: empty MemberID") }
    if len(o.Members) == 0 { return errors.New("partition: empty member set") }
    if o.Transport == nil { return errors.New("partition: nil Transport") }
    if o.Election.PriorityElectionEnabled && o.Election.InitialTargetPriority < 1 {
        return election.ErrInvalidPriority
    }
    if o.ElectionTimeout <= 0 { o.ElectionTimeout = time.Second }
    if o.HeartbeatInterval <= 0 { o.HeartbeatInterval = o.ElectionTimeout / 4 }
    if o.HeartbeatInterval >= o.ElectionTimeout { return errors.New("partition: heartbeat interval must be below election timeout") }
    if o.RequestTimeout <= 0 { o.RequestTimeout = o.ElectionTimeout }
    if o.Logger == nil { o.Logger = log.Default() }
    return nil
}
