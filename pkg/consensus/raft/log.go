package raftcons

import (
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/hashicorp/raft"

    "github.com/amirimatin/go-partition/pkg/internal/logutil"
)

// EntryType classifies log entries written by the partition.
type EntryType = raft.LogType

const (
    // EntryNoop is appended by a new leader to open its term.
    EntryNoop = raft.LogNoop
    // EntryConfiguration carries a JSON encoded consensus.Configuration.
    EntryConfiguration = raft.LogConfiguration
    // EntryCommand carries opaque application data.
    EntryCommand = raft.LogCommand
)

// Log is a partition log on top of a raft.LogStore. The store itself is safe
// for concurrent use; Log serializes appends so indexes stay contiguous.
type Log struct {
    store  raft.LogStore
    logger *log.Logger

    mu        sync.Mutex
    lastIndex uint64
    lastTerm  uint64
}

func NewLog(store raft.LogStore, logger *log.Logger) (*Log, error) {
    l := &Log{store: store, logger: logger}
    last, err := store.LastIndex()
    if err != nil { return nil, fmt.Errorf("raftcons: last index: %w", err) }
    if last > 0 {
        var e raft.Log
        if err := store.GetLog(last, &e); err != nil { return nil, fmt.Errorf("raftcons: read entry %d: %w", last, err) }
        l.lastIndex, l.lastTerm = last, e.Term
    }
    return l, nil
}

// Append writes one entry after the current last entry and returns its index.
func (l *Log) Append(term uint64, typ EntryType, data []byte) (uint64, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if term < l.lastTerm { return 0, fmt.Errorf("raftcons: append term %d below last term %d", term, l.lastTerm) }
    e := &raft.Log{Index: l.lastIndex + 1, Term: term, Type: typ, Data: data, AppendedAt: time.Now()}
    if err := l.store.StoreLog(e); err != nil { return 0, err }
    l.lastIndex, l.lastTerm = e.Index, e.Term
    return e.Index, nil
}

// Entry reads the entry at index.
func (l *Log) Entry(index uint64) (*raft.Log, error) {
    var e raft.Log
    if err := l.store.GetLog(index, &e); err != nil {
        if errors.Is(err, raft.ErrLogNotFound) { return nil, ErrEntryNotFound }
        return nil, err
    }
    return &e, nil
}

var ErrEntryNotFound = errors.New("raftcons: log entry not found")

func (l *Log) LastIndex() uint64 {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.lastIndex
}

func (l *Log) LastTerm() uint64 {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.lastTerm
}

// FirstIndex is the oldest retained index, 0 when the log is empty.
func (l *Log) FirstIndex() uint64 {
    first, err := l.store.FirstIndex()
    if err != nil { return 0 }
    return first
}

// DeleteUntil removes entries below index. The last entry is always kept so
// the log position survives full compaction.
func (l *Log) DeleteUntil(index uint64) bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    first, err := l.store.FirstIndex()
    if err != nil {
        logutil.Errorf(l.logger, "compaction: read first index: %v", err)
        return false
    }
    if first == 0 { return false }
    until := index
    if until > l.lastIndex { until = l.lastIndex }
    if until <= first { return false }
    if err := l.store.DeleteRange(first, until-1); err != nil {
        logutil.Errorf(l.logger, "compaction: delete entries %d..%d: %v", first, until-1, err)
        return false
    }
    return true
}
