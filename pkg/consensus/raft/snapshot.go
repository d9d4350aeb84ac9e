package raftcons

import (
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log"
    "sync"

    "github.com/hashicorp/raft"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
)

// envelope is the payload written into a raft snapshot sink.
type envelope struct {
    ProcessedPosition uint64 `json:"processedPosition"`
    ExportedPosition  uint64 `json:"exportedPosition"`
    Data              []byte `json:"data,omitempty"`
}

// SnapshotStore persists snapshots in a raft snapshot store and tracks which
// of them are reserved. It owns retention: after each snapshot only the newest
// retain snapshots and every reserved one are kept. Listeners are notified
// after each persisted snapshot.
type SnapshotStore struct {
    store  snapshotBackend
    retain int
    logger *log.Logger

    mu        sync.Mutex
    positions map[string]envelope
    reserved  map[string]int
    listeners []func(consensus.PersistedSnapshot)
}

func newSnapshotStore(store snapshotBackend, retain int, logger *log.Logger) *SnapshotStore {
    if retain < 1 { retain = 1 }
    return &SnapshotStore{store: store, retain: retain, logger: logger, positions: map[string]envelope{}, reserved: map[string]int{}}
}

// Create persists a snapshot taken at (index, term).
func (s *SnapshotStore) Create(index, term, processed, exported uint64, data []byte) (consensus.PersistedSnapshot, error) {
    sink, err := s.store.Create(raft.SnapshotVersionMax, index, term, raft.Configuration{}, 0, nil)
    if err != nil { return consensus.PersistedSnapshot{}, fmt.Errorf("raftcons: create snapshot: %w", err) }
    env := envelope{ProcessedPosition: processed, ExportedPosition: exported, Data: data}
    if err := json.NewEncoder(sink).Encode(env); err != nil {
        _ = sink.Cancel()
        return consensus.PersistedSnapshot{}, fmt.Errorf("raftcons: write snapshot: %w", err)
    }
    if err := sink.Close(); err != nil { return consensus.PersistedSnapshot{}, fmt.Errorf("raftcons: persist snapshot: %w", err) }
    snap := consensus.PersistedSnapshot{ID: sink.ID(), Index: index, Term: term, ProcessedPosition: processed, ExportedPosition: exported}
    s.mu.Lock()
    env.Data = nil
    s.positions[snap.ID] = env
    s.reap()
    listeners := append([]func(consensus.PersistedSnapshot){}, s.listeners...)
    s.mu.Unlock()
    for _, fn := range listeners { fn(snap) }
    return snap, nil
}

// reap deletes unreserved snapshots older than the newest retain ones.
// Callers hold s.mu.
func (s *SnapshotStore) reap() {
    metas, err := s.store.List()
    if err != nil {
        logutil.Warnf(s.logger, "list snapshots for retention: %v", err)
        return
    }
    for i := s.retain; i < len(metas); i++ {
        id := metas[i].ID
        if s.reserved[id] > 0 { continue }
        if err := s.store.Delete(id); err != nil {
            logutil.Warnf(s.logger, "delete snapshot %s: %v", id, err)
            continue
        }
        delete(s.positions, id)
        logutil.Debugf(s.logger, "reaped snapshot %s", id)
    }
}

// AddListener registers fn to be called after every persisted snapshot.
func (s *SnapshotStore) AddListener(fn func(consensus.PersistedSnapshot)) {
    s.mu.Lock()
    s.listeners = append(s.listeners, fn)
    s.mu.Unlock()
}

// Reserve pins a snapshot so compaction does not pass its index. The returned
// release function drops the reservation; calling it more than once is a no-op.
func (s *SnapshotStore) Reserve(id string) (func(), error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    metas, err := s.store.List()
    if err != nil { return nil, err }
    found := false
    for _, m := range metas {
        if m.ID == id { found = true; break }
    }
    if !found { return nil, ErrSnapshotNotFound }
    s.reserved[id]++
    var once sync.Once
    return func() {
        once.Do(func() {
            s.mu.Lock()
            defer s.mu.Unlock()
            if s.reserved[id]--; s.reserved[id] <= 0 { delete(s.reserved, id) }
        })
    }, nil
}

var ErrSnapshotNotFound = errors.New("raftcons: snapshot not found")

// Snapshots lists persisted snapshots, newest first.
func (s *SnapshotStore) Snapshots() []consensus.SnapshotInfo {
    metas, err := s.store.List()
    if err != nil { return nil }
    out := make([]consensus.SnapshotInfo, 0, len(metas))
    for _, m := range metas {
        snap, err := s.describe(m)
        if err != nil { continue }
        s.mu.Lock()
        reserved := s.reserved[m.ID] > 0
        s.mu.Unlock()
        out = append(out, consensus.SnapshotInfo{PersistedSnapshot: snap, Reserved: reserved})
    }
    return out
}

func (s *SnapshotStore) LatestSnapshot() (consensus.PersistedSnapshot, bool) {
    metas, err := s.store.List()
    if err != nil || len(metas) == 0 { return consensus.PersistedSnapshot{}, false }
    snap, err := s.describe(metas[0])
    if err != nil { return consensus.PersistedSnapshot{}, false }
    return snap, true
}

// Open returns a snapshot's descriptor and application data.
func (s *SnapshotStore) Open(id string) (consensus.PersistedSnapshot, []byte, error) {
    meta, env, err := s.read(id)
    if err != nil { return consensus.PersistedSnapshot{}, nil, err }
    return toPersisted(meta, env), env.Data, nil
}

func (s *SnapshotStore) describe(m *raft.SnapshotMeta) (consensus.PersistedSnapshot, error) {
    s.mu.Lock()
    env, ok := s.positions[m.ID]
    s.mu.Unlock()
    if !ok {
        var err error
        if _, env, err = s.read(m.ID); err != nil { return consensus.PersistedSnapshot{}, err }
        env.Data = nil
        s.mu.Lock()
        s.positions[m.ID] = env
        s.mu.Unlock()
    }
    return toPersisted(m, env), nil
}

func (s *SnapshotStore) read(id string) (*raft.SnapshotMeta, envelope, error) {
    meta, rc, err := s.store.Open(id)
    if err != nil { return nil, envelope{}, fmt.Errorf("raftcons: open snapshot %s: %w", id, err) }
    defer rc.Close()
    var env envelope
    if err := json.NewDecoder(io.LimitReader(rc, meta.Size)).Decode(&env); err != nil {
        return nil, envelope{}, fmt.Errorf("raftcons: decode snapshot %s: %w", id, err)
    }
    return meta, env, nil
}

func toPersisted(m *raft.SnapshotMeta, env envelope) consensus.PersistedSnapshot {
    return consensus.PersistedSnapshot{
        ID:                m.ID,
        Index:             m.Index,
        Term:              m.Term,
        ProcessedPosition: env.ProcessedPosition,
        ExportedPosition:  env.ExportedPosition,
    }
}

var _ consensus.SnapshotStore = (*SnapshotStore)(nil)
var _ consensus.Log = (*Log)(nil)
