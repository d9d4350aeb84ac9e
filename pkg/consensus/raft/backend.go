package raftcons

import (
    "bytes"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sort"
    "sync"
    "time"

    "github.com/hashicorp/raft"
)

// snapshotBackend is a raft.SnapshotStore that lets SnapshotStore remove
// snapshots itself, so retention can skip reserved ones.
type snapshotBackend interface {
    raft.SnapshotStore
    Delete(id string) error
}

// retainAll disables the file store's own reaping.
const retainAll = 1 << 20

// fileSnapshots wraps raft.FileSnapshotStore.
type fileSnapshots struct {
    *raft.FileSnapshotStore
    dir string
}

func newFileSnapshots(base string, logOutput io.Writer) (*fileSnapshots, error) {
    fs, err := raft.NewFileSnapshotStore(base, retainAll, logOutput)
    if err != nil { return nil, err }
    // same layout raft.FileSnapshotStore uses
    return &fileSnapshots{FileSnapshotStore: fs, dir: filepath.Join(base, "snapshots")}, nil
}

func (f *fileSnapshots) Delete(id string) error {
    return os.RemoveAll(filepath.Join(f.dir, id))
}

// memSnapshots keeps every snapshot in memory until deleted, unlike
// raft.InmemSnapshotStore which only keeps the newest one.
type memSnapshots struct {
    mu    sync.Mutex
    snaps map[string]*memSnapshot
}

type memSnapshot struct {
    meta raft.SnapshotMeta
    data []byte
}

func newMemSnapshots() *memSnapshots { return &memSnapshots{snaps: map[string]*memSnapshot{}} }

func (m *memSnapshots) Create(version raft.SnapshotVersion, index, term uint64, configuration raft.Configuration, configurationIndex uint64, _ raft.Transport) (raft.SnapshotSink, error) {
    id := fmt.Sprintf("%d-%d-%d", term, index, time.Now().UnixNano())
    return &memSink{store: m, snap: &memSnapshot{meta: raft.SnapshotMeta{
        Version:            version,
        ID:                 id,
        Index:              index,
        Term:               term,
        Configuration:      configuration,
        ConfigurationIndex: configurationIndex,
    }}}, nil
}

// List returns snapshots newest first.
func (m *memSnapshots) List() ([]*raft.SnapshotMeta, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := make([]*raft.SnapshotMeta, 0, len(m.snaps))
    for _, s := range m.snaps {
        meta := s.meta
        out = append(out, &meta)
    }
    sort.Slice(out, func(i, j int) bool {
        a, b := out[i], out[j]
        if a.Term != b.Term { return a.Term > b.Term }
        if a.Index != b.Index { return a.Index > b.Index }
        return a.ID > b.ID
    })
    return out, nil
}

func (m *memSnapshots) Open(id string) (*raft.SnapshotMeta, io.ReadCloser, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s, ok := m.snaps[id]
    if !ok { return nil, nil, fmt.Errorf("[ERR] snapshot: failed to open snapshot id: %s", id) }
    meta := s.meta
    return &meta, io.NopCloser(bytes.NewReader(s.data)), nil
}

func (m *memSnapshots) Delete(id string) error {
    m.mu.Lock()
    delete(m.snaps, id)
    m.mu.Unlock()
    return nil
}

type memSink struct {
    store *memSnapshots
    snap  *memSnapshot
    buf   bytes.Buffer
    done  bool
}

func (s *memSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *memSink) Close() error {
    if s.done { return nil }
    s.done = true
    s.snap.data = s.buf.Bytes()
    s.snap.meta.Size = int64(len(s.snap.data))
    s.store.mu.Lock()
    s.store.snaps[s.snap.meta.ID] = s.snap
    s.store.mu.Unlock()
    return nil
}

func (s *memSink) ID() string { return s.snap.meta.ID }

func (s *memSink) Cancel() error {
    s.done = true
    return nil
}
