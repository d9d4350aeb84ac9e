// Package raftcons stores a partition's log, persistent election state and
// snapshots in hashicorp raft stores: raft-boltdb on disk or the raft
// in-memory stores for tests.
package raftcons

import (
    "io"
    "log"
    "os"
    "path/filepath"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Storage bundles the stores of one partition replica.
type Storage struct {
    Log       *Log
    Snapshots *SnapshotStore
    Meta      *Meta
    closer    io.Closer
}

// Open creates or reopens the stores selected by opts.
func Open(opts Options) (*Storage, error) {
    if opts.Logger == nil { opts.Logger = log.Default() }
    if opts.SnapshotsRetained <= 0 { opts.SnapshotsRetained = 2 }
    var (
        logs   raft.LogStore
        stable raft.StableStore
        snaps  snapshotBackend
        closer io.Closer
    )
    // Storage selection: on-disk when DataDir provided, else in-memory.
    if opts.DataDir != "" {
        if err := os.MkdirAll(opts.DataDir, 0o755); err != nil { return nil, err }
        // Bolt store for both log and stable
        bstore, err := raftboltdb.NewBoltStore(filepath.Join(opts.DataDir, "partition.db"))
        if err != nil { return nil, err }
        logs, stable, closer = bstore, bstore, bstore
        snaps, err = newFileSnapshots(opts.DataDir, opts.Logger.Writer())
        if err != nil {
            _ = bstore.Close()
            return nil, err
        }
    } else {
        logs = raft.NewInmemStore()
        stable = raft.NewInmemStore()
        snaps = newMemSnapshots()
    }
    l, err := NewLog(logs, opts.Logger)
    if err != nil {
        if closer != nil { _ = closer.Close() }
        return nil, err
    }
    return &Storage{
        Log:       l,
        Snapshots: newSnapshotStore(snaps, opts.SnapshotsRetained, opts.Logger),
        Meta:      NewMeta(stable),
        closer:    closer,
    }, nil
}

func (s *Storage) Close() error {
    if s.closer == nil { return nil }
    return s.closer.Close()
}
