package raftcons

import "log"

// Options configure the raft-backed partition storage.
type Options struct {
    // DataDir selects on-disk stores when non-empty (bolt store for log and
    // stable state, file snapshot store). When empty, in-memory stores are used.
    DataDir string

    // SnapshotsRetained is how many of the newest snapshots are kept besides
    // the reserved ones; zero defaults to 2.
    SnapshotsRetained int

    Logger *log.Logger
}
