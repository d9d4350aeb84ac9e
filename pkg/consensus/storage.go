package consensus

// Log is the part of the replicated log that compaction needs.
type Log interface {
    // DeleteUntil removes entries below index and reports whether anything
    // was deleted.
    DeleteUntil(index uint64) bool
}

// PersistedSnapshot describes a snapshot that has been durably stored.
type PersistedSnapshot struct {
    ID                string `json:"id"`
    Index             uint64 `json:"index"`
    Term              uint64 `json:"term"`
    ProcessedPosition uint64 `json:"processedPosition"`
    ExportedPosition  uint64 `json:"exportedPosition"`
}

// SnapshotInfo is a persisted snapshot together with its reservation state. A
// reserved snapshot is pinned: the log must not be compacted past it.
type SnapshotInfo struct {
    PersistedSnapshot
    Reserved bool
}

// SnapshotStore enumerates persisted snapshots.
type SnapshotStore interface {
    Snapshots() []SnapshotInfo
    LatestSnapshot() (PersistedSnapshot, bool)
}
