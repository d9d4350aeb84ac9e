// Package compaction truncates a partition's replicated log up to the point
// covered by persisted snapshots, keeping a tail of entries for replication.
package compaction

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/threadctx"
)

// Metrics receives compaction measurements.
type Metrics interface {
    ObserveCompaction(d time.Duration, deleted bool)
    SetCompactableIndex(index uint64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCompaction(time.Duration, bool) {}
func (noopMetrics) SetCompactableIndex(uint64)            {}

// Options configure a LogCompactor.
type Options struct {
    Context threadctx.Context
    Log     consensus.Log
    // ReplicationThreshold is the number of entries kept below the
    // compactable index so lagging followers can catch up from the log
    // instead of needing a snapshot.
    ReplicationThreshold uint64
    Metrics              Metrics
    Logger               *log.Logger
}

// LogCompactor deletes log entries below the compactable index. Every
// method must run on the owning context.
type LogCompactor struct {
    ctx       threadctx.Context
    log       consensus.Log
    threshold uint64
    metrics   Metrics
    logger    *log.Logger

    compactableIndex uint64
}

func New(opts Options) (*LogCompactor, error) {
    if opts.Context == nil { return nil, errors.New("compaction: context is required") }
    if opts.Log == nil { return nil, errors.New("compaction: log is required") }
    if opts.Metrics == nil { opts.Metrics = noopMetrics{} }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &LogCompactor{
        ctx:       opts.Context,
        log:       opts.Log,
        threshold: opts.ReplicationThreshold,
        metrics:   opts.Metrics,
        logger:    opts.Logger,
    }, nil
}

// SetCompactableIndex raises the compactable index. Lower values are ignored.
func (c *LogCompactor) SetCompactableIndex(index uint64) {
    c.ctx.CheckThread()
    if index <= c.compactableIndex { return }
    c.compactableIndex = index
    c.metrics.SetCompactableIndex(index)
}

func (c *LogCompactor) CompactableIndex() uint64 { return c.compactableIndex }

// Compact deletes entries up to the compactable index minus the replication
// threshold and reports whether anything was deleted.
func (c *LogCompactor) Compact() bool {
    c.ctx.CheckThread()
    var until uint64
    if c.compactableIndex > c.threshold { until = c.compactableIndex - c.threshold }
    return c.deleteUntil(until)
}

// CompactIgnoringReplicationThreshold deletes everything up to the
// compactable index. It frees space when the disk is full.
func (c *LogCompactor) CompactIgnoringReplicationThreshold() bool {
    c.ctx.CheckThread()
    return c.deleteUntil(c.compactableIndex)
}

// CompactFromSnapshots bounds compaction by the oldest reserved snapshot, or
// by the latest snapshot when none is reserved, and compacts. The snapshot
// bound replaces the compactable index even when it is lower: a reserved
// snapshot must stay covered by the log.
func (c *LogCompactor) CompactFromSnapshots(store consensus.SnapshotStore) bool {
    c.ctx.CheckThread()
    index, ok := compactableFrom(store)
    if !ok {
        logutil.Debugf(c.logger, "compaction: no persisted snapshot, nothing to compact")
        return false
    }
    c.compactableIndex = index
    c.metrics.SetCompactableIndex(index)
    return c.Compact()
}

func compactableFrom(store consensus.SnapshotStore) (uint64, bool) {
    var (
        min   uint64
        found bool
    )
    for _, s := range store.Snapshots() {
        if !s.Reserved { continue }
        if !found || s.Index < min {
            min = s.Index
            found = true
        }
    }
    if found { return min, true }
    latest, ok := store.LatestSnapshot()
    if !ok { return 0, false }
    return latest.Index, true
}

func (c *LogCompactor) deleteUntil(index uint64) bool {
    start := time.Now()
    deleted := c.log.DeleteUntil(index)
    c.metrics.ObserveCompaction(time.Since(start), deleted)
    if deleted {
        logutil.Debugf(c.logger, "compaction: deleted log entries below index %d", index)
    }
    return deleted
}
