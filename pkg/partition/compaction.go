package partition

import (
    "context"
    "strconv"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
)

// SetCompactableIndex raises the index below which the log may be compacted.
func (p *Partition) SetCompactableIndex(ctx context.Context, index uint64) error {
    return p.call(ctx, func() {
        p.st.compactor.SetCompactableIndex(index)
        p.publish()
    })
}

// Compact truncates the log on the partition context and reports whether
// anything was deleted. With ignoreThreshold the replication threshold is
// not kept.
func (p *Partition) Compact(ctx context.Context, ignoreThreshold bool) (bool, error) {
    var deleted bool
    err := p.call(ctx, func() {
        if ignoreThreshold {
            deleted = p.st.compactor.CompactIgnoringReplicationThreshold()
        } else {
            deleted = p.st.compactor.Compact()
        }
        p.afterCompaction(deleted, "manual")
    })
    return deleted, err
}

// CompactFromSnapshots bounds compaction by the retained snapshots and compacts.
func (p *Partition) CompactFromSnapshots(ctx context.Context) (bool, error) {
    var deleted bool
    err := p.call(ctx, func() {
        deleted = p.st.compactor.CompactFromSnapshots(p.snapshots)
        p.afterCompaction(deleted, "snapshots")
    })
    return deleted, err
}

// TakeSnapshot persists a snapshot at the current end of the log. The
// snapshot listener compacts the log afterwards.
func (p *Partition) TakeSnapshot(ctx context.Context, processed, exported uint64, data []byte) (consensus.PersistedSnapshot, error) {
    var index, term uint64
    if err := p.call(ctx, func() { index, term = p.log.LastIndex(), p.log.LastTerm() }); err != nil {
        return consensus.PersistedSnapshot{}, err
    }
    return p.snapshots.Create(index, term, processed, exported, data)
}

// scheduleMaintenance compacts from snapshots every CompactionInterval.
func (p *Partition) scheduleMaintenance() {
    if p.opts.CompactionInterval <= 0 { return }
    p.st.maintain = p.ctx.Schedule(p.opts.CompactionInterval, func() {
        if p.st.halted { return }
        deleted := p.st.compactor.CompactFromSnapshots(p.snapshots)
        p.afterCompaction(deleted, "maintenance")
        p.scheduleMaintenance()
    })
}

func (p *Partition) afterCompaction(deleted bool, trigger string) {
    p.publish()
    if !deleted { return }
    logutil.Debugf(p.logger, "%s compaction up to index %d", trigger, p.st.compactor.CompactableIndex())
    p.events.publish(Event{Type: EventCompacted, Term: p.st.term, Details: map[string]string{
        "trigger":          trigger,
        "compactableIndex": strconv.FormatUint(p.st.compactor.CompactableIndex(), 10),
    }})
}
