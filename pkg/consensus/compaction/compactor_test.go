package compaction

import (
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/threadctx"
)

type fakeLog struct {
    calls []uint64
    first uint64
}

func (l *fakeLog) DeleteUntil(index uint64) bool {
    l.calls = append(l.calls, index)
    if index <= l.first { return false }
    l.first = index
    return true
}

type fakeStore struct {
    snapshots []consensus.SnapshotInfo
}

func (s *fakeStore) Snapshots() []consensus.SnapshotInfo { return s.snapshots }

func (s *fakeStore) LatestSnapshot() (consensus.PersistedSnapshot, bool) {
    var (
        latest consensus.PersistedSnapshot
        ok     bool
    )
    for _, info := range s.snapshots {
        if !ok || info.Index > latest.Index {
            latest, ok = info.PersistedSnapshot, true
        }
    }
    return latest, ok
}

type recordingMetrics struct {
    observed int
    index    uint64
}

func (m *recordingMetrics) ObserveCompaction(time.Duration, bool) { m.observed++ }
func (m *recordingMetrics) SetCompactableIndex(i uint64)         { m.index = i }

func newCompactor(t *testing.T, threshold uint64) (*LogCompactor, *fakeLog, *recordingMetrics) {
    t.Helper()
    l := &fakeLog{}
    m := &recordingMetrics{}
    c, err := New(Options{Context: threadctx.NewManual("compaction"), Log: l, ReplicationThreshold: threshold, Metrics: m})
    require.NoError(t, err)
    return c, l, m
}

func TestCompact_KeepsReplicationThreshold(t *testing.T) {
    c, l, m := newCompactor(t, 5)
    c.SetCompactableIndex(12)
    require.True(t, c.Compact())
    require.Equal(t, []uint64{7}, l.calls)
    require.Equal(t, uint64(12), m.index)
    require.Equal(t, 1, m.observed)
}

func TestCompact_ThresholdAboveIndex(t *testing.T) {
    c, l, _ := newCompactor(t, 50)
    c.SetCompactableIndex(12)
    require.False(t, c.Compact())
    require.Equal(t, []uint64{0}, l.calls)
}

func TestCompactIgnoringReplicationThreshold(t *testing.T) {
    c, l, _ := newCompactor(t, 5)
    c.SetCompactableIndex(12)
    require.True(t, c.CompactIgnoringReplicationThreshold())
    require.Equal(t, []uint64{12}, l.calls)
    require.False(t, c.CompactIgnoringReplicationThreshold(), "nothing left to delete")
}

func TestSetCompactableIndex_Monotonic(t *testing.T) {
    c, _, _ := newCompactor(t, 0)
    c.SetCompactableIndex(20)
    c.SetCompactableIndex(10)
    require.Equal(t, uint64(20), c.CompactableIndex())
}

func TestCompactFromSnapshots_UsesOldestReserved(t *testing.T) {
    c, l, _ := newCompactor(t, 5)
    store := &fakeStore{snapshots: []consensus.SnapshotInfo{
        {PersistedSnapshot: consensus.PersistedSnapshot{Index: 10}, Reserved: true},
        {PersistedSnapshot: consensus.PersistedSnapshot{Index: 30}},
    }}
    require.True(t, c.CompactFromSnapshots(store))
    require.Equal(t, []uint64{5}, l.calls)
    require.Equal(t, uint64(10), c.CompactableIndex())
}

func TestCompactor_SequenceOnOneLog(t *testing.T) {
    c, l, m := newCompactor(t, 5)
    c.SetCompactableIndex(12)
    c.Compact()
    c.CompactIgnoringReplicationThreshold()
    store := &fakeStore{snapshots: []consensus.SnapshotInfo{
        {PersistedSnapshot: consensus.PersistedSnapshot{Index: 10}, Reserved: true},
        {PersistedSnapshot: consensus.PersistedSnapshot{Index: 30}},
    }}
    c.CompactFromSnapshots(store)
    require.Equal(t, []uint64{7, 12, 5}, l.calls)
    require.Equal(t, uint64(10), c.CompactableIndex())
    require.Equal(t, uint64(10), m.index)
}

func TestCompactFromSnapshots_ReservedBoundBelowCompactableIndex(t *testing.T) {
    c, l, _ := newCompactor(t, 5)
    c.SetCompactableIndex(12)
    store := &fakeStore{snapshots: []consensus.SnapshotInfo{
        {PersistedSnapshot: consensus.PersistedSnapshot{Index: 10}, Reserved: true},
        {PersistedSnapshot: consensus.PersistedSnapshot{Index: 30}},
    }}
    require.True(t, c.CompactFromSnapshots(store))
    require.Equal(t, []uint64{5}, l.calls)

    // the external setter stays monotonic above the snapshot bound
    c.SetCompactableIndex(8)
    require.Equal(t, uint64(10), c.CompactableIndex())
}

func TestCompactFromSnapshots_FallsBackToLatest(t *testing.T) {
    c, l, _ := newCompactor(t, 5)
    store := &fakeStore{snapshots: []consensus.SnapshotInfo{
        {PersistedSnapshot: consensus.PersistedSnapshot{Index: 10}},
        {PersistedSnapshot: consensus.PersistedSnapshot{Index: 30}},
    }}
    require.True(t, c.CompactFromSnapshots(store))
    require.Equal(t, []uint64{25}, l.calls)
}

func TestCompactFromSnapshots_EmptyStore(t *testing.T) {
    c, l, _ := newCompactor(t, 5)
    require.False(t, c.CompactFromSnapshots(&fakeStore{}))
    require.Empty(t, l.calls)
}

func TestCompact_OffContextPanics(t *testing.T) {
    c, l, _ := newCompactor(t, 5)
    c.SetCompactableIndex(12)

    done := make(chan interface{})
    go func() {
        defer func() { done <- recover() }()
        c.Compact()
    }()
    r := <-done
    require.NotNil(t, r)
    _, ok := r.(*threadctx.ThreadViolation)
    require.True(t, ok, "panic value %T", r)
    require.Empty(t, l.calls)
}
