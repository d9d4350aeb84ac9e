package threadctx

import (
    "sort"
    "sync"
    "time"
)

// Manual is a deterministic Context driven by a simulated clock. The
// goroutine that creates it is the owner; tasks only run inside RunPending and
// Advance, on the caller's goroutine.
type Manual struct {
    name  string
    owner int64

    mu      sync.Mutex
    now     time.Duration
    seq     uint64
    pending []func()
    timers  []*manualTimer
}

type manualTimer struct {
    due       time.Duration
    seq       uint64
    task      func()
    cancelled bool
}

func NewManual(name string) *Manual { return &Manual{name: name, owner: goid()} }

func (m *Manual) Execute(task func()) {
    m.mu.Lock()
    m.pending = append(m.pending, task)
    m.mu.Unlock()
}

func (m *Manual) Schedule(delay time.Duration, task func()) Scheduled {
    m.mu.Lock()
    defer m.mu.Unlock()
    if delay < 0 { delay = 0 }
    m.seq++
    t := &manualTimer{due: m.now + delay, seq: m.seq, task: task}
    m.timers = append(m.timers, t)
    return &manualHandle{m: m, t: t}
}

func (m *Manual) CheckThread() { check(m.name, m.owner) }

// Elapsed returns the simulated time since creation.
func (m *Manual) Elapsed() time.Duration {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.now
}

// RunPending runs queued tasks, including tasks they enqueue, until the queue is empty.
func (m *Manual) RunPending() {
    for {
        m.mu.Lock()
        q := m.pending
        m.pending = nil
        m.mu.Unlock()
        if len(q) == 0 { return }
        for _, t := range q { t() }
    }
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
    m.RunPending()
    m.mu.Lock()
    target := m.now + d
    m.mu.Unlock()
    for {
        t := m.nextDue(target)
        if t == nil { break }
        t.task()
        m.RunPending()
    }
    m.mu.Lock()
    m.now = target
    m.mu.Unlock()
}

// nextDue pops the earliest live timer due at or before target and moves the
// clock to its deadline.
func (m *Manual) nextDue(target time.Duration) *manualTimer {
    m.mu.Lock()
    defer m.mu.Unlock()
    live := m.timers[:0]
    for _, t := range m.timers {
        if !t.cancelled { live = append(live, t) }
    }
    m.timers = live
    sort.Slice(m.timers, func(i, j int) bool {
        if m.timers[i].due != m.timers[j].due { return m.timers[i].due < m.timers[j].due }
        return m.timers[i].seq < m.timers[j].seq
    })
    if len(m.timers) == 0 || m.timers[0].due > target { return nil }
    t := m.timers[0]
    m.timers = m.timers[1:]
    m.now = t.due
    return t
}

// Timers returns the number of live scheduled tasks.
func (m *Manual) Timers() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    n := 0
    for _, t := range m.timers {
        if !t.cancelled { n++ }
    }
    return n
}

type manualHandle struct {
    m *Manual
    t *manualTimer
}

func (h *manualHandle) Cancel() {
    h.m.mu.Lock()
    h.t.cancelled = true
    h.m.mu.Unlock()
}

var _ Context = (*Manual)(nil)
