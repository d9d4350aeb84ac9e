package threadctx

import (
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/amirimatin/go-partition/pkg/internal/logutil"
)

// SingleThread runs tasks serially on one dedicated goroutine.
type SingleThread struct {
    name   string
    logger *log.Logger
    owner  atomic.Int64

    mu     sync.Mutex
    queue  []func()
    closed bool
    wake   chan struct{}
    done   chan struct{}
}

// NewSingleThread starts the context goroutine. Close stops it.
func NewSingleThread(name string, logger *log.Logger) *SingleThread {
    if logger == nil { logger = log.Default() }
    s := &SingleThread{name: name, logger: logger, wake: make(chan struct{}, 1), done: make(chan struct{})}
    started := make(chan struct{})
    go s.run(started)
    <-started
    return s
}

func (s *SingleThread) run(started chan<- struct{}) {
    defer close(s.done)
    s.owner.Store(goid())
    close(started)
    for {
        s.mu.Lock()
        q := s.queue
        s.queue = nil
        closed := s.closed
        s.mu.Unlock()
        for _, t := range q {
            s.runTask(t)
        }
        if len(q) > 0 { continue }
        if closed { return }
        <-s.wake
    }
}

func (s *SingleThread) runTask(task func()) {
    defer func() {
        if r := recover(); r != nil {
            logutil.Errorf(s.logger, "threadctx %s: task panicked: %v", s.name, r)
        }
    }()
    task()
}

func (s *SingleThread) Execute(task func()) {
    s.mu.Lock()
    if s.closed {
        s.mu.Unlock()
        logutil.Debugf(s.logger, "threadctx %s: dropping task after close", s.name)
        return
    }
    s.queue = append(s.queue, task)
    s.mu.Unlock()
    select {
    case s.wake <- struct{}{}:
    default:
    }
}

func (s *SingleThread) Schedule(delay time.Duration, task func()) Scheduled {
    t := &timerTask{}
    t.timer = time.AfterFunc(delay, func() {
        s.Execute(func() {
            if t.cancelled.Load() { return }
            task()
        })
    })
    return t
}

func (s *SingleThread) CheckThread() { check(s.name, s.owner.Load()) }

// Close stops accepting tasks, drains the queue and waits for the goroutine to
// exit. It must not be called from a task running on the context.
func (s *SingleThread) Close() {
    s.mu.Lock()
    if s.closed {
        s.mu.Unlock()
        <-s.done
        return
    }
    s.closed = true
    s.mu.Unlock()
    select {
    case s.wake <- struct{}{}:
    default:
    }
    <-s.done
}

type timerTask struct {
    timer     *time.Timer
    cancelled atomic.Bool
}

func (t *timerTask) Cancel() {
    t.cancelled.Store(true)
    t.timer.Stop()
}

var _ Context = (*SingleThread)(nil)
