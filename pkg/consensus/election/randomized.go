package election

import (
    "log"
    "math/rand"
    "time"

    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/metrics"
    "github.com/amirimatin/go-partition/pkg/threadctx"
)

// RandomizedElectionTimer fires after the base timeout plus a random jitter
// in [0, base).
type RandomizedElectionTimer struct {
    ctx     threadctx.Context
    trigger func()
    base    time.Duration
    label   string
    logger  *log.Logger
    // jitter returns a value in [0, n); replaceable in tests.
    jitter func(n int64) int64

    pending threadctx.Scheduled
}

func NewRandomizedElectionTimer(opts Options) (*RandomizedElectionTimer, error) {
    if err := opts.validate(); err != nil { return nil, err }
    return &RandomizedElectionTimer{
        ctx:     opts.Context,
        trigger: opts.Trigger,
        base:    opts.BaseTimeout,
        label:   opts.Label,
        logger:  opts.Logger,
        jitter:  rand.Int63n,
    }, nil
}

func (t *RandomizedElectionTimer) Reset() {
    t.Cancel()
    delay := t.base + time.Duration(t.jitter(int64(t.base)))
    var handle threadctx.Scheduled
    handle = t.ctx.Schedule(delay, func() {
        if t.pending != handle { return }
        t.pending = nil
        metrics.ElectionTimerFired.WithLabelValues(t.label, "randomized").Inc()
        logutil.Debugf(t.logger, "election timer fired after %s", delay)
        t.trigger()
    })
    t.pending = handle
}

func (t *RandomizedElectionTimer) Cancel() {
    if t.pending != nil {
        t.pending.Cancel()
        t.pending = nil
    }
}

var _ ElectionTimer = (*RandomizedElectionTimer)(nil)
