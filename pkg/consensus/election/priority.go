package election

import (
    "log"
    "time"

    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/metrics"
    "github.com/amirimatin/go-partition/pkg/threadctx"
)

// DelayMultiplier is the number of base timeouts a replica with priority node
// waits when the top priority is target. The result is clamped to [1, target]:
// a replica ranked above target behaves like the top replica and one ranked
// below 1 like the lowest.
func DelayMultiplier(target, node int) int {
    m := target - node + 1
    if m < 1 { m = 1 }
    if m > target { m = target }
    return m
}

// PriorityElectionTimer fires after baseTimeout multiplied by the distance
// between the node priority and the target priority.
type PriorityElectionTimer struct {
    ctx            threadctx.Context
    trigger        func()
    base           time.Duration
    targetPriority int
    nodePriority   int
    label          string
    logger         *log.Logger

    pending threadctx.Scheduled
}

func NewPriorityElectionTimer(opts Options) (*PriorityElectionTimer, error) {
    if err := opts.validate(); err != nil { return nil, err }
    if opts.Config.InitialTargetPriority < 1 { return nil, ErrInvalidPriority }
    t := &PriorityElectionTimer{
        ctx:            opts.Context,
        trigger:        opts.Trigger,
        base:           opts.BaseTimeout,
        targetPriority: opts.Config.InitialTargetPriority,
        nodePriority:   opts.Config.NodePriority,
        label:          opts.Label,
        logger:         opts.Logger,
    }
    metrics.NodePriority.WithLabelValues(t.label).Set(float64(t.nodePriority))
    return t, nil
}

// Delay is the current timeout.
func (t *PriorityElectionTimer) Delay() time.Duration {
    return t.base * time.Duration(DelayMultiplier(t.targetPriority, t.nodePriority))
}

func (t *PriorityElectionTimer) Reset() {
    t.Cancel()
    delay := t.Delay()
    var handle threadctx.Scheduled
    handle = t.ctx.Schedule(delay, func() {
        if t.pending != handle { return }
        t.pending = nil
        metrics.ElectionTimerFired.WithLabelValues(t.label, "priority").Inc()
        logutil.Debugf(t.logger, "election timer fired after %s (priority %d/%d)", delay, t.nodePriority, t.targetPriority)
        t.trigger()
    })
    t.pending = handle
}

func (t *PriorityElectionTimer) Cancel() {
    if t.pending != nil {
        t.pending.Cancel()
        t.pending = nil
    }
}

// SetNodePriority changes the rank and reschedules from now.
func (t *PriorityElectionTimer) SetNodePriority(priority int) {
    if priority != t.nodePriority {
        logutil.Infof(t.logger, "node priority changed %d -> %d", t.nodePriority, priority)
    }
    t.nodePriority = priority
    metrics.NodePriority.WithLabelValues(t.label).Set(float64(priority))
    t.Reset()
}

func (t *PriorityElectionTimer) NodePriority() int   { return t.nodePriority }
func (t *PriorityElectionTimer) TargetPriority() int { return t.targetPriority }

var _ ElectionTimer = (*PriorityElectionTimer)(nil)
