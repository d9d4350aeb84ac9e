package election

import (
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-partition/pkg/threadctx"
)

const tick = 100 * time.Millisecond

func priorityTimer(t *testing.T, ctx threadctx.Context, target, node int, fired *[]string, name string) *PriorityElectionTimer {
    t.Helper()
    timer, err := NewPriorityElectionTimer(Options{
        Config:      Config{PriorityElectionEnabled: true, InitialTargetPriority: target, NodePriority: node},
        BaseTimeout: tick,
        Context:     ctx,
        Trigger:     func() { *fired = append(*fired, name) },
        Label:       "test",
    })
    require.NoError(t, err)
    return timer
}

func TestDelayMultiplier(t *testing.T) {
    cases := []struct{ target, node, want int }{
        {4, 4, 1},
        {4, 3, 2},
        {4, 1, 4},
        {4, 6, 1},
        {4, 0, 4},
        {1, 1, 1},
    }
    for _, c := range cases {
        require.Equal(t, c.want, DelayMultiplier(c.target, c.node), "target=%d node=%d", c.target, c.node)
    }
}

func TestPriorityTimer_FiresAfterMultiplier(t *testing.T) {
    ctx := threadctx.NewManual("timer")
    var fired []string
    timer := priorityTimer(t, ctx, 4, 2, &fired, "a")
    timer.Reset()

    ctx.Advance(3*tick - time.Millisecond)
    require.Empty(t, fired)
    ctx.Advance(time.Millisecond)
    require.Equal(t, []string{"a"}, fired)

    ctx.Advance(10 * tick)
    require.Len(t, fired, 1, "fires once per reset")
}

func TestPriorityTimer_ResetSupersedesPending(t *testing.T) {
    ctx := threadctx.NewManual("timer")
    var fired []string
    timer := priorityTimer(t, ctx, 2, 2, &fired, "a")
    timer.Reset()
    ctx.Advance(tick / 2)
    timer.Reset()
    ctx.Advance(tick/2 + time.Millisecond)
    require.Empty(t, fired)
    ctx.Advance(tick / 2)
    require.Equal(t, []string{"a"}, fired)
    require.Equal(t, 0, ctx.Timers())
}

func TestPriorityTimer_Cancel(t *testing.T) {
    ctx := threadctx.NewManual("timer")
    var fired []string
    timer := priorityTimer(t, ctx, 3, 1, &fired, "a")
    timer.Reset()
    timer.Cancel()
    ctx.Advance(10 * tick)
    require.Empty(t, fired)
}

func TestPriorityTimer_PromotionWinsRace(t *testing.T) {
    ctx := threadctx.NewManual("timer")
    var fired []string
    a := priorityTimer(t, ctx, 4, 2, &fired, "a")
    b := priorityTimer(t, ctx, 4, 1, &fired, "b")
    a.Reset()
    b.Reset()

    ctx.Advance(tick)
    b.SetNodePriority(4)
    require.Equal(t, tick, b.Delay())

    ctx.Advance(tick)
    require.Equal(t, []string{"b"}, fired)
    ctx.Advance(tick)
    require.Equal(t, []string{"b", "a"}, fired)
}

func TestPriorityTimer_DemotionDelays(t *testing.T) {
    ctx := threadctx.NewManual("timer")
    var fired []string
    timer := priorityTimer(t, ctx, 3, 3, &fired, "a")
    timer.Reset()
    ctx.Advance(tick / 2)
    timer.SetNodePriority(1)
    ctx.Advance(3*tick - time.Millisecond)
    require.Empty(t, fired)
    ctx.Advance(time.Millisecond)
    require.Equal(t, []string{"a"}, fired)
    require.Equal(t, 1, timer.NodePriority())
}

func TestPriorityTimer_RejectsInvalidTarget(t *testing.T) {
    _, err := NewPriorityElectionTimer(Options{
        Config:      Config{PriorityElectionEnabled: true, InitialTargetPriority: 0},
        BaseTimeout: tick,
        Context:     threadctx.NewManual("timer"),
        Trigger:     func() {},
    })
    require.ErrorIs(t, err, ErrInvalidPriority)
}

func TestRandomizedTimer_Jitter(t *testing.T) {
    ctx := threadctx.NewManual("timer")
    fired := 0
    timer, err := NewRandomizedElectionTimer(Options{BaseTimeout: tick, Context: ctx, Trigger: func() { fired++ }})
    require.NoError(t, err)
    timer.jitter = func(n int64) int64 {
        require.Equal(t, int64(tick), n)
        return int64(tick / 4)
    }
    timer.Reset()
    ctx.Advance(tick + tick/4 - time.Millisecond)
    require.Equal(t, 0, fired)
    ctx.Advance(time.Millisecond)
    require.Equal(t, 1, fired)
}

func TestNewTimer_SelectsKind(t *testing.T) {
    ctx := threadctx.NewManual("timer")
    timer, err := NewTimer(Options{
        Config:      Config{PriorityElectionEnabled: true, InitialTargetPriority: 3, NodePriority: 1},
        BaseTimeout: tick, Context: ctx, Trigger: func() {},
    })
    require.NoError(t, err)
    require.IsType(t, &PriorityElectionTimer{}, timer)

    timer, err = NewTimer(Options{BaseTimeout: tick, Context: ctx, Trigger: func() {}})
    require.NoError(t, err)
    require.IsType(t, &RandomizedElectionTimer{}, timer)

    _, err = NewTimer(Options{BaseTimeout: tick, Trigger: func() {}})
    require.Error(t, err)
}

func TestPriorityTimer_FiringOrderByPriority(t *testing.T) {
    cases := []struct {
        node  int
        ticks int
    }{
        {4, 1},
        {1, 4},
    }
    for _, c := range cases {
        ctx := threadctx.NewManual("timer")
        var fired []string
        timer := priorityTimer(t, ctx, 4, c.node, &fired, "n")
        timer.Reset()
        ctx.Advance(time.Duration(c.ticks)*tick - time.Millisecond)
        require.Empty(t, fired, "priority %d fired early", c.node)
        ctx.Advance(time.Millisecond)
        require.Equal(t, []string{"n"}, fired, "priority %d fires after %d ticks", c.node, c.ticks)
    }

    // both on one context: the higher priority wins the race
    ctx := threadctx.NewManual("timer")
    var fired []string
    high := priorityTimer(t, ctx, 4, 4, &fired, "high")
    low := priorityTimer(t, ctx, 4, 1, &fired, "low")
    high.Reset()
    low.Reset()
    ctx.Advance(tick)
    require.Equal(t, []string{"high"}, fired)
    ctx.Advance(3 * tick)
    require.Equal(t, []string{"high", "low"}, fired)
}
