package partition

import (
    "context"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/consensus/election"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/metrics"
    "github.com/amirimatin/go-partition/pkg/observability/tracing"
)

// StepDown relinquishes leadership. The future completes on the partition
// context once the replica is a follower; it is a no-op when not leading.
func (p *Partition) StepDown() consensus.Future {
    return p.submit(func(promise *consensus.Promise) {
        _, end := tracing.StartSpan(context.Background(), "partition.step_down", "member", string(p.opts.MemberID))
        defer end()
        if p.st.role == RoleLeader {
            logutil.Infof(p.logger, "stepping down as leader of term %d", p.st.term)
            p.becomeFollower(p.st.term, "")
        }
        promise.Complete(nil)
    })
}

// ReconfigurePriority changes this replica's election priority. A running
// priority election timer is rescheduled with the new rank right away.
func (p *Partition) ReconfigurePriority(priority int) consensus.Future {
    return p.submit(func(promise *consensus.Promise) {
        p.st.electionCfg.NodePriority = priority
        metrics.NodePriority.WithLabelValues(p.label).Set(float64(priority))
        if t, ok := p.st.timer.(*election.PriorityElectionTimer); ok && p.st.role == RoleFollower {
            t.SetNodePriority(priority)
        } else if p.st.timer != nil {
            // the next timer picks up the new rank
            p.st.timer.Cancel()
            p.st.timer = nil
            if p.st.role != RoleLeader { p.resetTimer() }
        }
        logutil.Infof(p.logger, "node priority set to %d", priority)
        p.publish()
        promise.Complete(nil)
    })
}

// UpdatePartitionConfig applies a topology update and then runs the step-down
// check against it.
func (p *Partition) UpdatePartitionConfig(cfg consensus.PartitionConfig) consensus.Future {
    applied := p.submit(func(promise *consensus.Promise) {
        if cfg.PriorityElectionEnabled != p.st.electionCfg.PriorityElectionEnabled {
            p.st.electionCfg.PriorityElectionEnabled = cfg.PriorityElectionEnabled
            if p.st.timer != nil {
                p.st.timer.Cancel()
                p.st.timer = nil
                if p.st.role != RoleLeader { p.resetTimer() }
            }
        }
        p.st.partitionCfg = cfg
        p.publish()
        promise.Complete(nil)
    })
    if err := applied.Error(); err != nil { return consensus.CompletedFuture(err) }
    return p.CheckStepDown()
}

// CheckStepDown steps the local leader down when priority election is
// enabled and another member is the configured primary.
func (p *Partition) CheckStepDown() consensus.Future {
    out := consensus.NewPromise()
    delegated := p.submit(func(promise *consensus.Promise) {
        if !p.st.policy.ShouldStepDown() || p.attachedRole() == nil {
            metrics.StepDowns.WithLabelValues(p.label, "skipped").Inc()
            promise.Complete(nil)
            out.Complete(nil)
            return
        }
        logutil.Infof(p.logger, "primary is %s, handing over leadership", p.st.partitionCfg.PrimaryMemberID)
        f := p.st.policy.StepDown()
        go func() {
            err := f.Error()
            if err != nil {
                metrics.StepDowns.WithLabelValues(p.label, "failed").Inc()
            } else {
                metrics.StepDowns.WithLabelValues(p.label, "delegated").Inc()
            }
            promise.Complete(err)
        }()
    })
    go func() { out.Complete(delegated.Error()) }()
    return out
}
