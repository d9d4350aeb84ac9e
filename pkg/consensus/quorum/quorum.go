// Package quorum evaluates vote and acknowledgement quorums for a partition:
// simple majorities, joint consensus across two configurations and the
// unanimous quorum used by forced reconfiguration.
//
// Quorums are not safe for concurrent use. They are created per operation and
// updated on the partition's owning context only.
package quorum

import (
    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/observability/metrics"
)

// VoteQuorum tracks responses from members until it resolves. The callback
// given at construction fires exactly once with the outcome. Responses from
// unknown members, duplicates and responses after resolution are ignored.
type VoteQuorum interface {
    Succeed(member consensus.MemberID)
    Fail(member consensus.MemberID)
    // Resolved reports whether the callback has fired.
    Resolved() bool
    // Result is the outcome; it is only meaningful once Resolved is true.
    Result() bool
}

// ForConfiguration returns the quorum an election or replication round needs
// for cfg: joint when the configuration is transitional, simple otherwise.
func ForConfiguration(cfg consensus.Configuration, callback func(bool)) VoteQuorum {
    if cfg.Joint() {
        return NewJointConsensusVoteQuorum(cfg.OldMembers, cfg.NewMembers, callback)
    }
    return NewSimpleVoteQuorum(cfg.NewMembers, callback)
}

// latch is the resolve-once state shared by all quorum kinds.
type latch struct {
    kind     string
    callback func(bool)
    resolved bool
    result   bool
}

func (l *latch) resolve(ok bool) {
    if l.resolved { return }
    l.resolved = true
    l.result = ok
    res := "failed"
    if ok { res = "succeeded" }
    metrics.QuorumResolutions.WithLabelValues(l.kind, res).Inc()
    if l.callback != nil { l.callback(ok) }
}

func (l *latch) Resolved() bool { return l.resolved }
func (l *latch) Result() bool   { return l.resolved && l.result }
