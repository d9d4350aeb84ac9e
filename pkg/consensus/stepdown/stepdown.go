// Package stepdown moves leadership towards a partition's designated primary.
package stepdown

import "github.com/amirimatin/go-partition/pkg/consensus"

// Policy decides whether the local leader should give up leadership because
// another member is the configured primary. It holds no state of its own;
// both accessors are read on every call.
type Policy struct {
    // Config returns the current topology view of the partition.
    Config func() consensus.PartitionConfig
    // Role returns the active role, or nil when no role is attached.
    Role func() consensus.Role
    // Local is this replica's id.
    Local consensus.MemberID
}

// ShouldStepDown is true when priority election is enabled, a primary is
// configured and it is not this replica.
func (p Policy) ShouldStepDown() bool {
    if p.Config == nil { return false }
    cfg := p.Config()
    return cfg.PriorityElectionEnabled && cfg.HasPrimary() && cfg.PrimaryMemberID != p.Local
}

// StepDown delegates to the role's asynchronous step-down when ShouldStepDown
// holds and a role is attached; otherwise it returns a completed future.
func (p Policy) StepDown() consensus.Future {
    if !p.ShouldStepDown() { return consensus.CompletedFuture(nil) }
    var role consensus.Role
    if p.Role != nil { role = p.Role() }
    if role == nil { return consensus.CompletedFuture(nil) }
    return role.StepDown()
}
