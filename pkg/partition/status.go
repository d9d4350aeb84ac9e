package partition

import "github.com/amirimatin/go-partition/pkg/consensus"

// Role is the raft role of a replica.
type Role string

const (
    RoleFollower  Role = "follower"
    RoleCandidate Role = "candidate"
    RoleLeader    Role = "leader"
)

// Status is a JSON-serializable snapshot of a partition replica, served by
// the management API.
type Status struct {
    PartitionID      int                     `json:"partitionId"`
    MemberID         consensus.MemberID      `json:"memberId"`
    Role             Role                    `json:"role"`
    Term             uint64                  `json:"term"`
    Leader           consensus.MemberID      `json:"leader,omitempty"`
    Configuration    consensus.Configuration `json:"configuration"`
    PriorityElection bool                    `json:"priorityElection"`
    NodePriority     int                     `json:"nodePriority,omitempty"`
    TargetPriority   int                     `json:"targetPriority,omitempty"`
    PrimaryMemberID  consensus.MemberID      `json:"primaryMemberId,omitempty"`
    LastLogIndex     uint64                  `json:"lastLogIndex"`
    FirstLogIndex    uint64                  `json:"firstLogIndex"`
    CompactableIndex uint64                  `json:"compactableIndex"`
}
