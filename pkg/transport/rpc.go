package transport

import "github.com/amirimatin/go-partition/pkg/consensus"

// VoteRequest asks a member to vote for Candidate in Term.
type VoteRequest struct {
    PartitionID  int                `json:"partitionId"`
    Term         uint64             `json:"term"`
    Candidate    consensus.MemberID `json:"candidate"`
    LastLogIndex uint64             `json:"lastLogIndex"`
    LastLogTerm  uint64             `json:"lastLogTerm"`
}

type VoteResponse struct {
    Term    uint64             `json:"term"`
    Voter   consensus.MemberID `json:"voter"`
    Granted bool               `json:"granted"`
}

// HeartbeatRequest asserts leadership and carries the leader's configuration.
type HeartbeatRequest struct {
    PartitionID   int                     `json:"partitionId"`
    Term          uint64                  `json:"term"`
    Leader        consensus.MemberID      `json:"leader"`
    LastLogIndex  uint64                  `json:"lastLogIndex"`
    Configuration consensus.Configuration `json:"configuration"`
}

type HeartbeatResponse struct {
    Term    uint64             `json:"term"`
    Member  consensus.MemberID `json:"member"`
    Success bool               `json:"success"`
}

// ConfigureRequest installs a (possibly joint) configuration sent by the leader.
type ConfigureRequest struct {
    PartitionID   int                     `json:"partitionId"`
    Term          uint64                  `json:"term"`
    Leader        consensus.MemberID      `json:"leader"`
    Configuration consensus.Configuration `json:"configuration"`
}

type ConfigureResponse struct {
    Term     uint64 `json:"term"`
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

// ForceConfigureRequest installs a configuration without joint consensus.
type ForceConfigureRequest struct {
    PartitionID   int                     `json:"partitionId"`
    Term          uint64                  `json:"term"`
    From          consensus.MemberID      `json:"from"`
    Configuration consensus.Configuration `json:"configuration"`
}

type ForceConfigureResponse struct {
    Term     uint64 `json:"term"`
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}
