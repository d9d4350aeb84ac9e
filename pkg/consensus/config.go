package consensus

import "time"

// Configuration is a partition's replicated member configuration. A non-empty
// OldMembers means the partition is in joint consensus between OldMembers and
// NewMembers. Force marks a configuration installed by ForceConfigure.
type Configuration struct {
    Index      uint64     `json:"index"`
    Term       uint64     `json:"term"`
    Time       time.Time  `json:"time"`
    NewMembers []MemberID `json:"newMembers"`
    OldMembers []MemberID `json:"oldMembers,omitempty"`
    Force      bool       `json:"force,omitempty"`
}

// Joint reports whether the configuration is transitional.
func (c Configuration) Joint() bool { return len(c.OldMembers) > 0 }

// AllMembers returns the union of old and new members.
func (c Configuration) AllMembers() MemberSet {
    s := NewMemberSet(c.NewMembers...)
    for _, id := range c.OldMembers { s[id] = struct{}{} }
    return s
}

// PartitionConfig is the topology view of a partition as written by cluster
// topology management. An empty PrimaryMemberID means no primary is designated.
type PartitionConfig struct {
    PartitionID             int
    Members                 []MemberID
    PriorityElectionEnabled bool
    PrimaryMemberID         MemberID
}

func (c PartitionConfig) HasPrimary() bool { return c.PrimaryMemberID != "" }
