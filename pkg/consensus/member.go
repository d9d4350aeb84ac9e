package consensus

import (
    "sort"
    "strings"
)

// MemberID identifies a replica within a partition's member set.
type MemberID string

func (m MemberID) String() string { return string(m) }

// ParseMembers converts a comma-separated list into member ids, dropping blanks.
func ParseMembers(csv string) []MemberID {
    if csv == "" { return nil }
    parts := strings.Split(csv, ",")
    out := make([]MemberID, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, MemberID(p)) }
    }
    return out
}

// MemberSet is a de-duplicated set of member ids.
type MemberSet map[MemberID]struct{}

func NewMemberSet(ids ...MemberID) MemberSet {
    s := make(MemberSet, len(ids))
    for _, id := range ids { s[id] = struct{}{} }
    return s
}

func (s MemberSet) Contains(id MemberID) bool { _, ok := s[id]; return ok }

// Sorted returns the members in lexical order.
func (s MemberSet) Sorted() []MemberID {
    out := make([]MemberID, 0, len(s))
    for id := range s { out = append(out, id) }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

// Equal reports whether both sets hold the same members.
func (s MemberSet) Equal(o MemberSet) bool {
    if len(s) != len(o) { return false }
    for id := range s {
        if !o.Contains(id) { return false }
    }
    return true
}
