package consensus

// Reconfigurer optionally allows membership reconfiguration of a partition.
// Reconfigure goes through joint consensus; ForceConfigure skips it and needs
// every new member to acknowledge.
type Reconfigurer interface {
    Reconfigure(members []MemberID) Future
    ForceConfigure(members []MemberID) Future
}
