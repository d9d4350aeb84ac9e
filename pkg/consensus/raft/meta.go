package raftcons

import (
    "encoding/json"
    "errors"
    "strings"

    "github.com/hashicorp/raft"

    "github.com/amirimatin/go-partition/pkg/consensus"
)

var (
    keyCurrentTerm   = []byte("CurrentTerm")
    keyLastVote      = []byte("LastVoteCand")
    keyLastVoteTerm  = []byte("LastVoteTerm")
    keyConfiguration = []byte("Configuration")
)

// Meta persists the election state a replica must not forget across restarts:
// the current term, the vote cast in it and the latest configuration.
type Meta struct {
    store raft.StableStore
}

func NewMeta(store raft.StableStore) *Meta { return &Meta{store: store} }

// notFound matches the "not found" errors of the in-memory and bolt stores.
func notFound(err error) bool {
    return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}

func (m *Meta) Term() (uint64, error) {
    v, err := m.store.GetUint64(keyCurrentTerm)
    if notFound(err) { return 0, nil }
    return v, err
}

func (m *Meta) SetTerm(term uint64) error { return m.store.SetUint64(keyCurrentTerm, term) }

// Vote returns the candidate voted for in term, or "" when none.
func (m *Meta) Vote(term uint64) (consensus.MemberID, error) {
    t, err := m.store.GetUint64(keyLastVoteTerm)
    if notFound(err) { return "", nil }
    if err != nil { return "", err }
    if t != term { return "", nil }
    v, err := m.store.Get(keyLastVote)
    if notFound(err) { return "", nil }
    return consensus.MemberID(v), err
}

func (m *Meta) SetVote(term uint64, candidate consensus.MemberID) error {
    if term == 0 { return errors.New("raftcons: vote in term 0") }
    if err := m.store.Set(keyLastVote, []byte(candidate)); err != nil { return err }
    return m.store.SetUint64(keyLastVoteTerm, term)
}

// Configuration returns the last stored configuration, ok=false when none.
func (m *Meta) Configuration() (consensus.Configuration, bool, error) {
    var cfg consensus.Configuration
    b, err := m.store.Get(keyConfiguration)
    if notFound(err) || (err == nil && len(b) == 0) { return cfg, false, nil }
    if err != nil { return cfg, false, err }
    if err := json.Unmarshal(b, &cfg); err != nil { return cfg, false, err }
    return cfg, true, nil
}

func (m *Meta) SetConfiguration(cfg consensus.Configuration) error {
    b, err := json.Marshal(cfg)
    if err != nil { return err }
    return m.store.Set(keyConfiguration, b)
}
