package consensus

import (
    "errors"
    "testing"
    "time"
)

func TestParseMembers(t *testing.T) {
    got := ParseMembers(" 1, 2,,3 ")
    if len(got) != 3 || got[0] != "1" || got[2] != "3" { t.Fatalf("got %v", got) }
    if ParseMembers("") != nil { t.Fatalf("expected nil for empty input") }
}

func TestMemberSet(t *testing.T) {
    s := NewMemberSet("b", "a", "b")
    if len(s) != 2 { t.Fatalf("len=%d", len(s)) }
    if sorted := s.Sorted(); sorted[0] != "a" || sorted[1] != "b" { t.Fatalf("sorted %v", sorted) }
    if !s.Equal(NewMemberSet("a", "b")) || s.Equal(NewMemberSet("a")) { t.Fatalf("Equal mismatch") }
}

func TestConfigurationJoint(t *testing.T) {
    c := Configuration{NewMembers: []MemberID{"2", "3"}}
    if c.Joint() { t.Fatalf("plain configuration reported joint") }
    c.OldMembers = []MemberID{"1", "2"}
    if !c.Joint() { t.Fatalf("expected joint") }
    if all := c.AllMembers(); len(all) != 3 { t.Fatalf("all=%v", all.Sorted()) }
}

func TestPromiseCompletesOnce(t *testing.T) {
    p := NewPromise()
    boom := errors.New("boom")
    go func() {
        time.Sleep(10 * time.Millisecond)
        p.Complete(boom)
        p.Complete(nil)
    }()
    if err := p.Error(); !errors.Is(err, boom) { t.Fatalf("err=%v", err) }
    select {
    case <-p.Done():
    default:
        t.Fatalf("done not closed")
    }
    if err := CompletedFuture(nil).Error(); err != nil { t.Fatalf("err=%v", err) }
}
