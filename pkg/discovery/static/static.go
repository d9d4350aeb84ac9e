package static

import (
    "context"
    "fmt"
    "strings"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/discovery"
)

type staticMembers struct {
    addrs map[consensus.MemberID]string
}

func (s *staticMembers) Resolve(_ context.Context, id consensus.MemberID) (string, error) {
    if addr, ok := s.addrs[id]; ok { return addr, nil }
    return "", fmt.Errorf("%w: %s", discovery.ErrNotFound, id)
}

// New returns a Resolver over a fixed id to address map. Blank entries are
// dropped.
func New(members map[string]string) discovery.Resolver {
    addrs := make(map[consensus.MemberID]string, len(members))
    for id, addr := range members {
        id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
        if id != "" && addr != "" { addrs[consensus.MemberID(id)] = addr }
    }
    return &staticMembers{addrs: addrs}
}

// Parse converts "id=host:port,id=host:port" into a member map.
func Parse(csv string) (map[string]string, error) {
    out := map[string]string{}
    for _, part := range strings.Split(csv, ",") {
        part = strings.TrimSpace(part)
        if part == "" { continue }
        id, addr, ok := strings.Cut(part, "=")
        id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
        if !ok || id == "" || addr == "" { return nil, fmt.Errorf("discovery: bad member %q, want id=host:port", part) }
        out[id] = addr
    }
    return out, nil
}
