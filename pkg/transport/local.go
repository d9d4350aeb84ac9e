package transport

import (
    "context"
    "sync"

    "github.com/amirimatin/go-partition/pkg/consensus"
)

// LocalNetwork connects in-process members. Disconnect and Reconnect inject
// network partitions: a disconnected member can neither send nor receive.
type LocalNetwork struct {
    mu           sync.RWMutex
    handlers     map[consensus.MemberID]Handler
    disconnected map[consensus.MemberID]bool
}

func NewLocalNetwork() *LocalNetwork {
    return &LocalNetwork{handlers: map[consensus.MemberID]Handler{}, disconnected: map[consensus.MemberID]bool{}}
}

// Register makes h reachable as id.
func (n *LocalNetwork) Register(id consensus.MemberID, h Handler) {
    n.mu.Lock()
    n.handlers[id] = h
    n.mu.Unlock()
}

func (n *LocalNetwork) Unregister(id consensus.MemberID) {
    n.mu.Lock()
    delete(n.handlers, id)
    n.mu.Unlock()
}

func (n *LocalNetwork) Disconnect(id consensus.MemberID) {
    n.mu.Lock()
    n.disconnected[id] = true
    n.mu.Unlock()
}

func (n *LocalNetwork) Reconnect(id consensus.MemberID) {
    n.mu.Lock()
    delete(n.disconnected, id)
    n.mu.Unlock()
}

// Transport returns the client side used by member self.
func (n *LocalNetwork) Transport(self consensus.MemberID) *LocalTransport {
    return &LocalTransport{net: n, self: self}
}

func (n *LocalNetwork) route(ctx context.Context, from, to consensus.MemberID) (Handler, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    n.mu.RLock()
    defer n.mu.RUnlock()
    if n.disconnected[from] || n.disconnected[to] { return nil, ErrUnreachable }
    h, ok := n.handlers[to]
    if !ok { return nil, ErrUnknownMember }
    return h, nil
}

// LocalTransport delivers RPCs by calling the target's Handler directly.
type LocalTransport struct {
    net  *LocalNetwork
    self consensus.MemberID
}

func (t *LocalTransport) RequestVote(ctx context.Context, to consensus.MemberID, req VoteRequest) (VoteResponse, error) {
    h, err := t.net.route(ctx, t.self, to)
    if err != nil { return VoteResponse{}, err }
    return h.HandleVote(ctx, req)
}

func (t *LocalTransport) Heartbeat(ctx context.Context, to consensus.MemberID, req HeartbeatRequest) (HeartbeatResponse, error) {
    h, err := t.net.route(ctx, t.self, to)
    if err != nil { return HeartbeatResponse{}, err }
    return h.HandleHeartbeat(ctx, req)
}

func (t *LocalTransport) Configure(ctx context.Context, to consensus.MemberID, req ConfigureRequest) (ConfigureResponse, error) {
    h, err := t.net.route(ctx, t.self, to)
    if err != nil { return ConfigureResponse{}, err }
    return h.HandleConfigure(ctx, req)
}

func (t *LocalTransport) ForceConfigure(ctx context.Context, to consensus.MemberID, req ForceConfigureRequest) (ForceConfigureResponse, error) {
    h, err := t.net.route(ctx, t.self, to)
    if err != nil { return ForceConfigureResponse{}, err }
    return h.HandleForceConfigure(ctx, req)
}

var _ Transport = (*LocalTransport)(nil)
