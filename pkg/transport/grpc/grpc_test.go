package grpc

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/discovery/static"
    "github.com/amirimatin/go-partition/pkg/transport"
)

type echoHandler struct {
    fail error
}

func (h *echoHandler) HandleVote(_ context.Context, req transport.VoteRequest) (transport.VoteResponse, error) {
    if h.fail != nil { return transport.VoteResponse{}, h.fail }
    return transport.VoteResponse{Term: req.Term, Voter: "srv", Granted: req.Candidate == "c"}, nil
}

func (h *echoHandler) HandleHeartbeat(_ context.Context, req transport.HeartbeatRequest) (transport.HeartbeatResponse, error) {
    return transport.HeartbeatResponse{Term: req.Term, Member: "srv", Success: len(req.Configuration.NewMembers) == 2}, nil
}

func (h *echoHandler) HandleConfigure(_ context.Context, req transport.ConfigureRequest) (transport.ConfigureResponse, error) {
    return transport.ConfigureResponse{Term: req.Term, Accepted: req.Configuration.Joint()}, nil
}

func (h *echoHandler) HandleForceConfigure(_ context.Context, req transport.ForceConfigureRequest) (transport.ForceConfigureResponse, error) {
    return transport.ForceConfigureResponse{Term: req.Term, Error: "conflict " + string(req.From)}, nil
}

func startServer(t *testing.T, h transport.Handler) *Server {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    srv := NewServer("127.0.0.1:0")
    srv.Register(7, h)
    require.NoError(t, srv.Start(ctx))
    t.Cleanup(func() { _ = srv.Stop(context.Background()) })
    return srv
}

func TestClientServer_RoundTrip(t *testing.T) {
    srv := startServer(t, &echoHandler{})
    c := NewClient(2 * time.Second)
    defer c.Close()
    c.SetAddress("srv", srv.Addr())
    ctx := context.Background()

    vote, err := c.RequestVote(ctx, "srv", transport.VoteRequest{PartitionID: 7, Term: 3, Candidate: "c"})
    require.NoError(t, err)
    require.Equal(t, transport.VoteResponse{Term: 3, Voter: "srv", Granted: true}, vote)

    hb, err := c.Heartbeat(ctx, "srv", transport.HeartbeatRequest{
        PartitionID:   7,
        Term:          4,
        Configuration: consensus.Configuration{NewMembers: []consensus.MemberID{"a", "b"}},
    })
    require.NoError(t, err)
    require.True(t, hb.Success)

    cfg, err := c.Configure(ctx, "srv", transport.ConfigureRequest{
        PartitionID:   7,
        Configuration: consensus.Configuration{OldMembers: []consensus.MemberID{"a"}, NewMembers: []consensus.MemberID{"b"}},
    })
    require.NoError(t, err)
    require.True(t, cfg.Accepted)

    force, err := c.ForceConfigure(ctx, "srv", transport.ForceConfigureRequest{PartitionID: 7, From: "x"})
    require.NoError(t, err)
    require.False(t, force.Accepted)
    require.Equal(t, "conflict x", force.Error)
    require.Equal(t, 1, c.cm.Len(), "connection is reused")
}

func TestClient_ResolvesThroughDiscovery(t *testing.T) {
    srv := startServer(t, &echoHandler{})
    c := NewClient(2 * time.Second).UseResolver(static.New(map[string]string{"srv": srv.Addr()}))
    defer c.Close()

    vote, err := c.RequestVote(context.Background(), "srv", transport.VoteRequest{PartitionID: 7, Term: 1, Candidate: "c"})
    require.NoError(t, err)
    require.True(t, vote.Granted)

    _, err = c.RequestVote(context.Background(), "other", transport.VoteRequest{PartitionID: 7})
    require.ErrorIs(t, err, transport.ErrUnknownMember)
}

func TestClient_Errors(t *testing.T) {
    srv := startServer(t, &echoHandler{fail: errors.New("stopped")})
    c := NewClient(time.Second)
    defer c.Close()
    ctx := context.Background()

    _, err := c.RequestVote(ctx, "nobody", transport.VoteRequest{PartitionID: 7})
    require.ErrorIs(t, err, transport.ErrUnknownMember)

    c.SetAddress("srv", srv.Addr())
    _, err = c.RequestVote(ctx, "srv", transport.VoteRequest{PartitionID: 7})
    require.ErrorIs(t, err, transport.ErrUnreachable, "handler errors surface as unreachable")

    _, err = c.Heartbeat(ctx, "srv", transport.HeartbeatRequest{PartitionID: 99})
    require.Error(t, err)
    require.NotErrorIs(t, err, transport.ErrUnreachable)
}

func TestClient_ServerGone(t *testing.T) {
    srv := startServer(t, &echoHandler{})
    c := NewClient(300 * time.Millisecond)
    defer c.Close()
    c.SetAddress("srv", srv.Addr())
    _, err := c.RequestVote(context.Background(), "srv", transport.VoteRequest{PartitionID: 7})
    require.NoError(t, err)

    require.NoError(t, srv.Stop(context.Background()))
    _, err = c.RequestVote(context.Background(), "srv", transport.VoteRequest{PartitionID: 7})
    require.Error(t, err)
}

func TestConnManager_InvalidateAndEvict(t *testing.T) {
    srv := startServer(t, &echoHandler{})
    c := NewClient(time.Second)
    m := NewConnManager(time.Hour, c.dial)
    defer m.Close()

    cc, release, err := m.Get(context.Background(), srv.Addr())
    require.NoError(t, err)
    again, release2, err := m.Get(context.Background(), srv.Addr())
    require.NoError(t, err)
    require.Same(t, cc, again)
    release()
    release2()
    release2()

    m.Invalidate(srv.Addr())
    require.Equal(t, 0, m.Len())

    _, release, err = m.Get(context.Background(), srv.Addr())
    require.NoError(t, err)
    release()
    require.Equal(t, 1, m.Len())
    m.evictIdle(time.Now().Add(time.Minute))
    require.Equal(t, 0, m.Len())
}
