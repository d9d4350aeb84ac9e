package transport

import (
    "context"
    "errors"
    "testing"
)

type echoHandler struct{ id string }

func (h echoHandler) HandleVote(_ context.Context, req VoteRequest) (VoteResponse, error) {
    return VoteResponse{Term: req.Term, Voter: "b", Granted: true}, nil
}
func (h echoHandler) HandleHeartbeat(_ context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
    return HeartbeatResponse{Term: req.Term, Success: true}, nil
}
func (h echoHandler) HandleConfigure(_ context.Context, req ConfigureRequest) (ConfigureResponse, error) {
    return ConfigureResponse{Term: req.Term, Accepted: true}, nil
}
func (h echoHandler) HandleForceConfigure(_ context.Context, req ForceConfigureRequest) (ForceConfigureResponse, error) {
    return ForceConfigureResponse{Term: req.Term, Accepted: true}, nil
}

func TestLocalNetwork_RoutesAndPartitions(t *testing.T) {
    n := NewLocalNetwork()
    n.Register("b", echoHandler{})
    a := n.Transport("a")
    ctx := context.Background()

    resp, err := a.RequestVote(ctx, "b", VoteRequest{Term: 3, Candidate: "a"})
    if err != nil || !resp.Granted || resp.Term != 3 { t.Fatalf("vote: %+v %v", resp, err) }

    n.Disconnect("a")
    if _, err := a.Heartbeat(ctx, "b", HeartbeatRequest{Term: 3}); !errors.Is(err, ErrUnreachable) {
        t.Fatalf("expected unreachable from disconnected sender, got %v", err)
    }
    n.Reconnect("a")
    n.Disconnect("b")
    if _, err := a.Configure(ctx, "b", ConfigureRequest{Term: 3}); !errors.Is(err, ErrUnreachable) {
        t.Fatalf("expected unreachable to disconnected target, got %v", err)
    }
    n.Reconnect("b")
    if _, err := a.ForceConfigure(ctx, "b", ForceConfigureRequest{Term: 3}); err != nil { t.Fatalf("force: %v", err) }

    if _, err := a.RequestVote(ctx, "c", VoteRequest{}); !errors.Is(err, ErrUnknownMember) {
        t.Fatalf("expected unknown member, got %v", err)
    }
    cctx, cancel := context.WithCancel(ctx)
    cancel()
    if _, err := a.RequestVote(cctx, "b", VoteRequest{}); !errors.Is(err, context.Canceled) {
        t.Fatalf("expected canceled, got %v", err)
    }
}
