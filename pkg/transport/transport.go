// Package transport defines the messages partitions exchange and the client
// and server sides of the partition RPC layer.
package transport

import (
    "context"
    "errors"

    "github.com/amirimatin/go-partition/pkg/consensus"
)

// Transport sends partition RPCs to other members. Implementations must be
// safe for concurrent use; calls block until a response, an error or ctx done.
type Transport interface {
    RequestVote(ctx context.Context, to consensus.MemberID, req VoteRequest) (VoteResponse, error)
    Heartbeat(ctx context.Context, to consensus.MemberID, req HeartbeatRequest) (HeartbeatResponse, error)
    Configure(ctx context.Context, to consensus.MemberID, req ConfigureRequest) (ConfigureResponse, error)
    ForceConfigure(ctx context.Context, to consensus.MemberID, req ForceConfigureRequest) (ForceConfigureResponse, error)
}

// Handler serves partition RPCs on the receiving member.
type Handler interface {
    HandleVote(ctx context.Context, req VoteRequest) (VoteResponse, error)
    HandleHeartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error)
    HandleConfigure(ctx context.Context, req ConfigureRequest) (ConfigureResponse, error)
    HandleForceConfigure(ctx context.Context, req ForceConfigureRequest) (ForceConfigureResponse, error)
}

var (
    // ErrUnreachable is returned when the target member cannot be contacted.
    ErrUnreachable = errors.New("transport: member unreachable")
    // ErrUnknownMember is returned when no address is known for the target.
    ErrUnknownMember = errors.New("transport: unknown member")
)
