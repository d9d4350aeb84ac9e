// Package grpc carries partition RPCs over gRPC with a JSON codec, so no
// protobuf code generation is needed. One Server hosts any number of
// partitions, routed by the partition id carried in every request.
package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "strconv"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-partition/pkg/observability/tracing"
    "github.com/amirimatin/go-partition/pkg/transport"
)

const serviceName = "partition.v1.Raft"

// Server serves partition RPCs for the handlers registered on it.
type Server struct {
    bind   string
    tlsCfg *tls.Config

    mu       sync.RWMutex
    lis      net.Listener
    srv      *grpc.Server
    health   *health.Server
    handlers map[int]transport.Handler
}

func NewServer(bind string) *Server {
    return &Server{bind: bind, handlers: make(map[int]transport.Handler)}
}

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Register routes RPCs for partitionID to h. Handlers may be added while
// the server runs.
func (s *Server) Register(partitionID int, h transport.Handler) {
    s.mu.Lock()
    s.handlers[partitionID] = h
    s.mu.Unlock()
}

func (s *Server) Unregister(partitionID int) {
    s.mu.Lock()
    delete(s.handlers, partitionID)
    s.mu.Unlock()
}

func (s *Server) handler(partitionID int) (transport.Handler, error) {
    s.mu.RLock()
    h, ok := s.handlers[partitionID]
    s.mu.RUnlock()
    if !ok { return nil, status.Errorf(codes.NotFound, "partition %d not served here", partitionID) }
    return h, nil
}

// raftServer is the service implemented by the registered handlers.
type raftServer interface {
    RequestVote(ctx context.Context, in *transport.VoteRequest) (*transport.VoteResponse, error)
    Heartbeat(ctx context.Context, in *transport.HeartbeatRequest) (*transport.HeartbeatResponse, error)
    Configure(ctx context.Context, in *transport.ConfigureRequest) (*transport.ConfigureResponse, error)
    ForceConfigure(ctx context.Context, in *transport.ForceConfigureRequest) (*transport.ForceConfigureResponse, error)
}

type raftImpl struct{ server *Server }

func (r *raftImpl) RequestVote(ctx context.Context, in *transport.VoteRequest) (*transport.VoteResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.request_vote", "partition", strconv.Itoa(in.PartitionID))
    defer end()
    h, err := r.server.handler(in.PartitionID)
    if err != nil { return nil, err }
    out, err := h.HandleVote(ctx, *in)
    if err != nil { return nil, toStatus(err) }
    return &out, nil
}

func (r *raftImpl) Heartbeat(ctx context.Context, in *transport.HeartbeatRequest) (*transport.HeartbeatResponse, error) {
    h, err := r.server.handler(in.PartitionID)
    if err != nil { return nil, err }
    out, err := h.HandleHeartbeat(ctx, *in)
    if err != nil { return nil, toStatus(err) }
    return &out, nil
}

func (r *raftImpl) Configure(ctx context.Context, in *transport.ConfigureRequest) (*transport.ConfigureResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.configure", "partition", strconv.Itoa(in.PartitionID))
    defer end()
    h, err := r.server.handler(in.PartitionID)
    if err != nil { return nil, err }
    out, err := h.HandleConfigure(ctx, *in)
    if err != nil { return nil, toStatus(err) }
    return &out, nil
}

func (r *raftImpl) ForceConfigure(ctx context.Context, in *transport.ForceConfigureRequest) (*transport.ForceConfigureResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.force_configure", "partition", strconv.Itoa(in.PartitionID))
    defer end()
    h, err := r.server.handler(in.PartitionID)
    if err != nil { return nil, err }
    out, err := h.HandleForceConfigure(ctx, *in)
    if err != nil { return nil, toStatus(err) }
    return &out, nil
}

// toStatus maps handler errors to gRPC codes the client turns back into
// transport errors.
func toStatus(err error) error {
    switch {
    case errors.Is(err, context.DeadlineExceeded):
        return status.Error(codes.DeadlineExceeded, err.Error())
    case errors.Is(err, context.Canceled):
        return status.Error(codes.Canceled, err.Error())
    }
    return status.Error(codes.Unavailable, err.Error())
}

// Service descriptor and handlers (hand-written, no codegen required)
var raftServiceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*raftServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "RequestVote", Handler: requestVoteHandler},
        {MethodName: "Heartbeat", Handler: heartbeatHandler},
        {MethodName: "Configure", Handler: configureHandler},
        {MethodName: "ForceConfigure", Handler: forceConfigureHandler},
    },
}

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.VoteRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(raftServer).RequestVote(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RequestVote"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(raftServer).RequestVote(ctx, req.(*transport.VoteRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func heartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.HeartbeatRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(raftServer).Heartbeat(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Heartbeat"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(raftServer).Heartbeat(ctx, req.(*transport.HeartbeatRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func configureHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.ConfigureRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(raftServer).Configure(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Configure"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(raftServer).Configure(ctx, req.(*transport.ConfigureRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func forceConfigureHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.ForceConfigureRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(raftServer).ForceConfigure(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ForceConfigure"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(raftServer).ForceConfigure(ctx, req.(*transport.ForceConfigureRequest))
    }
    return interceptor(ctx, in, info, handler)
}

// Start listens on the bind address and serves until ctx is done or Stop.
func (s *Server) Start(ctx context.Context) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    // Force JSON codec to avoid requiring protobuf types
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&raftServiceDesc, &raftImpl{server: s})

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(sctx)
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr is the listening address once started, the bind address before.
func (s *Server) Addr() string {
    s.mu.RLock()
    defer s.mu.RUnlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop drains in-flight RPCs until ctx is done, then closes the listener.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, lis, hs := s.srv, s.lis, s.health
    s.srv, s.lis, s.health = nil, nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    hs.Shutdown()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    if lis != nil { _ = lis.Close() }
    return nil
}
