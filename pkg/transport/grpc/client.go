package grpc

import (
    "context"
    "crypto/tls"
    "fmt"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/discovery"
    "github.com/amirimatin/go-partition/pkg/transport"
)

// Client implements transport.Transport. Members are resolved to addresses
// through SetAddress, falling back to a discovery.Resolver; connections are
// cached by a ConnManager.
type Client struct {
    timeout  time.Duration
    tlsCfg   *tls.Config
    resolver discovery.Resolver

    mu    sync.RWMutex
    addrs map[consensus.MemberID]string
    cm    *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{timeout: timeout, addrs: make(map[consensus.MemberID]string)}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

// UseResolver sets the resolver consulted for members without a fixed address.
func (c *Client) UseResolver(r discovery.Resolver) *Client { c.resolver = r; return c }

// SetAddress records the RPC address of member id.
func (c *Client) SetAddress(id consensus.MemberID, addr string) {
    c.mu.Lock()
    c.addrs[id] = addr
    c.mu.Unlock()
}

func (c *Client) Address(id consensus.MemberID) (string, bool) {
    c.mu.RLock()
    defer c.mu.RUnlock()
    addr, ok := c.addrs[id]
    return addr, ok
}

// Close releases all cached connections.
func (c *Client) Close() {
    c.mu.Lock()
    cm := c.cm
    c.cm = nil
    c.mu.Unlock()
    if cm != nil { cm.Close() }
}

func (c *Client) dial(_ context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype(codecName)),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.NewClient("passthrough:///"+target, opts...)
}

// getConn returns a managed connection, creating a manager if absent.
func (c *Client) getConn(ctx context.Context, to consensus.MemberID) (*grpc.ClientConn, string, func(), error) {
    c.mu.Lock()
    addr, ok := c.addrs[to]
    if c.cm == nil { c.cm = NewConnManager(30*time.Second, c.dial) }
    cm := c.cm
    c.mu.Unlock()
    if !ok {
        if c.resolver == nil { return nil, "", nil, fmt.Errorf("%w: %s", transport.ErrUnknownMember, to) }
        var err error
        if addr, err = c.resolver.Resolve(ctx, to); err != nil {
            return nil, "", nil, fmt.Errorf("%w: %s: %v", transport.ErrUnknownMember, to, err)
        }
    }
    cc, release, err := cm.Get(ctx, addr)
    if err != nil { return nil, "", nil, fmt.Errorf("%w: %s: %v", transport.ErrUnreachable, to, err) }
    return cc, addr, release, nil
}

// invoke calls method on member to with the client timeout.
func (c *Client) invoke(ctx context.Context, to consensus.MemberID, method string, in, out interface{}) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, addr, release, err := c.getConn(cctx, to)
    if err != nil { return err }
    defer release()
    err = cc.Invoke(cctx, "/"+serviceName+"/"+method, in, out)
    if err == nil { return nil }
    switch status.Code(err) {
    case codes.Unavailable:
        c.invalidate(addr)
        return fmt.Errorf("%w: %s: %v", transport.ErrUnreachable, to, err)
    case codes.DeadlineExceeded:
        return fmt.Errorf("%w: %s: %v", context.DeadlineExceeded, to, err)
    }
    return err
}

func (c *Client) invalidate(addr string) {
    c.mu.RLock()
    cm := c.cm
    c.mu.RUnlock()
    if cm != nil { cm.Invalidate(addr) }
}

func (c *Client) RequestVote(ctx context.Context, to consensus.MemberID, req transport.VoteRequest) (transport.VoteResponse, error) {
    var resp transport.VoteResponse
    err := c.invoke(ctx, to, "RequestVote", &req, &resp)
    return resp, err
}

func (c *Client) Heartbeat(ctx context.Context, to consensus.MemberID, req transport.HeartbeatRequest) (transport.HeartbeatResponse, error) {
    var resp transport.HeartbeatResponse
    err := c.invoke(ctx, to, "Heartbeat", &req, &resp)
    return resp, err
}

func (c *Client) Configure(ctx context.Context, to consensus.MemberID, req transport.ConfigureRequest) (transport.ConfigureResponse, error) {
    var resp transport.ConfigureResponse
    err := c.invoke(ctx, to, "Configure", &req, &resp)
    return resp, err
}

func (c *Client) ForceConfigure(ctx context.Context, to consensus.MemberID, req transport.ForceConfigureRequest) (transport.ForceConfigureResponse, error) {
    var resp transport.ForceConfigureResponse
    err := c.invoke(ctx, to, "ForceConfigure", &req, &resp)
    return resp, err
}

var _ transport.Transport = (*Client)(nil)
