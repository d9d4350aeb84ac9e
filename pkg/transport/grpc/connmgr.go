package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    "github.com/amirimatin/go-partition/pkg/observability/metrics"
)

// Dialer creates a client connection to target.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager shares one connection per peer address between the
// partitions of a node and closes connections idle for longer than ttl.
type ConnManager struct {
    ttl    time.Duration
    dialer Dialer

    mu      sync.Mutex
    conns   map[string]*peerConn
    closing chan struct{}
    once    sync.Once
}

type peerConn struct {
    cc       *grpc.ClientConn
    inFlight int
    lastUsed time.Time
    // stale connections are closed once the last caller releases them
    stale bool
}

func NewConnManager(ttl time.Duration, dialer Dialer) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dialer: dialer, conns: make(map[string]*peerConn), closing: make(chan struct{})}
    go m.janitor()
    return m
}

// Get returns the connection for target and a release func to call when
// the RPC is done.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    m.mu.Lock()
    if pc, ok := m.conns[target]; ok {
        pc.inFlight++
        pc.lastUsed = time.Now()
        m.mu.Unlock()
        metrics.GRPCConnReuse.Inc()
        return pc.cc, m.releaser(target, pc), nil
    }
    m.mu.Unlock()

    cc, err := m.dialer(ctx, target)
    if err != nil { return nil, nil, err }

    m.mu.Lock()
    defer m.mu.Unlock()
    if pc, ok := m.conns[target]; ok {
        // lost the race against a concurrent dial
        _ = cc.Close()
        pc.inFlight++
        pc.lastUsed = time.Now()
        metrics.GRPCConnReuse.Inc()
        return pc.cc, m.releaser(target, pc), nil
    }
    pc := &peerConn{cc: cc, inFlight: 1, lastUsed: time.Now()}
    m.conns[target] = pc
    metrics.GRPCConnDials.Inc()
    metrics.GRPCConnActive.Inc()
    return cc, m.releaser(target, pc), nil
}

func (m *ConnManager) releaser(target string, pc *peerConn) func() {
    var once sync.Once
    return func() {
        once.Do(func() {
            m.mu.Lock()
            defer m.mu.Unlock()
            if pc.inFlight > 0 { pc.inFlight-- }
            pc.lastUsed = time.Now()
            if pc.stale && pc.inFlight == 0 { _ = pc.cc.Close() }
        })
    }
}

// Invalidate drops the connection to target so the next Get dials again.
func (m *ConnManager) Invalidate(target string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    pc, ok := m.conns[target]
    if !ok { return }
    delete(m.conns, target)
    metrics.GRPCConnEvictions.Inc()
    metrics.GRPCConnActive.Dec()
    if pc.inFlight == 0 {
        _ = pc.cc.Close()
        return
    }
    pc.stale = true
}

// Len is the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

// Close closes all cached connections and stops the janitor.
func (m *ConnManager) Close() {
    m.once.Do(func() { close(m.closing) })
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, pc := range m.conns {
        _ = pc.cc.Close()
        metrics.GRPCConnActive.Dec()
        delete(m.conns, target)
    }
}

func (m *ConnManager) janitor() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.closing:
            return
        case <-ticker.C:
            m.evictIdle(time.Now().Add(-m.ttl))
        }
    }
}

func (m *ConnManager) evictIdle(cutoff time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, pc := range m.conns {
        if pc.inFlight > 0 || !pc.lastUsed.Before(cutoff) { continue }
        _ = pc.cc.Close()
        metrics.GRPCConnEvictions.Inc()
        metrics.GRPCConnActive.Dec()
        delete(m.conns, target)
    }
}
