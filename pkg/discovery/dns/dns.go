package dns

import (
    "context"
    "fmt"
    "log"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/discovery"
    "github.com/amirimatin/go-partition/pkg/internal/logutil"
)

// Options configures DNS-based member resolution.
type Options struct {
    // Template builds the DNS name of a member from its id via fmt.Sprintf.
    // Examples: "%s.partition.default.svc" (A/AAAA) or
    // "_raft._tcp.%s.example.com" (SRV).
    Template string

    // Port used when resolving A/AAAA records (no port info in DNS answer).
    Port int

    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration

    // Resolver optionally overrides the DNS resolver used.
    Resolver *net.Resolver

    // Logger optional.
    Logger *log.Logger
}

type entry struct {
    addr string
    at   time.Time
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    cache map[consensus.MemberID]entry
}

// New returns a DNS-backed Resolver that resolves SRV and A/AAAA names and
// caches each answer for the Refresh duration.
func New(opts Options) discovery.Resolver {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Port == 0 { opts.Port = 9520 }
    if opts.Template == "" { opts.Template = "%s" }
    return &impl{opts: opts, cache: make(map[consensus.MemberID]entry)}
}

func (d *impl) Resolve(ctx context.Context, id consensus.MemberID) (string, error) {
    d.mu.Lock()
    e, ok := d.cache[id]
    d.mu.Unlock()
    if ok && time.Since(e.at) < d.opts.Refresh { return e.addr, nil }

    name := fmt.Sprintf(d.opts.Template, id)
    addrs := d.resolveName(ctx, name)
    if len(addrs) == 0 {
        // keep serving the last known answer while DNS is unavailable
        if ok { return e.addr, nil }
        return "", fmt.Errorf("%w: %s (%s)", discovery.ErrNotFound, id, name)
    }
    sort.Strings(addrs)
    if ok && e.addr != addrs[0] { logutil.Infof(d.opts.Logger, "member %s moved %s -> %s", id, e.addr, addrs[0]) }
    d.mu.Lock()
    d.cache[id] = entry{addr: addrs[0], at: time.Now()}
    d.mu.Unlock()
    return addrs[0], nil
}

func (d *impl) resolveName(ctx context.Context, name string) []string {
    // already host:port
    if !strings.HasPrefix(name, "_") {
        if _, _, err := net.SplitHostPort(name); err == nil { return []string{name} }
    }
    if strings.HasPrefix(name, "_") && strings.Contains(name, "._") {
        if recs := d.lookupSRV(ctx, name); len(recs) > 0 { return recs }
    }
    return d.lookupHost(ctx, name, d.opts.Port)
}

func (d *impl) resolver() *net.Resolver {
    if d.opts.Resolver != nil { return d.opts.Resolver }
    return net.DefaultResolver
}

func (d *impl) lookupSRV(ctx context.Context, fqdn string) []string {
    svc, proto, domain := parseSRVName(fqdn)
    if svc == "" || proto == "" || domain == "" { return nil }
    _, addrs, err := d.resolver().LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        logutil.Debugf(d.opts.Logger, "srv lookup %s: %v", fqdn, err)
        return nil
    }
    out := make([]string, 0, len(addrs))
    for _, a := range addrs {
        host := strings.TrimSuffix(a.Target, ".")
        out = append(out, net.JoinHostPort(host, strconv.Itoa(int(a.Port))))
    }
    return out
}

func (d *impl) lookupHost(ctx context.Context, host string, port int) []string {
    ips, err := d.resolver().LookupHost(ctx, host)
    if err != nil {
        logutil.Debugf(d.opts.Logger, "host lookup %s: %v", host, err)
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips {
        out = append(out, net.JoinHostPort(ip, strconv.Itoa(port)))
    }
    return out
}

func parseSRVName(fqdn string) (service, proto, name string) {
    // Expect pattern: _service._proto.name
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
