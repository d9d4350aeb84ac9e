package file

import (
    "bufio"
    "context"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/discovery"
)

// Options configures file/ENV-based member resolution.
type Options struct {
    // Path to a file (or glob) with one "id=host:port" entry per line or a
    // comma-separated list.
    Path string
    // Env overrides the file when non-empty.
    Env string
    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache map[consensus.MemberID]string
}

func New(opts Options) discovery.Resolver {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &impl{opts: opts}
}

func (i *impl) Resolve(_ context.Context, id consensus.MemberID) (string, error) {
    addrs := i.Members()
    if addr, ok := addrs[id]; ok { return addr, nil }
    return "", fmt.Errorf("%w: %s", discovery.ErrNotFound, id)
}

// Members returns the current id to address map.
func (i *impl) Members() map[consensus.MemberID]string {
    i.mu.Lock()
    defer i.mu.Unlock()
    // ENV takes precedence
    if i.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(i.opts.Env)); v != "" { return parseLine(v, map[consensus.MemberID]string{}) }
    }
    if i.opts.Path == "" { return nil }
    now := time.Now()
    stat, err := os.Stat(i.opts.Path)
    if err == nil {
        if stat.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
            i.cache = loadFiles([]string{i.opts.Path})
            i.last = now
            i.mtime = stat.ModTime()
        }
        return i.cache
    }
    if now.Sub(i.last) < i.opts.Refresh && i.cache != nil { return i.cache }
    // try glob
    if matches, _ := filepath.Glob(i.opts.Path); len(matches) > 0 {
        sort.Strings(matches)
        i.cache = loadFiles(matches)
        i.last = now
    }
    return i.cache
}

// loadFiles merges entries from paths; later files win on duplicate ids.
func loadFiles(paths []string) map[consensus.MemberID]string {
    out := map[consensus.MemberID]string{}
    for _, path := range paths {
        f, err := os.Open(path)
        if err != nil { continue }
        s := bufio.NewScanner(f)
        for s.Scan() {
            line := strings.TrimSpace(s.Text())
            if line == "" || strings.HasPrefix(line, "#") { continue }
            parseLine(line, out)
        }
        _ = f.Close()
    }
    return out
}

func parseLine(line string, into map[consensus.MemberID]string) map[consensus.MemberID]string {
    for _, p := range strings.Split(line, ",") {
        id, addr, ok := strings.Cut(strings.TrimSpace(p), "=")
        id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
        if ok && id != "" && addr != "" { into[consensus.MemberID(id)] = addr }
    }
    return into
}
