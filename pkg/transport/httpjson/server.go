package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "sort"
    "strconv"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-partition/pkg/internal/logutil"
    "github.com/amirimatin/go-partition/pkg/observability/tracing"
    "github.com/amirimatin/go-partition/pkg/partition"
)

// Server exposes status, leadership, compaction and membership endpoints
// plus metrics and healthz. Requests select a partition with the
// `partition` query parameter; it may be omitted when one is registered.
type Server struct {
    bind   string
    logger *log.Logger
    tlsCfg *tls.Config

    mu     sync.RWMutex
    srv    *http.Server
    lis    net.Listener
    admins map[int]Admin
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger, admins: make(map[int]Admin)}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func (s *Server) Register(partitionID int, a Admin) {
    s.mu.Lock()
    s.admins[partitionID] = a
    s.mu.Unlock()
}

func (s *Server) admin(r *http.Request) (Admin, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    if v := r.URL.Query().Get("partition"); v != "" {
        id, err := strconv.Atoi(v)
        if err != nil { return nil, fmt.Errorf("bad partition %q", v) }
        a, ok := s.admins[id]
        if !ok { return nil, fmt.Errorf("partition %d not served here", id) }
        return a, nil
    }
    if len(s.admins) != 1 { return nil, fmt.Errorf("partition parameter required (%d partitions served)", len(s.admins)) }
    for _, a := range s.admins { return a, nil }
    return nil, nil
}

// Handler returns the management mux.
func (s *Server) Handler() http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", s.handleStatus)
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())

    mux.HandleFunc("/step-down", s.post("step_down", func(ctx context.Context, a Admin, _ *http.Request) (any, error) {
        return nil, await(ctx, a.StepDown())
    }))
    mux.HandleFunc("/priority", s.post("priority", func(ctx context.Context, a Admin, r *http.Request) (any, error) {
        var req PriorityRequest
        if err := decode(r, &req); err != nil { return nil, err }
        return nil, await(ctx, a.ReconfigurePriority(req.Priority))
    }))
    mux.HandleFunc("/compact", s.post("compact", func(ctx context.Context, a Admin, r *http.Request) (any, error) {
        var req CompactRequest
        if err := decode(r, &req); err != nil { return nil, err }
        if req.Index > 0 {
            if err := a.SetCompactableIndex(ctx, req.Index); err != nil { return nil, err }
        }
        deleted, err := a.Compact(ctx, req.IgnoreThreshold)
        if err != nil { return nil, err }
        return CompactResponse{Deleted: deleted, Status: a.Status()}, nil
    }))
    mux.HandleFunc("/snapshot", s.post("snapshot", func(ctx context.Context, a Admin, r *http.Request) (any, error) {
        var req SnapshotRequest
        if err := decode(r, &req); err != nil { return nil, err }
        return a.TakeSnapshot(ctx, req.ProcessedPosition, req.ExportedPosition, req.Data)
    }))
    mux.HandleFunc("/configure", s.post("configure", func(ctx context.Context, a Admin, r *http.Request) (any, error) {
        var req ConfigureRequest
        if err := decode(r, &req); err != nil { return nil, err }
        return nil, await(ctx, a.Reconfigure(req.Members))
    }))
    mux.HandleFunc("/force-configure", s.post("force_configure", func(ctx context.Context, a Admin, r *http.Request) (any, error) {
        var req ConfigureRequest
        if err := decode(r, &req); err != nil { return nil, err }
        return nil, await(ctx, a.ForceConfigure(req.Members))
    }))
    return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
    _, end := tracing.StartSpan(r.Context(), "http.status")
    defer end()
    if r.URL.Query().Get("partition") == "" {
        // all partitions when none is selected
        s.mu.RLock()
        out := make([]partition.Status, 0, len(s.admins))
        for _, a := range s.admins { out = append(out, a.Status()) }
        s.mu.RUnlock()
        sort.Slice(out, func(i, j int) bool { return out[i].PartitionID < out[j].PartitionID })
        writeJSON(w, http.StatusOK, out)
        return
    }
    a, err := s.admin(r)
    if err != nil { http.Error(w, err.Error(), http.StatusNotFound); return }
    writeJSON(w, http.StatusOK, []partition.Status{a.Status()})
}

type badRequest struct{ error }

func decode(r *http.Request, v any) error {
    if r.ContentLength == 0 { return nil }
    if err := json.NewDecoder(r.Body).Decode(v); err != nil { return badRequest{fmt.Errorf("bad request: %w", err)} }
    return nil
}

// post wraps a mutating endpoint: method check, partition lookup, span and
// error mapping. A nil result is answered with Result{OK: true}.
func (s *Server) post(name string, fn func(ctx context.Context, a Admin, r *http.Request) (any, error)) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        a, err := s.admin(r)
        if err != nil { http.Error(w, err.Error(), http.StatusNotFound); return }
        ctx, end := tracing.StartSpan(r.Context(), "http."+name)
        defer end()
        out, err := fn(ctx, a, r)
        if err != nil {
            code := statusCode(err)
            if _, ok := err.(badRequest); ok { code = http.StatusBadRequest }
            logutil.Debugf(s.logger, "httpjson: %s failed: %v", name, err)
            writeJSON(w, code, Result{Error: err.Error(), Leader: a.Status().Leader})
            return
        }
        if out == nil { out = Result{OK: true} }
        writeJSON(w, http.StatusOK, out)
    }
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

// Start launches the HTTP server. The server is shut down when the context
// is canceled.
func (s *Server) Start(ctx context.Context) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil { ln = tls.NewListener(ln, s.tlsCfg) }
    srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
    s.mu.Lock()
    s.srv, s.lis = srv, ln
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr is the listening address once started, the bind address before.
func (s *Server) Addr() string {
    s.mu.RLock()
    defer s.mu.RUnlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}
