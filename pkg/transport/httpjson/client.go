package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strconv"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/partition"
)

// Client is a thin HTTP client for the management API. It supports optional
// TLS configuration and retries with backoff when the node is unreachable.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
    attempts  int
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr, attempts: 3}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

// RemoteError is a non-2xx answer from the management API.
type RemoteError struct {
    Code   int
    Msg    string
    Leader consensus.MemberID
}

func (e *RemoteError) Error() string {
    if e.Leader != "" { return fmt.Sprintf("status %d: %s (leader %s)", e.Code, e.Msg, e.Leader) }
    return fmt.Sprintf("status %d: %s", e.Code, e.Msg)
}

func (c *Client) url(addr, path string, partitionID int) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    u := url.URL{Scheme: scheme, Host: addr, Path: path}
    if partitionID > 0 { u.RawQuery = url.Values{"partition": {strconv.Itoa(partitionID)}}.Encode() }
    return u.String()
}

// do sends the request, decoding a 200 answer into out. Connection errors
// and 503 answers are retried with exponential backoff.
func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
    var body []byte
    if in != nil {
        b, err := json.Marshal(in)
        if err != nil { return err }
        body = b
    }
    var lastErr error
    for attempt := 0; attempt < c.attempts; attempt++ {
        retry, err := c.once(ctx, method, target, body, out)
        if err == nil { return nil }
        lastErr = err
        if !retry { return err }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            return lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) once(ctx context.Context, method, target string, body []byte, out any) (bool, error) {
    var rd io.Reader
    if body != nil { rd = bytes.NewReader(body) }
    req, err := http.NewRequestWithContext(ctx, method, target, rd)
    if err != nil { return false, err }
    if body != nil { req.Header.Set("Content-Type", "application/json") }
    resp, err := c.httpc.Do(req)
    if err != nil { return ctx.Err() == nil, err }
    defer resp.Body.Close()
    b, _ := io.ReadAll(resp.Body)
    if resp.StatusCode != http.StatusOK {
        rerr := &RemoteError{Code: resp.StatusCode, Msg: string(bytes.TrimSpace(b))}
        var res Result
        if json.Unmarshal(b, &res) == nil && res.Error != "" { rerr.Msg, rerr.Leader = res.Error, res.Leader }
        return resp.StatusCode == http.StatusServiceUnavailable, rerr
    }
    if out == nil { return false, nil }
    return false, json.Unmarshal(b, out)
}

// Status returns the status of every partition served at addr, or only of
// partitionID when it is positive.
func (c *Client) Status(ctx context.Context, addr string, partitionID int) ([]partition.Status, error) {
    var out []partition.Status
    err := c.do(ctx, http.MethodGet, c.url(addr, "/status", partitionID), nil, &out)
    return out, err
}

func (c *Client) StepDown(ctx context.Context, addr string, partitionID int) error {
    return c.do(ctx, http.MethodPost, c.url(addr, "/step-down", partitionID), struct{}{}, nil)
}

func (c *Client) SetPriority(ctx context.Context, addr string, partitionID, priority int) error {
    return c.do(ctx, http.MethodPost, c.url(addr, "/priority", partitionID), PriorityRequest{Priority: priority}, nil)
}

func (c *Client) Compact(ctx context.Context, addr string, partitionID int, req CompactRequest) (CompactResponse, error) {
    var out CompactResponse
    err := c.do(ctx, http.MethodPost, c.url(addr, "/compact", partitionID), req, &out)
    return out, err
}

func (c *Client) Snapshot(ctx context.Context, addr string, partitionID int, req SnapshotRequest) (consensus.PersistedSnapshot, error) {
    var out consensus.PersistedSnapshot
    err := c.do(ctx, http.MethodPost, c.url(addr, "/snapshot", partitionID), req, &out)
    return out, err
}

func (c *Client) Configure(ctx context.Context, addr string, partitionID int, members []consensus.MemberID) error {
    return c.do(ctx, http.MethodPost, c.url(addr, "/configure", partitionID), ConfigureRequest{Members: members}, nil)
}

func (c *Client) ForceConfigure(ctx context.Context, addr string, partitionID int, members []consensus.MemberID) error {
    return c.do(ctx, http.MethodPost, c.url(addr, "/force-configure", partitionID), ConfigureRequest{Members: members}, nil)
}
