// Package httpjson serves the management API of the partitions hosted by a
// node over HTTP/JSON and provides a client for it.
package httpjson

import (
    "context"
    "errors"
    "net/http"

    "github.com/amirimatin/go-partition/pkg/consensus"
    "github.com/amirimatin/go-partition/pkg/partition"
)

// Admin is the management surface of one partition replica.
type Admin interface {
    Status() partition.Status
    StepDown() consensus.Future
    ReconfigurePriority(priority int) consensus.Future
    SetCompactableIndex(ctx context.Context, index uint64) error
    Compact(ctx context.Context, ignoreThreshold bool) (bool, error)
    TakeSnapshot(ctx context.Context, processed, exported uint64, data []byte) (consensus.PersistedSnapshot, error)
    Reconfigure(members []consensus.MemberID) consensus.Future
    ForceConfigure(members []consensus.MemberID) consensus.Future
}

var _ Admin = (*partition.Partition)(nil)

type PriorityRequest struct {
    Priority int `json:"priority"`
}

// CompactRequest raises the compactable index (when non-zero) and compacts.
type CompactRequest struct {
    Index           uint64 `json:"index,omitempty"`
    IgnoreThreshold bool   `json:"ignoreThreshold,omitempty"`
}

type CompactResponse struct {
    Deleted bool             `json:"deleted"`
    Status  partition.Status `json:"status"`
}

type SnapshotRequest struct {
    ProcessedPosition uint64 `json:"processedPosition"`
    ExportedPosition  uint64 `json:"exportedPosition"`
    Data              []byte `json:"data,omitempty"`
}

type ConfigureRequest struct {
    Members []consensus.MemberID `json:"members"`
}

// Result is the body of every mutating endpoint.
type Result struct {
    OK     bool               `json:"ok"`
    Error  string             `json:"error,omitempty"`
    Leader consensus.MemberID `json:"leader,omitempty"`
}

// statusCode maps partition errors onto HTTP status codes.
func statusCode(err error) int {
    switch {
    case errors.Is(err, partition.ErrNotLeader), errors.Is(err, partition.ErrReconfigurationInProgress),
        errors.Is(err, partition.ErrConfigurationConflict):
        return http.StatusConflict
    case errors.Is(err, partition.ErrQuorumFailed), errors.Is(err, partition.ErrStopped):
        return http.StatusServiceUnavailable
    case errors.Is(err, context.DeadlineExceeded):
        return http.StatusGatewayTimeout
    }
    return http.StatusInternalServerError
}

// await waits for f or ctx, whichever comes first.
func await(ctx context.Context, f consensus.Future) error {
    done := make(chan error, 1)
    go func() { done <- f.Error() }()
    select {
    case err := <-done:
        return err
    case <-ctx.Done():
        return ctx.Err()
    }
}
