// Package election schedules the election timeouts of a follower. With
// priority election enabled, higher ranked replicas time out sooner so the
// preferred replica usually wins; otherwise the timeout is randomized.
package election

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-partition/pkg/threadctx"
)

// ElectionTimer triggers an election when no leader was heard from in time.
// All methods must be called on the owning context.
type ElectionTimer interface {
    // Reset cancels any pending firing and schedules a new one.
    Reset()
    // Cancel stops the timer until the next Reset.
    Cancel()
}

// Config selects and parameterizes the election timer.
type Config struct {
    PriorityElectionEnabled bool `json:"priorityElectionEnabled" yaml:"enabled"`
    // InitialTargetPriority is the priority of the most preferred replica.
    InitialTargetPriority int `json:"initialTargetPriority" yaml:"targetPriority"`
    // NodePriority is this replica's rank, 1 being the lowest.
    NodePriority int `json:"nodePriority" yaml:"nodePriority"`
}

var ErrInvalidPriority = errors.New("election: target priority must be at least 1")

// Options for building a timer.
type Options struct {
    Config      Config
    BaseTimeout time.Duration
    Context     threadctx.Context
    // Trigger runs on Context when the timer fires.
    Trigger func()
    // Label names the partition in logs and metrics.
    Label  string
    Logger *log.Logger
}

func (o *Options) validate() error {
    if o.Context == nil { return errors.New("election: context is required") }
    if o.Trigger == nil { return errors.New("election: trigger is required") }
    if o.BaseTimeout <= 0 { return errors.New("election: base timeout must be positive") }
    if o.Logger == nil { o.Logger = log.Default() }
    return nil
}

// NewTimer returns a PriorityElectionTimer when priority election is enabled
// and a RandomizedElectionTimer otherwise. The timer is not started.
func NewTimer(opts Options) (ElectionTimer, error) {
    if err := opts.validate(); err != nil { return nil, err }
    if opts.Config.PriorityElectionEnabled {
        return NewPriorityElectionTimer(opts)
    }
    return NewRandomizedElectionTimer(opts)
}
