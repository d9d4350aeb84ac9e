package partition

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-partition/pkg/consensus"
)

type EventType string

const (
    EventRoleChanged          EventType = "role_changed"
    EventLeaderChanged        EventType = "leader_changed"
    EventElectionStart        EventType = "election_start"
    EventElectionEnd          EventType = "election_end"
    EventConfigurationChanged EventType = "configuration_changed"
    EventCompacted            EventType = "compacted"
)

// Event describes a state change of the local replica. Only fields relevant
// to the event type are populated.
type Event struct {
    Type          EventType
    At            time.Time
    Term          uint64
    Role          Role
    Leader        consensus.MemberID
    Configuration *consensus.Configuration
    Details       map[string]string
}

// Subscribe returns a channel of events. The channel is buffered and closed
// when ctx is done. Events are dropped for slow consumers.
func (p *Partition) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    p.events.add(ch)
    go func() {
        <-ctx.Done()
        p.events.remove(ch)
        close(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    if ev.At.IsZero() { ev.At = time.Now() }
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
    e.mu.Unlock()
}
