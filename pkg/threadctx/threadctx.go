// Package threadctx provides the single-threaded execution contexts that own a
// partition's consensus state. All mutations of that state happen on the
// owning context; other goroutines hand work over with Execute.
package threadctx

import (
    "fmt"
    "runtime"
    "strconv"
    "strings"
    "time"
)

// Context is a cooperative, single-threaded execution context.
type Context interface {
    // Execute enqueues task to run on the context. It never blocks the caller.
    Execute(task func())
    // Schedule runs task on the context once delay has elapsed, unless the
    // returned handle is cancelled first.
    Schedule(delay time.Duration, task func()) Scheduled
    // CheckThread panics with *ThreadViolation when the caller is not running
    // on the context.
    CheckThread()
}

// Scheduled is a handle to a delayed task. Cancelling on the owning context
// guarantees the task does not run afterwards, even if its timer already expired.
type Scheduled interface {
    Cancel()
}

// ThreadViolation is the panic value raised by CheckThread.
type ThreadViolation struct {
    Context string
    Owner   int64
    Caller  int64
}

func (v *ThreadViolation) Error() string {
    return fmt.Sprintf("threadctx: %s accessed from goroutine %d, owner is goroutine %d", v.Context, v.Caller, v.Owner)
}

// goid returns the id of the calling goroutine as printed in stack traces.
func goid() int64 {
    var buf [64]byte
    n := runtime.Stack(buf[:], false)
    s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
    if i := strings.IndexByte(s, ' '); i > 0 {
        if id, err := strconv.ParseInt(s[:i], 10, 64); err == nil { return id }
    }
    return -1
}

func check(name string, owner int64) {
    if caller := goid(); caller != owner {
        panic(&ThreadViolation{Context: name, Owner: owner, Caller: caller})
    }
}
