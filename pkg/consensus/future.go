package consensus

import "sync"

// Future is a one-shot completion signal. Error blocks until the operation
// completes and returns its outcome. The method set matches hashicorp raft's
// Future so raft futures can be returned directly.
type Future interface {
    Error() error
}

// Promise is a Future completed explicitly by its producer. Only the first
// Complete call has an effect.
type Promise struct {
    once sync.Once
    done chan struct{}
    err  error
}

func NewPromise() *Promise { return &Promise{done: make(chan struct{})} }

// Complete resolves the promise with err (nil on success).
func (p *Promise) Complete(err error) {
    p.once.Do(func() {
        p.err = err
        close(p.done)
    })
}

// Done is closed once the promise is completed.
func (p *Promise) Done() <-chan struct{} { return p.done }

func (p *Promise) Error() error {
    <-p.done
    return p.err
}

// CompletedFuture returns a Future that is already resolved with err.
func CompletedFuture(err error) Future {
    p := NewPromise()
    p.Complete(err)
    return p
}
