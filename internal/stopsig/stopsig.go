// Package stopsig implements a one-shot, acknowledged stop signal.
//
// A Sender requests a stop and blocks until the paired Receiver acknowledges
// it. The Receiver races an operation against the stop request: if the stop
// arrives first, the operation's context is cancelled, the stop is
// acknowledged, and the caller learns it was stopped instead of getting the
// operation's result.
//
// Operations passed to WithStop must tolerate context cancellation at any
// point: once stopped, WithStop returns without waiting for the operation
// goroutine to unwind, so a cancelled operation must not leave shared state
// half-mutated.
//
// A Receiver is owned by a single goroutine; its methods must not be called
// concurrently. The Sender may be used from any goroutine.
package stopsig

import (
	"context"
	"sync"
)

// Sender is the requesting half of a stop pair.
type Sender struct {
	req  chan chan struct{}
	done <-chan struct{}
	once sync.Once
}

// Receiver is the observing half of a stop pair.
type Receiver struct {
	req  chan chan struct{}
	done chan struct{}

	doneOnce sync.Once
	stopped  bool
}

// Pair returns a linked Sender and Receiver.
func Pair() (*Sender, *Receiver) {
	req := make(chan chan struct{}, 1)
	done := make(chan struct{})
	return &Sender{req: req, done: done}, &Receiver{req: req, done: done}
}

// Stop requests a stop and blocks until it is acknowledged, the receiver is
// finished, or ctx expires. It reports whether an acknowledgment arrived.
// Only the first call delivers a request; repeat calls return false.
func (s *Sender) Stop(ctx context.Context) bool {
	ack := make(chan struct{})
	delivered := false
	s.once.Do(func() {
		s.req <- ack // buffered, never blocks
		delivered = true
	})
	if !delivered {
		return false
	}
	select {
	case <-ack:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// WithStop runs op with a context that is cancelled when a stop is requested.
//
// If the stop request wins the race, it is acknowledged and WithStop returns
// stopped=true with a nil error; the operation is left to unwind on its own.
// If op completes first its error is returned and the stop channel stays
// armed for subsequent calls.
func (r *Receiver) WithStop(ctx context.Context, op func(context.Context) error) (stopped bool, err error) {
	if r.stopped {
		return true, nil
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := make(chan error, 1)
	go func() {
		res <- op(opCtx)
	}()

	select {
	case ack := <-r.req:
		cancel()
		close(ack)
		r.stopped = true
		return true, nil
	case err := <-res:
		return false, err
	}
}

// Stopped reports whether a stop request is pending, acknowledging it if so.
// It never blocks, so it is safe to call as a checkpoint between items.
func (r *Receiver) Stopped() bool {
	if r.stopped {
		return true
	}
	select {
	case ack := <-r.req:
		close(ack)
		r.stopped = true
		return true
	default:
		return false
	}
}

// Finish releases any current or future Stop caller without acknowledgment.
// Call it when the receiving side has fully shut down.
func (r *Receiver) Finish() {
	r.doneOnce.Do(func() { close(r.done) })
}
