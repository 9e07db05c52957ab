package registry

import (
	"context"
	"io"
	"time"
)

const pushRetryInterval = 10 * time.Millisecond

// Bridge adapts a push-style byte producer to a pull-style io.Reader with
// bounded buffering. The producer calls Push for each chunk and CloseSend
// when the stream ends; the consumer reads until io.EOF.
//
// Memory is capped at capacity chunks regardless of stream size: Push
// retries with a short sleep while the queue is full, which keeps the
// producer cancellable instead of hard-blocked on a channel send.
type Bridge struct {
	ch chan []byte

	// leftover is the unconsumed tail of the last chunk; no chunk is ever
	// dropped or re-ordered.
	leftover []byte

	// err is set before the channel closes when the producer failed.
	err error
}

// NewBridge returns a bridge buffering at most capacity chunks.
func NewBridge(capacity int) *Bridge {
	return &Bridge{ch: make(chan []byte, capacity)}
}

// Push enqueues one chunk, retrying while the queue is full. The chunk is
// owned by the bridge afterwards; producers must not reuse the slice.
func (b *Bridge) Push(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	for {
		select {
		case b.ch <- chunk:
			return nil
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pushRetryInterval):
		}
	}
}

// CloseSend signals end-of-stream; subsequent reads drain queued chunks and
// then return io.EOF.
func (b *Bridge) CloseSend() {
	close(b.ch)
}

// Abort signals a producer failure: reads drain queued chunks and then
// return err instead of io.EOF, so the consumer fails instead of treating a
// truncated stream as complete.
func (b *Bridge) Abort(err error) {
	b.err = err
	close(b.ch)
}

// Read serves any partially consumed chunk first, then blocks for the next
// chunk or end-of-stream.
func (b *Bridge) Read(p []byte) (int, error) {
	if len(b.leftover) > 0 {
		n := copy(p, b.leftover)
		b.leftover = b.leftover[n:]
		return n, nil
	}
	chunk, ok := <-b.ch
	if !ok {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		b.leftover = chunk[n:]
	}
	return n, nil
}
