package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridge_PartialReadRetainsRemainder(t *testing.T) {
	b := NewBridge(4)
	require.NoError(t, b.Push(context.Background(), []byte("abcdef")))
	b.CloseSend()

	buf := make([]byte, 2)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:n]))

	n, err = b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "cd", string(buf[:n]))

	rest, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(rest))
}

func TestBridge_NoDataDroppedUnderBackpressure(t *testing.T) {
	const chunks = 200
	b := NewBridge(4)

	var pushed bytes.Buffer
	go func() {
		for i := 0; i < chunks; i++ {
			chunk := bytes.Repeat([]byte{byte(i)}, 17)
			pushed.Write(chunk)
			if err := b.Push(context.Background(), chunk); err != nil {
				return
			}
		}
		b.CloseSend()
	}()

	// Pull slowly with a tiny buffer so the producer regularly hits the
	// full queue.
	var got bytes.Buffer
	buf := make([]byte, 5)
	for {
		n, err := b.Read(buf)
		got.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, chunks*17, got.Len())
	assert.True(t, bytes.Equal(pushed.Bytes(), got.Bytes()), "bytes must arrive complete and in order")
}

func TestBridge_PushBlocksAtCapacity(t *testing.T) {
	b := NewBridge(2)
	require.NoError(t, b.Push(context.Background(), []byte("one")))
	require.NoError(t, b.Push(context.Background(), []byte("two")))

	var done atomic.Bool
	go func() {
		_ = b.Push(context.Background(), []byte("three"))
		done.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, done.Load(), "push past capacity must wait for a read")

	buf := make([]byte, 16)
	_, err := b.Read(buf)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return done.Load() }, 5*time.Second, time.Millisecond)
}

func TestBridge_PushCancellableWhileFull(t *testing.T) {
	b := NewBridge(1)
	require.NoError(t, b.Push(context.Background(), []byte("fill")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Push(ctx, []byte("stuck"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBridge_AbortSurfacesError(t *testing.T) {
	b := NewBridge(2)
	require.NoError(t, b.Push(context.Background(), []byte("partial")))
	wantErr := errors.New("connection reset")
	b.Abort(wantErr)

	// Queued data still drains first.
	data, err := io.ReadAll(b)
	assert.Equal(t, "partial", string(data))
	assert.ErrorIs(t, err, wantErr)
}
