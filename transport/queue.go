package transport

import (
	"context"
	"errors"
	"sync"
)

const (
	DefaultWriteQueueSize = 127
)

var (
	ErrWriteQueueFull  = errors.New("Write queue is full, the peer is not keeping up")
	ErrTransportClosed = errors.New("Transport is closed")
)

// writeQueue hands frames from any goroutine to a connection's write loop.
// Pushing never blocks, a full queue is reported to the sender instead.
type writeQueue struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	frames chan []byte
}

func newWriteQueue(parentCtx context.Context, size int) *writeQueue {
	if size < 1 {
		size = DefaultWriteQueueSize
	}

	ctx, cancel := context.WithCancel(parentCtx)

	return &writeQueue{
		ctx:    ctx,
		cancel: cancel,
		frames: make(chan []byte, size),
	}
}

func (q *writeQueue) push(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.ctx.Err() != nil {
		return ErrTransportClosed
	}

	select {
	case q.frames <- frame:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// close stops accepting frames and wakes up the write loop. It returns false
// if the queue was already closed.
func (q *writeQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.closed = true
	q.cancel()

	return true
}

func (q *writeQueue) done() <-chan struct{} {
	return q.ctx.Done()
}

// drain writes whatever is still queued, stopping at the first failure.
func (q *writeQueue) drain(write func([]byte) error) {
	for {
		select {
		case frame := <-q.frames:
			if err := write(frame); err != nil {
				return
			}

		default:
			return
		}
	}
}
