package encoder

import (
	"sync"
	"sync/atomic"

	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/nvenc"
)

// DefaultQueueCapacity is the frame queue size used when none is configured.
const DefaultQueueCapacity = 32

// FrameQueue is a bounded FIFO between the producer and the encode worker.
// Enqueue never blocks.
type FrameQueue struct {
	ch     chan *frame.Context
	closed atomic.Bool
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{ch: make(chan *frame.Context, capacity)}
}

// Enqueue adds f to the tail. It returns false when the queue is full or closed.
func (q *FrameQueue) Enqueue(f *frame.Context) bool {
	if f == nil || q.closed.Load() {
		return false
	}
	select {
	case q.ch <- f:
		return true
	default:
		return false
	}
}

// TryDequeue removes the head frame without blocking.
func (q *FrameQueue) TryDequeue() (*frame.Context, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return nil, false
	}
}

// Drain removes and returns every queued frame in FIFO order.
func (q *FrameQueue) Drain() []*frame.Context {
	var frames []*frame.Context
	for {
		f, ok := q.TryDequeue()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

// Close stops the queue from accepting frames. Queued frames stay until drained.
func (q *FrameQueue) Close() {
	q.closed.Store(true)
}

// Closed reports whether Close was called.
func (q *FrameQueue) Closed() bool {
	return q.closed.Load()
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int {
	return cap(q.ch)
}

// frames exposes the receive side to the worker.
func (q *FrameQueue) frames() <-chan *frame.Context {
	return q.ch
}

// outputQueue holds encoded packets until the owner collects them.
type outputQueue struct {
	mu      sync.Mutex
	packets []nvenc.Packet
}

func (o *outputQueue) push(pkts ...nvenc.Packet) {
	if len(pkts) == 0 {
		return
	}
	o.mu.Lock()
	o.packets = append(o.packets, pkts...)
	o.mu.Unlock()
}

// take removes and returns everything queued.
func (o *outputQueue) take() []nvenc.Packet {
	o.mu.Lock()
	defer o.mu.Unlock()
	pkts := o.packets
	o.packets = nil
	return pkts
}

func (o *outputQueue) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.packets)
}
