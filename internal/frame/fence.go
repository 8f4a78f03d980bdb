package frame

import (
	"sync"
	"time"
)

// FenceStatus is the outcome of waiting on a fence.
type FenceStatus int

const (
	FenceReady FenceStatus = iota
	FenceTimedOut
)

func (s FenceStatus) String() string {
	if s == FenceReady {
		return "ready"
	}
	return "timed_out"
}

// Fence signals completion of GPU work that wrote a render target.
type Fence interface {
	Wait(timeout time.Duration) FenceStatus
}

// SignaledFence is already complete.
type SignaledFence struct{}

// Wait implements Fence.
func (SignaledFence) Wait(time.Duration) FenceStatus {
	return FenceReady
}

// ChannelFence completes when Signal is called.
type ChannelFence struct {
	done chan struct{}
	once sync.Once
}

// NewChannelFence returns an unsignaled fence.
func NewChannelFence() *ChannelFence {
	return &ChannelFence{done: make(chan struct{})}
}

// Signal marks the fence complete. Further calls are no-ops.
func (f *ChannelFence) Signal() {
	f.once.Do(func() { close(f.done) })
}

// SignalAfter signals the fence once d has elapsed.
func (f *ChannelFence) SignalAfter(d time.Duration) {
	time.AfterFunc(d, f.Signal)
}

// Wait implements Fence.
func (f *ChannelFence) Wait(timeout time.Duration) FenceStatus {
	select {
	case <-f.done:
		return FenceReady
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return FenceReady
	case <-timer.C:
		return FenceTimedOut
	}
}
