package encoder

import (
	"testing"
	"time"

	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/nvenc"
	"github.com/smazurov/gpuenc/internal/types"
)

func cpuFrame(ts float64) *frame.Context {
	return frame.NewCPU([]byte{1, 2, 3, 4}, types.Resolution{Width: 1, Height: 1}, types.PixelBGRA8, ts, false)
}

func TestFrameQueueFIFOAndCapacity(t *testing.T) {
	q := NewFrameQueue(3)

	for i := range 3 {
		if !q.Enqueue(cpuFrame(float64(i))) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	if q.Enqueue(cpuFrame(3)) {
		t.Error("enqueue into a full queue should fail")
	}
	if q.Len() != 3 || q.Cap() != 3 {
		t.Errorf("len=%d cap=%d, want 3/3", q.Len(), q.Cap())
	}

	f, ok := q.TryDequeue()
	if !ok || f.Timestamp != 0 {
		t.Fatalf("TryDequeue = %v %v, want frame 0", f, ok)
	}

	rest := q.Drain()
	if len(rest) != 2 || rest[0].Timestamp != 1 || rest[1].Timestamp != 2 {
		t.Errorf("Drain returned %d frames out of order", len(rest))
	}
	if _, ok := q.TryDequeue(); ok {
		t.Error("queue should be empty after Drain")
	}
}

func TestFrameQueueClose(t *testing.T) {
	q := NewFrameQueue(2)
	q.Enqueue(cpuFrame(0))
	q.Close()

	if !q.Closed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(cpuFrame(1)) {
		t.Error("closed queue accepted a frame")
	}
	if got := len(q.Drain()); got != 1 {
		t.Errorf("Drain after close = %d frames, want 1", got)
	}
}

func TestFrameQueueDefaults(t *testing.T) {
	if got := NewFrameQueue(0).Cap(); got != DefaultQueueCapacity {
		t.Errorf("default capacity = %d, want %d", got, DefaultQueueCapacity)
	}
	if NewFrameQueue(1).Enqueue(nil) {
		t.Error("nil frame accepted")
	}
}

func TestOutputQueueTake(t *testing.T) {
	var o outputQueue
	o.push()
	if o.len() != 0 {
		t.Fatal("empty push added packets")
	}
	o.push(nvenc.Packet{Timestamp: 1}, nvenc.Packet{Timestamp: 2})
	o.push(nvenc.Packet{Timestamp: 3})

	pkts := o.take()
	if len(pkts) != 3 || pkts[2].Timestamp != 3 {
		t.Errorf("take = %v", pkts)
	}
	if o.len() != 0 {
		t.Error("take should empty the queue")
	}
}

func TestStatsEncodeTimeWindow(t *testing.T) {
	var r statsRecorder

	for range 50 {
		r.recordEncodeTime(100 * time.Millisecond)
	}
	if got := r.snapshot().AverageEncodeTimeMs; got != 100 {
		t.Fatalf("average = %v, want 100", got)
	}

	// 100 newer samples push every 100ms sample out of the window.
	for range encodeTimeWindow {
		r.recordEncodeTime(2 * time.Millisecond)
	}
	if got := r.snapshot().AverageEncodeTimeMs; got != 2 {
		t.Errorf("average = %v, want 2", got)
	}
}

func TestStatsCounters(t *testing.T) {
	var r statsRecorder
	r.recordEncoded()
	r.recordEncoded()
	r.recordDropped(2)
	r.recordRejected()
	r.recordDelivered(3)
	r.recordDiscarded(1)

	s := r.snapshot()
	want := Stats{EncodedFrames: 2, DroppedFrames: 3, RejectedFrames: 1, DeliveredPackets: 3, DiscardedPackets: 1}
	if s != want {
		t.Errorf("snapshot = %+v, want %+v", s, want)
	}
}
