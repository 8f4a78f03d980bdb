package encoder

import (
	"sync"
	"time"
)

// encodeTimeWindow is the number of encode durations averaged.
const encodeTimeWindow = 100

// Stats is a point-in-time copy of an encoder's counters.
type Stats struct {
	EncodedFrames uint64 `json:"encoded_frames"`
	// DroppedFrames counts every accepted-or-offered frame that produced no output.
	DroppedFrames uint64 `json:"dropped_frames"`
	// RejectedFrames is the subset of DroppedFrames refused by a full queue.
	RejectedFrames uint64 `json:"rejected_frames"`
	// DiscardedPackets were encoded but never delivered because of Shutdown.
	DiscardedPackets    uint64  `json:"discarded_packets"`
	DeliveredPackets    uint64  `json:"delivered_packets"`
	AverageEncodeTimeMs float64 `json:"average_encode_time_ms"`
	QueueDepth          int     `json:"queue_depth"`
}

type statsRecorder struct {
	mu      sync.Mutex
	stats   Stats
	samples [encodeTimeWindow]time.Duration
	next    int
	count   int
	total   time.Duration
}

func (r *statsRecorder) recordEncodeTime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == encodeTimeWindow {
		r.total -= r.samples[r.next]
	} else {
		r.count++
	}
	r.samples[r.next] = d
	r.total += d
	r.next = (r.next + 1) % encodeTimeWindow
	r.stats.AverageEncodeTimeMs = float64(r.total) / float64(r.count) / float64(time.Millisecond)
}

func (r *statsRecorder) recordEncoded() {
	r.mu.Lock()
	r.stats.EncodedFrames++
	r.mu.Unlock()
}

func (r *statsRecorder) recordDropped(n int) {
	r.mu.Lock()
	r.stats.DroppedFrames += uint64(n)
	r.mu.Unlock()
}

func (r *statsRecorder) recordRejected() {
	r.mu.Lock()
	r.stats.DroppedFrames++
	r.stats.RejectedFrames++
	r.mu.Unlock()
}

func (r *statsRecorder) recordDelivered(n int) {
	r.mu.Lock()
	r.stats.DeliveredPackets += uint64(n)
	r.mu.Unlock()
}

func (r *statsRecorder) recordDiscarded(n int) {
	r.mu.Lock()
	r.stats.DiscardedPackets += uint64(n)
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
