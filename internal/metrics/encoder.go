// Package metrics provides Prometheus metrics for encoder sessions and the
// encode driver.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionStates lists every value of the state label.
var SessionStates = []string{"uninitialized", "initializing", "ready", "shutting_down", "closed"}

var (
	encoderEncodedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "encoded_frames_total",
		Help:      "Frames encoded in the current session",
	}, []string{"session_id"})

	encoderDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "dropped_frames_total",
		Help:      "Frames that produced no output, rejections included",
	}, []string{"session_id"})

	encoderRejectedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "rejected_frames_total",
		Help:      "Frames refused because the queue was full",
	}, []string{"session_id"})

	encoderDeliveredPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "delivered_packets_total",
		Help:      "Packets handed to the consumer",
	}, []string{"session_id"})

	encoderDiscardedPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "discarded_packets_total",
		Help:      "Packets lost to shutdown or a missing callback",
	}, []string{"session_id"})

	encoderEncodeTime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "average_encode_time_ms",
		Help:      "Mean encode time over the last 100 frames",
	}, []string{"session_id"})

	encoderQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "queue_depth",
		Help:      "Frames waiting for the encode worker",
	}, []string{"session_id"})

	encoderSessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "session_state",
		Help:      "1 for the current state of the session, 0 otherwise",
	}, []string{"session_id", "state"})

	encoderDropsByReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpuenc",
		Subsystem: "encoder",
		Name:      "frame_drops_total",
		Help:      "Dropped frames by reason",
	}, []string{"session_id", "reason"})

	// Local cache for the status API.
	encoderCache   = make(map[string]*EncoderSessionMetrics)
	encoderCacheMu sync.RWMutex
)

// EncoderStats is the counter snapshot reported for a session.
type EncoderStats struct {
	EncodedFrames       uint64
	DroppedFrames       uint64
	RejectedFrames      uint64
	DeliveredPackets    uint64
	DiscardedPackets    uint64
	AverageEncodeTimeMs float64
	QueueDepth          int
}

// EncoderSessionMetrics holds current metric values for a session.
type EncoderSessionMetrics struct {
	Stats EncoderStats
	State string
	Drops map[string]uint64
}

// SetEncoderStats records a statistics snapshot for a session.
func SetEncoderStats(sessionID string, s EncoderStats) {
	encoderEncodedFrames.WithLabelValues(sessionID).Set(float64(s.EncodedFrames))
	encoderDroppedFrames.WithLabelValues(sessionID).Set(float64(s.DroppedFrames))
	encoderRejectedFrames.WithLabelValues(sessionID).Set(float64(s.RejectedFrames))
	encoderDeliveredPackets.WithLabelValues(sessionID).Set(float64(s.DeliveredPackets))
	encoderDiscardedPackets.WithLabelValues(sessionID).Set(float64(s.DiscardedPackets))
	encoderEncodeTime.WithLabelValues(sessionID).Set(s.AverageEncodeTimeMs)
	encoderQueueDepth.WithLabelValues(sessionID).Set(float64(s.QueueDepth))
	updateCache(sessionID, func(m *EncoderSessionMetrics) { m.Stats = s })
}

// SetSessionState marks state as the current state of a session.
func SetSessionState(sessionID, state string) {
	for _, s := range SessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		encoderSessionState.WithLabelValues(sessionID, s).Set(v)
	}
	updateCache(sessionID, func(m *EncoderSessionMetrics) { m.State = state })
}

// IncFrameDropped counts one dropped frame for a session.
func IncFrameDropped(sessionID, reason string) {
	encoderDropsByReason.WithLabelValues(sessionID, reason).Inc()
	updateCache(sessionID, func(m *EncoderSessionMetrics) {
		if m.Drops == nil {
			m.Drops = make(map[string]uint64)
		}
		m.Drops[reason]++
	})
}

// DeleteEncoderMetrics removes all metrics for a session.
func DeleteEncoderMetrics(sessionID string) {
	labels := prometheus.Labels{"session_id": sessionID}
	encoderEncodedFrames.DeleteLabelValues(sessionID)
	encoderDroppedFrames.DeleteLabelValues(sessionID)
	encoderRejectedFrames.DeleteLabelValues(sessionID)
	encoderDeliveredPackets.DeleteLabelValues(sessionID)
	encoderDiscardedPackets.DeleteLabelValues(sessionID)
	encoderEncodeTime.DeleteLabelValues(sessionID)
	encoderQueueDepth.DeleteLabelValues(sessionID)
	encoderSessionState.DeletePartialMatch(labels)
	encoderDropsByReason.DeletePartialMatch(labels)

	encoderCacheMu.Lock()
	delete(encoderCache, sessionID)
	encoderCacheMu.Unlock()
}

// GetEncoderMetrics returns current metric values for a session.
func GetEncoderMetrics(sessionID string) *EncoderSessionMetrics {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	if m, ok := encoderCache[sessionID]; ok {
		return m.clone()
	}
	return nil
}

// GetAllEncoderMetrics returns metrics for all known sessions.
func GetAllEncoderMetrics() map[string]*EncoderSessionMetrics {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	result := make(map[string]*EncoderSessionMetrics, len(encoderCache))
	for id, m := range encoderCache {
		result[id] = m.clone()
	}
	return result
}

func (m *EncoderSessionMetrics) clone() *EncoderSessionMetrics {
	dup := *m
	if m.Drops != nil {
		dup.Drops = make(map[string]uint64, len(m.Drops))
		for k, v := range m.Drops {
			dup.Drops[k] = v
		}
	}
	return &dup
}

func updateCache(sessionID string, update func(*EncoderSessionMetrics)) {
	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()
	m, ok := encoderCache[sessionID]
	if !ok {
		m = &EncoderSessionMetrics{}
		encoderCache[sessionID] = m
	}
	update(m)
}
