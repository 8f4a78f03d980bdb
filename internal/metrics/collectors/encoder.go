// Package collectors feeds the metrics package from the event bus and the
// driver registry.
package collectors

import (
	"context"
	"sync"

	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/metrics"
)

// EncoderCollector records encoder events from the bus as Prometheus metrics.
type EncoderCollector struct {
	bus    *events.Bus
	logger logging.Logger

	mu     sync.Mutex
	unsubs []func()
}

// NewEncoderCollector creates a collector for bus.
func NewEncoderCollector(bus *events.Bus) *EncoderCollector {
	return &EncoderCollector{
		bus:    bus,
		logger: logging.GetLogger("metrics"),
	}
}

// Start subscribes to encoder events. The subscriptions end with ctx or Stop.
func (e *EncoderCollector) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.unsubs = append(e.unsubs,
		e.bus.Subscribe(func(ev events.EncoderStatsEvent) {
			metrics.SetEncoderStats(ev.SessionID, metrics.EncoderStats{
				EncodedFrames:       ev.EncodedFrames,
				DroppedFrames:       ev.DroppedFrames,
				RejectedFrames:      ev.RejectedFrames,
				DeliveredPackets:    ev.DeliveredPackets,
				DiscardedPackets:    ev.DiscardedPackets,
				AverageEncodeTimeMs: ev.AverageEncodeTimeMs,
				QueueDepth:          ev.QueueDepth,
			})
		}),
		e.bus.Subscribe(func(ev events.SessionStateChangedEvent) {
			metrics.SetSessionState(ev.SessionID, ev.NewState)
		}),
		e.bus.Subscribe(func(ev events.FrameDroppedEvent) {
			metrics.IncFrameDropped(ev.SessionID, ev.Reason)
		}),
	)
	e.logger.Info("Encoder metrics collection started")

	go func() {
		<-ctx.Done()
		_ = e.Stop()
	}()
	return nil
}

// Stop removes the bus subscriptions. Metrics already recorded are kept.
func (e *EncoderCollector) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	return nil
}
