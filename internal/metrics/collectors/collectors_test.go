package collectors

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/metrics"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

// gaugeValue reads a gauge from the default registry by name and one label.
func gaugeValue(t *testing.T, name, label, value string) (float64, bool) {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

func TestEncoderCollectorRecordsEvents(t *testing.T) {
	sessionID := "collector-session"
	defer metrics.DeleteEncoderMetrics(sessionID)

	bus := events.New()
	c := NewEncoderCollector(bus)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	bus.Publish(events.SessionStateChangedEvent{SessionID: sessionID, OldState: "initializing", NewState: "ready"})
	bus.Publish(events.EncoderStatsEvent{SessionID: sessionID, EncodedFrames: 25, QueueDepth: 2})
	bus.Publish(events.FrameDroppedEvent{SessionID: sessionID, Reason: "fence_timeout"})

	waitFor(t, func() bool {
		m := metrics.GetEncoderMetrics(sessionID)
		return m != nil && m.State == "ready" && m.Stats.EncodedFrames == 25 && m.Drops["fence_timeout"] == 1
	})

	if v, ok := gaugeValue(t, "gpuenc_encoder_queue_depth", "session_id", sessionID); !ok || v != 2 {
		t.Errorf("queue depth = %v (found %v), want 2", v, ok)
	}
}

func TestEncoderCollectorStopsOnContextCancel(t *testing.T) {
	sessionID := "collector-cancelled"
	defer metrics.DeleteEncoderMetrics(sessionID)

	bus := events.New()
	c := NewEncoderCollector(bus)
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.unsubs == nil
	})

	bus.Publish(events.EncoderStatsEvent{SessionID: sessionID, EncodedFrames: 1})
	time.Sleep(20 * time.Millisecond)
	if m := metrics.GetEncoderMetrics(sessionID); m != nil {
		t.Errorf("stopped collector recorded %+v", m)
	}
}

type fakeDriver struct {
	refs   int
	loaded bool
}

func (f *fakeDriver) Name() string  { return "collector-test" }
func (f *fakeDriver) RefCount() int { return f.refs }
func (f *fakeDriver) Loaded() bool  { return f.loaded }

func TestDriverCollector(t *testing.T) {
	defer metrics.DeleteDriverMetrics("collector-test")

	c := NewDriverCollector(&fakeDriver{refs: 3, loaded: true}, time.Hour)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, func() bool {
		v, ok := gaugeValue(t, "gpuenc_driver_references", "loader", "collector-test")
		return ok && v == 3
	})
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if v, ok := gaugeValue(t, "gpuenc_driver_loaded", "loader", "collector-test"); !ok || v != 1 {
		t.Errorf("loaded = %v (found %v), want 1", v, ok)
	}
}

func TestDriverCollectorDefaultInterval(t *testing.T) {
	c := NewDriverCollector(&fakeDriver{}, 0)
	if c.interval != 5*time.Second {
		t.Errorf("interval = %v, want 5s", c.interval)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop before Start failed: %v", err)
	}
}
