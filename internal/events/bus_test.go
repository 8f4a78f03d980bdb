package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan SessionStateChangedEvent, 1)

	unsub := bus.Subscribe(func(e SessionStateChangedEvent) {
		received <- e
	})
	defer unsub()

	event := SessionStateChangedEvent{
		SessionID: "session-1",
		OldState:  "initializing",
		NewState:  "ready",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got != event {
		t.Errorf("Expected %+v, got %+v", event, got)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan EncoderStatsEvent, 1)
	received2 := make(chan EncoderStatsEvent, 1)

	unsub1 := bus.Subscribe(func(e EncoderStatsEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e EncoderStatsEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(EncoderStatsEvent{SessionID: "session-1", EncodedFrames: 10})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CaptureErrorEvent, 1)

	unsub := bus.Subscribe(func(e CaptureErrorEvent) {
		received <- e
	})

	bus.Publish(CaptureErrorEvent{SessionID: "session-1"})
	<-received

	unsub()

	bus.Publish(CaptureErrorEvent{SessionID: "session-2"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	dropReceived := make(chan bool, 1)
	stateReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameDroppedEvent) {
		dropReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ SessionStateChangedEvent) {
		stateReceived <- true
	})
	defer unsub2()

	bus.Publish(FrameDroppedEvent{SessionID: "session-1", Reason: "queue_full"})
	<-dropReceived

	select {
	case <-stateReceived:
		t.Fatal("State subscriber should NOT have received FrameDroppedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(SessionStateChangedEvent{NewState: "ready"})
	<-stateReceived

	select {
	case <-dropReceived:
		t.Fatal("Drop subscriber should NOT have received SessionStateChangedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_UnknownHandlerIsNoop(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	if unsub == nil {
		t.Fatal("Subscribe should always return an unsubscribe function")
	}
	unsub()
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FrameDroppedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range eventsPerGoroutine {
				bus.Publish(FrameDroppedEvent{
					FrameTimestamp: float64(i),
					Reason:         "queue_full",
					Timestamp:      time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"SessionStateChanged", SessionStateChangedEvent{SessionID: "s"}},
		{"FrameDropped", FrameDroppedEvent{SessionID: "s"}},
		{"EncoderStats", EncoderStatsEvent{SessionID: "s"}},
		{"CaptureStarted", CaptureStartedEvent{SessionID: "s"}},
		{"CaptureStopped", CaptureStoppedEvent{SessionID: "s"}},
		{"CaptureError", CaptureErrorEvent{SessionID: "s"}},
		{"LogEntry", LogEntryEvent{Seq: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case SessionStateChangedEvent:
				unsub = bus.Subscribe(func(e SessionStateChangedEvent) { received <- e })
			case FrameDroppedEvent:
				unsub = bus.Subscribe(func(e FrameDroppedEvent) { received <- e })
			case EncoderStatsEvent:
				unsub = bus.Subscribe(func(e EncoderStatsEvent) { received <- e })
			case CaptureStartedEvent:
				unsub = bus.Subscribe(func(e CaptureStartedEvent) { received <- e })
			case CaptureStoppedEvent:
				unsub = bus.Subscribe(func(e CaptureStoppedEvent) { received <- e })
			case CaptureErrorEvent:
				unsub = bus.Subscribe(func(e CaptureErrorEvent) { received <- e })
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestEventTypesAreDistinct(t *testing.T) {
	all := []Event{
		SessionStateChangedEvent{}, FrameDroppedEvent{}, EncoderStatsEvent{},
		CaptureStartedEvent{}, CaptureStoppedEvent{}, CaptureErrorEvent{}, LogEntryEvent{},
	}
	seen := make(map[uint32]bool)
	for _, e := range all {
		if seen[e.Type()] {
			t.Errorf("duplicate event type %d for %T", e.Type(), e)
		}
		seen[e.Type()] = true
	}
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
		key   string
	}{
		{
			"FrameDroppedEvent",
			FrameDroppedEvent{
				SessionID:      "session-1",
				FrameTimestamp: 1.5,
				Reason:         "fence_timeout",
				Timestamp:      "2025-01-27T10:30:00Z",
			},
			"frame_timestamp",
		},
		{
			"EncoderStatsEvent",
			EncoderStatsEvent{
				SessionID:           "session-1",
				EncodedFrames:       120,
				AverageEncodeTimeMs: 2.5,
				Final:               true,
				Timestamp:           "2025-01-27T10:30:00Z",
			},
			"average_encode_time_ms",
		},
		{
			"CaptureStartedEvent",
			CaptureStartedEvent{
				SessionID: "session-1",
				Format:    "nvenc_hardware",
				Timestamp: "2025-01-27T10:30:00Z",
			},
			"format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if _, ok := result[tt.key]; !ok {
				t.Fatalf("Expected key %q in %s", tt.key, data)
			}
		})
	}
}

func TestFrameDroppedEvent_OmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(FrameDroppedEvent{Reason: "queue_full"})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if _, ok := result["error"]; ok {
		t.Error("empty error should be omitted")
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[CaptureStoppedEvent](bus, ch)
	defer unsub()

	event := CaptureStoppedEvent{SessionID: "session-1", Frames: 42}
	bus.Publish(event)

	received := <-ch
	stopped, ok := received.(CaptureStoppedEvent)
	if !ok {
		t.Fatalf("Expected CaptureStoppedEvent, got %T", received)
	}
	if stopped.Frames != event.Frames {
		t.Errorf("Expected frames %d, got %d", event.Frames, stopped.Frames)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[CaptureStartedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(CaptureStartedEvent{SessionID: "session-1"})
		done <- true
	}()

	<-done // Should complete without blocking
}

func TestBus_PublishUnknownType(t *testing.T) {
	bus := New()
	if bus.Publish(unknownEvent{}) {
		t.Error("unknown event types should be rejected")
	}
	if !bus.Publish(CaptureStartedEvent{SessionID: "session-1"}) {
		t.Error("known event types should be accepted")
	}
	if got := bus.Published(); got != 1 {
		t.Errorf("Published() = %d, want 1", got)
	}
}

type unknownEvent struct{}

func (unknownEvent) Type() uint32 { return 999 }

func TestOnSession_FiltersOtherSessions(t *testing.T) {
	bus := New()
	received := make(chan FrameDroppedEvent, 4)
	unsub := OnSession(bus, "cam-2", func(e FrameDroppedEvent) { received <- e })
	defer unsub()

	bus.Publish(FrameDroppedEvent{SessionID: "cam-1", Reason: "queue_full"})
	bus.Publish(FrameDroppedEvent{SessionID: "cam-2", Reason: "fence_timeout"})

	select {
	case e := <-received:
		if e.SessionID != "cam-2" || e.Reason != "fence_timeout" {
			t.Errorf("got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cam-2 event")
	}

	select {
	case e := <-received:
		t.Errorf("unexpected second event %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}
