package capture

import (
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/nvenc"
)

// StatePublisher returns a session state callback that publishes
// SessionStateChangedEvent on bus.
func StatePublisher(bus *events.Bus) nvenc.StateChangeCallback {
	return func(sessionID string, oldState, newState nvenc.State) {
		bus.Publish(events.SessionStateChangedEvent{
			SessionID: sessionID,
			OldState:  string(oldState),
			NewState:  string(newState),
			Timestamp: now(),
		})
	}
}

// DropPublisher returns a drop callback that publishes FrameDroppedEvent on bus.
func DropPublisher(bus *events.Bus) encoder.DropFunc {
	return func(sessionID string, timestamp float64, reason encoder.DropReason, err error) {
		ev := events.FrameDroppedEvent{
			SessionID:      sessionID,
			FrameTimestamp: timestamp,
			Reason:         string(reason),
			Timestamp:      now(),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		bus.Publish(ev)
	}
}
