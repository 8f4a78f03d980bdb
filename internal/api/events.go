package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/gpuenc/internal/events"
)

// sessionEventTypes maps SSE event names to the payloads streamed on /api/events.
var sessionEventTypes = map[string]any{
	"session-state":   events.SessionStateChangedEvent{},
	"encoder-stats":   events.EncoderStatsEvent{},
	"frame-dropped":   events.FrameDroppedEvent{},
	"capture-started": events.CaptureStartedEvent{},
	"capture-stopped": events.CaptureStoppedEvent{},
	"capture-error":   events.CaptureErrorEvent{},
}

func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session state changes, encoder statistics, frame drops and capture lifecycle",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, sessionEventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 64)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionStateChangedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.EncoderStatsEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.FrameDroppedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.CaptureStartedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.CaptureStoppedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.CaptureErrorEvent](s.options.EventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
