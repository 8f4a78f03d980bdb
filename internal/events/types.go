package events

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypeFrameDropped
	TypeEncoderStats
	TypeCaptureStarted
	TypeCaptureStopped
	TypeCaptureError
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStateChangedEvent is published on every encoder session state transition.
type SessionStateChangedEvent struct {
	SessionID string `json:"session_id" example:"session-1" doc:"Encoder session identifier"`
	OldState  string `json:"old_state" example:"initializing" doc:"Previous state"`
	NewState  string `json:"new_state" example:"ready" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// Session returns the session the event belongs to.
func (e SessionStateChangedEvent) Session() string { return e.SessionID }

// FrameDroppedEvent reports a frame that produced no output.
type FrameDroppedEvent struct {
	SessionID      string  `json:"session_id" example:"session-1" doc:"Encoder session identifier"`
	FrameTimestamp float64 `json:"frame_timestamp" example:"1.533" doc:"Presentation time of the dropped frame in seconds"`
	Reason         string  `json:"reason" example:"queue_full" doc:"queue_full, fence_timeout, encode_failed or shutdown"`
	Error          string  `json:"error,omitempty" doc:"Encode error, if any"`
	Timestamp      string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }

// Session returns the session the event belongs to.
func (e FrameDroppedEvent) Session() string { return e.SessionID }

// EncoderStatsEvent carries a statistics snapshot for one session.
type EncoderStatsEvent struct {
	SessionID           string  `json:"session_id" example:"session-1" doc:"Encoder session identifier"`
	EncodedFrames       uint64  `json:"encoded_frames" doc:"Frames encoded"`
	DroppedFrames       uint64  `json:"dropped_frames" doc:"Frames that produced no output"`
	RejectedFrames      uint64  `json:"rejected_frames" doc:"Dropped frames refused by a full queue"`
	DeliveredPackets    uint64  `json:"delivered_packets" doc:"Packets handed to the consumer"`
	DiscardedPackets    uint64  `json:"discarded_packets" doc:"Packets lost to shutdown"`
	AverageEncodeTimeMs float64 `json:"average_encode_time_ms" doc:"Mean encode time over the last 100 frames"`
	QueueDepth          int     `json:"queue_depth" doc:"Frames waiting for the encoder"`
	Final               bool    `json:"final" doc:"Whether this is the last snapshot of the session"`
	Timestamp           string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for EncoderStatsEvent.
func (e EncoderStatsEvent) Type() uint32 { return TypeEncoderStats }

// Session returns the session the event belongs to.
func (e EncoderStatsEvent) Session() string { return e.SessionID }

// CaptureStartedEvent is published when a capture begins.
type CaptureStartedEvent struct {
	SessionID string `json:"session_id" example:"session-1" doc:"Encoder session identifier"`
	Format    string `json:"format" example:"nvenc_hardware" doc:"Output format"`
	Config    string `json:"config" example:"h264 1920x1080 nv12 10000kbps gop=30 bframes=2" doc:"Encoder configuration"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStartedEvent.
func (e CaptureStartedEvent) Type() uint32 { return TypeCaptureStarted }

// Session returns the session the event belongs to.
func (e CaptureStartedEvent) Session() string { return e.SessionID }

// CaptureStoppedEvent is published when a capture ends.
type CaptureStoppedEvent struct {
	SessionID string `json:"session_id" example:"session-1" doc:"Encoder session identifier"`
	Frames    uint64 `json:"frames" doc:"Frames handed to the encoder"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStoppedEvent.
func (e CaptureStoppedEvent) Type() uint32 { return TypeCaptureStopped }

// Session returns the session the event belongs to.
func (e CaptureStoppedEvent) Session() string { return e.SessionID }

// CaptureErrorEvent represents a failed capture operation.
type CaptureErrorEvent struct {
	SessionID string `json:"session_id,omitempty" example:"session-1" doc:"Encoder session identifier"`
	Message   string `json:"message" example:"Failed to start capture" doc:"Error message"`
	Error     string `json:"error" example:"DRIVER_UNAVAILABLE: failed to acquire encode driver" doc:"Detailed error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Error timestamp"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// Session returns the session the event belongs to.
func (e CaptureErrorEvent) Session() string { return e.SessionID }

// LogEntryEvent represents a log entry forwarded from the logging ring buffer.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"nvenc" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
