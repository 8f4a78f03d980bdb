// Package models holds the request and response bodies of the status API.
package models

import (
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/metrics"
	"github.com/smazurov/gpuenc/internal/nvenc"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"42" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Capability models
type CapabilitiesData struct {
	Loader       string             `json:"loader" example:"reference" doc:"Driver backend"`
	References   int                `json:"references" example:"1" doc:"Live driver references"`
	Capabilities nvenc.Capabilities `json:"capabilities" doc:"Encoder device capabilities"`
}

type CapabilitiesResponse struct {
	Body CapabilitiesData
}

// Output format models
type FormatListData struct {
	Formats []encoder.Info `json:"formats" doc:"Available output formats, custom registrations first"`
	Count   int            `json:"count" example:"1" doc:"Number of formats"`
}

type FormatListResponse struct {
	Body FormatListData
}

type FormatRequest struct {
	Format string `path:"format" example:"nvenc_hardware" doc:"Output format"`
}

type FormatData struct {
	Info        encoder.Info `json:"info" doc:"Format description"`
	Recommended nvenc.Config `json:"recommended" doc:"Recommended session configuration"`
}

type FormatResponse struct {
	Body FormatData
}

// Session models
type SessionData struct {
	SessionID           string            `json:"session_id" example:"session-1" doc:"Encoder session identifier"`
	State               string            `json:"state,omitempty" example:"ready" doc:"Last reported session state"`
	EncodedFrames       uint64            `json:"encoded_frames" doc:"Frames encoded"`
	DroppedFrames       uint64            `json:"dropped_frames" doc:"Frames that produced no output"`
	RejectedFrames      uint64            `json:"rejected_frames" doc:"Dropped frames refused by a full queue"`
	DeliveredPackets    uint64            `json:"delivered_packets" doc:"Packets handed to callbacks"`
	DiscardedPackets    uint64            `json:"discarded_packets" doc:"Packets encoded but never delivered"`
	AverageEncodeTimeMs float64           `json:"average_encode_time_ms" doc:"Mean encode time per frame"`
	QueueDepth          int               `json:"queue_depth" doc:"Frames waiting for the encoder"`
	Drops               map[string]uint64 `json:"drops,omitempty" doc:"Dropped frames by reason"`
}

// NewSessionData converts cached metrics into a response body.
func NewSessionData(id string, m *metrics.EncoderSessionMetrics) SessionData {
	return SessionData{
		SessionID:           id,
		State:               m.State,
		EncodedFrames:       m.Stats.EncodedFrames,
		DroppedFrames:       m.Stats.DroppedFrames,
		RejectedFrames:      m.Stats.RejectedFrames,
		DeliveredPackets:    m.Stats.DeliveredPackets,
		DiscardedPackets:    m.Stats.DiscardedPackets,
		AverageEncodeTimeMs: m.Stats.AverageEncodeTimeMs,
		QueueDepth:          m.Stats.QueueDepth,
		Drops:               m.Drops,
	}
}

type SessionListData struct {
	Sessions []SessionData `json:"sessions" doc:"Sessions seen by this process"`
	Count    int           `json:"count" example:"1" doc:"Number of sessions"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionRequest struct {
	ID string `path:"id" example:"session-1" doc:"Encoder session identifier"`
}

type SessionResponse struct {
	Body SessionData
}

type ControlRequest struct {
	ID     string `path:"id" example:"session-1" doc:"Encoder session identifier"`
	Action string `path:"action" enum:"pause,resume,stop" doc:"Control action"`
	Body   struct {
		Reason string `json:"reason,omitempty" example:"maintenance" doc:"Free-form reason recorded with the command"`
	} `required:"false"`
}

type ControlData struct {
	SessionID string `json:"session_id" example:"session-1" doc:"Encoder session identifier"`
	Action    string `json:"action" example:"pause" doc:"Action sent"`
	Message   string `json:"message" example:"Command sent" doc:"Status message"`
}

type ControlResponse struct {
	Body ControlData
}

// Log models
type LogsRequest struct {
	Since  uint64 `query:"since" doc:"Only return entries with a larger sequence number"`
	Module string `query:"module" example:"nvenc" doc:"Only return entries from this module"`
}

type LogEntryData struct {
	Seq        uint64         `json:"seq" doc:"Sequence number"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"nvenc" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

type LogsData struct {
	Entries []LogEntryData    `json:"entries" doc:"Buffered log entries, oldest first"`
	Count   int               `json:"count" doc:"Number of entries"`
	Levels  map[string]string `json:"levels" doc:"Effective level per module"`
}

type LogsResponse struct {
	Body LogsData
}
