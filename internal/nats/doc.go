// Package nats carries encoded output and session telemetry between gpuenc
// processes over NATS.
//
// # Architecture
//
//   - Server: embedded NATS server (gpuenc serve --embedded-nats, gpuenc run --embedded-nats)
//   - SessionClient: used by a capture process (gpuenc run); a capture.Sink for packets
//     that also forwards stats/state events and receives control commands
//   - Bridge: used by the control plane (gpuenc serve); turns stats/state
//     messages back into event bus events
//   - ControlPublisher: sends pause/resume/stop to a capture process
//
// # Subject Hierarchy
//
//	gpuenc.sessions.{session_id}.packets   # Encoded packets (client → consumers)
//	gpuenc.sessions.{session_id}.stats     # Encoder statistics (client → server)
//	gpuenc.sessions.{session_id}.state     # Session state changes (client → server)
//	gpuenc.control.{session_id}.pause      # Pause command (server → client)
//	gpuenc.control.{session_id}.resume     # Resume command (server → client)
//	gpuenc.control.{session_id}.stop       # Stop command (server → client)
//
// Messaging is fire-and-forget core NATS, no JetStream. Clients degrade to
// offline mode when the server is unreachable.
//
// # Packets
//
// A packet message carries the raw bitstream as payload. Metadata travels in
// headers:
//
//	Gpuenc-Timestamp: 0.033
//	Gpuenc-Key-Frame: false
//	Gpuenc-Sequence:  2
//
// Sequence numbers start at 1 per client and let consumers detect loss.
//
// # Useful Debug Commands
//
// Monitor all session telemetry:
//
//	nats sub "gpuenc.sessions.*.stats" "gpuenc.sessions.*.state"
//
// Count packets for a session:
//
//	nats sub "gpuenc.sessions.session-1.packets" --headers-only
//
// Pause a capture manually:
//
//	nats pub "gpuenc.control.session-1.pause" '{"action":"pause","session_id":"session-1","reason":"manual"}'
//
// # Message Formats
//
// StatsMessage (gpuenc.sessions.{id}.stats):
//
//	{
//	  "session_id": "session-1",
//	  "timestamp": "2025-01-01T12:00:00Z",
//	  "encoded_frames": 1800,
//	  "dropped_frames": 2,
//	  "rejected_frames": 1,
//	  "delivered_packets": 1798,
//	  "discarded_packets": 0,
//	  "average_encode_time_ms": 1.9,
//	  "queue_depth": 3
//	}
//
// StateMessage (gpuenc.sessions.{id}.state):
//
//	{
//	  "session_id": "session-1",
//	  "timestamp": "2025-01-01T12:00:00Z",
//	  "old_state": "initializing",
//	  "new_state": "ready"
//	}
//
// ControlMessage (gpuenc.control.{id}.{action}):
//
//	{
//	  "action": "stop",
//	  "session_id": "session-1",
//	  "timestamp": "2025-01-01T12:00:00Z",
//	  "reason": "api_stop"
//	}
package nats
