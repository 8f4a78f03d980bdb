package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
)

// Subject prefixes for NATS topics.
const (
	SubjectSessionsPrefix = "gpuenc.sessions"
	SubjectControlPrefix  = "gpuenc.control"
)

// Control actions.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
)

// Packet headers. The payload of a packet message is the raw bitstream.
const (
	HeaderTimestamp = "Gpuenc-Timestamp"
	HeaderKeyFrame  = "Gpuenc-Key-Frame"
	HeaderSequence  = "Gpuenc-Sequence"
)

// SubjectSessionPackets returns the subject encoded packets are published on.
func SubjectSessionPackets(sessionID string) string {
	return fmt.Sprintf("%s.%s.packets", SubjectSessionsPrefix, sessionID)
}

// SubjectSessionStats returns the subject for encoder statistics.
func SubjectSessionStats(sessionID string) string {
	return fmt.Sprintf("%s.%s.stats", SubjectSessionsPrefix, sessionID)
}

// SubjectSessionState returns the subject for session state changes.
func SubjectSessionState(sessionID string) string {
	return fmt.Sprintf("%s.%s.state", SubjectSessionsPrefix, sessionID)
}

// SubjectControl returns the subject for a control action.
func SubjectControl(sessionID, action string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectControlPrefix, sessionID, action)
}

// StatsMessage carries an encoder statistics snapshot.
type StatsMessage struct {
	SessionID           string  `json:"session_id"`
	Timestamp           string  `json:"timestamp"`
	EncodedFrames       uint64  `json:"encoded_frames"`
	DroppedFrames       uint64  `json:"dropped_frames"`
	RejectedFrames      uint64  `json:"rejected_frames"`
	DeliveredPackets    uint64  `json:"delivered_packets"`
	DiscardedPackets    uint64  `json:"discarded_packets"`
	AverageEncodeTimeMs float64 `json:"average_encode_time_ms"`
	QueueDepth          int     `json:"queue_depth"`
	Final               bool    `json:"final,omitempty"`
}

// Marshal serializes the message to JSON.
func (m StatsMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// StateMessage represents a session state transition.
type StateMessage struct {
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	OldState  string `json:"old_state"`
	NewState  string `json:"new_state"`
}

// Marshal serializes the message to JSON.
func (m StateMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ControlMessage represents a control command sent to a capture process.
type ControlMessage struct {
	Action    string `json:"action"` // pause, resume, stop
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalStats deserializes a StatsMessage from JSON.
func UnmarshalStats(data []byte) (StatsMessage, error) {
	var m StatsMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalState deserializes a StateMessage from JSON.
func UnmarshalState(data []byte) (StateMessage, error) {
	var m StateMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalControl deserializes a ControlMessage from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// PacketMessage is one encoded packet as carried over NATS.
type PacketMessage struct {
	Data      []byte
	Timestamp float64
	KeyFrame  bool
	Sequence  uint64
}

// NewPacketMsg builds the NATS message for an encoded packet.
func NewPacketMsg(sessionID string, p PacketMessage) *nats.Msg {
	msg := nats.NewMsg(SubjectSessionPackets(sessionID))
	msg.Data = p.Data
	msg.Header.Set(HeaderTimestamp, strconv.FormatFloat(p.Timestamp, 'f', -1, 64))
	msg.Header.Set(HeaderKeyFrame, strconv.FormatBool(p.KeyFrame))
	msg.Header.Set(HeaderSequence, strconv.FormatUint(p.Sequence, 10))
	return msg
}

// ParsePacketMsg decodes a message built by NewPacketMsg.
func ParsePacketMsg(msg *nats.Msg) (PacketMessage, error) {
	if msg.Header == nil {
		return PacketMessage{}, errors.New("packet message has no headers")
	}

	ts, err := strconv.ParseFloat(msg.Header.Get(HeaderTimestamp), 64)
	if err != nil {
		return PacketMessage{}, fmt.Errorf("invalid %s header: %w", HeaderTimestamp, err)
	}
	key, err := strconv.ParseBool(msg.Header.Get(HeaderKeyFrame))
	if err != nil {
		return PacketMessage{}, fmt.Errorf("invalid %s header: %w", HeaderKeyFrame, err)
	}
	seq, err := strconv.ParseUint(msg.Header.Get(HeaderSequence), 10, 64)
	if err != nil {
		return PacketMessage{}, fmt.Errorf("invalid %s header: %w", HeaderSequence, err)
	}

	return PacketMessage{Data: msg.Data, Timestamp: ts, KeyFrame: key, Sequence: seq}, nil
}
