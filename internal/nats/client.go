package nats

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/version"
)

// ErrNotConnected is returned by WritePacket while the client is offline.
var ErrNotConnected = errors.New("not connected to NATS")

// SessionClient publishes one encoder session's packets, statistics and
// state, and receives control commands for it. It implements capture.Sink.
// Gracefully degrades when NATS is unavailable.
type SessionClient struct {
	url       string
	sessionID string
	conn      *nats.Conn
	sub       *nats.Subscription
	logger    *slog.Logger
	mu        sync.RWMutex
	onControl func(ControlMessage)
	connected bool
	seq       uint64
}

// NewSessionClient creates a new NATS client for an encoder session.
func NewSessionClient(url, sessionID string, logger *slog.Logger) *SessionClient {
	if logger == nil {
		logger = logging.GetLogger("nats")
	}

	return &SessionClient{
		url:       url,
		sessionID: sessionID,
		logger:    logger.With("component", "nats-client", "session", sessionID),
	}
}

// SessionID returns the session this client publishes for.
func (c *SessionClient) SessionID() string {
	return c.sessionID
}

// Connect establishes a connection to the NATS server.
// On failure the client stays usable in offline mode.
func (c *SessionClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := []nats.Option{
		nats.Name(version.Name + "-session-" + c.sessionID),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			} else {
				c.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			c.logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		c.logger.Warn("Failed to connect to NATS, running in offline mode", "error", err)
		return err
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to NATS", "url", c.url)

	c.subscribeControlLocked()
	return nil
}

// subscribeControlLocked subscribes to control commands (must hold lock).
func (c *SessionClient) subscribeControlLocked() {
	if c.conn == nil || c.onControl == nil {
		return
	}

	handler := c.onControl
	sub, err := c.conn.Subscribe(SubjectControl(c.sessionID, "*"), func(msg *nats.Msg) {
		ctrl, err := UnmarshalControl(msg.Data)
		if err != nil {
			c.logger.Warn("Failed to unmarshal control message", "error", err)
			return
		}

		c.logger.Info("Received control command", "action", ctrl.Action, "reason", ctrl.Reason)
		handler(ctrl)
	})
	if err != nil {
		c.logger.Warn("Failed to subscribe to control commands", "error", err)
		return
	}

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	c.sub = sub
}

// OnControl sets the callback for control commands. The callback runs on
// the NATS delivery goroutine.
func (c *SessionClient) OnControl(fn func(ControlMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onControl = fn

	if c.conn != nil && c.connected {
		c.subscribeControlLocked()
	}
}

// WritePacket publishes an encoded packet with its timestamp, key flag and
// sequence number in the message headers.
func (c *SessionClient) WritePacket(data []byte, timestamp float64, keyFrame bool) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	if conn == nil || !connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	msg := NewPacketMsg(c.sessionID, PacketMessage{
		Data:      data,
		Timestamp: timestamp,
		KeyFrame:  keyFrame,
		Sequence:  seq,
	})
	return conn.PublishMsg(msg)
}

// PublishStats publishes encoder statistics.
// No-op if not connected.
func (c *SessionClient) PublishStats(m StatsMessage) {
	c.publishJSON(SubjectSessionStats(c.sessionID), "stats", m.Marshal)
}

// PublishState publishes a session state change.
// No-op if not connected.
func (c *SessionClient) PublishState(m StateMessage) {
	c.publishJSON(SubjectSessionState(c.sessionID), "state", m.Marshal)
}

func (c *SessionClient) publishJSON(subject, kind string, marshal func() ([]byte, error)) {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if conn == nil || !connected {
		return
	}

	data, err := marshal()
	if err != nil {
		c.logger.Warn("Failed to marshal "+kind, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		c.logger.Warn("Failed to publish "+kind, "error", err)
	}
}

// ForwardEvents publishes this session's stats and state events from bus.
// Returns a function that stops forwarding.
func (c *SessionClient) ForwardEvents(bus *events.Bus) func() {
	unsubStats := bus.Subscribe(func(e events.EncoderStatsEvent) {
		if e.SessionID != c.sessionID {
			return
		}
		c.PublishStats(StatsMessage{
			SessionID:           e.SessionID,
			Timestamp:           e.Timestamp,
			EncodedFrames:       e.EncodedFrames,
			DroppedFrames:       e.DroppedFrames,
			RejectedFrames:      e.RejectedFrames,
			DeliveredPackets:    e.DeliveredPackets,
			DiscardedPackets:    e.DiscardedPackets,
			AverageEncodeTimeMs: e.AverageEncodeTimeMs,
			QueueDepth:          e.QueueDepth,
			Final:               e.Final,
		})
	})
	unsubState := bus.Subscribe(func(e events.SessionStateChangedEvent) {
		if e.SessionID != c.sessionID {
			return
		}
		c.PublishState(StateMessage{
			SessionID: e.SessionID,
			Timestamp: e.Timestamp,
			OldState:  e.OldState,
			NewState:  e.NewState,
		})
	})

	return func() {
		unsubStats()
		unsubState()
	}
}

// Flush waits until the server has processed everything published so far.
func (c *SessionClient) Flush() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.FlushTimeout(5 * time.Second)
}

// IsConnected returns true if connected to NATS.
func (c *SessionClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil
}

// Close drains pending messages and closes the NATS connection.
func (c *SessionClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}

	if c.conn != nil {
		if err := c.conn.FlushTimeout(2 * time.Second); err != nil {
			c.logger.Debug("Failed to flush before close", "error", err)
		}
		c.conn.Close()
		c.conn = nil
	}

	c.connected = false
	c.logger.Debug("NATS client closed")
}

// ControlPublisher is used by the server to publish control commands.
type ControlPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewControlPublisher creates a publisher for control commands.
func NewControlPublisher(url string, logger *slog.Logger) (*ControlPublisher, error) {
	if logger == nil {
		logger = logging.GetLogger("nats")
	}

	conn, err := nats.Connect(url,
		nats.Name(version.Name + "-control"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &ControlPublisher{
		conn:   conn,
		logger: logger.With("component", "nats-control"),
	}, nil
}

// Pause asks a capture process to pause.
func (p *ControlPublisher) Pause(sessionID, reason string) error {
	return p.send(sessionID, ActionPause, reason)
}

// Resume asks a capture process to resume.
func (p *ControlPublisher) Resume(sessionID, reason string) error {
	return p.send(sessionID, ActionResume, reason)
}

// Stop asks a capture process to stop.
func (p *ControlPublisher) Stop(sessionID, reason string) error {
	return p.send(sessionID, ActionStop, reason)
}

func (p *ControlPublisher) send(sessionID, action, reason string) error {
	msg := ControlMessage{
		Action:    action,
		SessionID: sessionID,
		Timestamp: time.Now().Format(time.RFC3339),
		Reason:    reason,
	}

	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	if err := p.conn.Publish(SubjectControl(sessionID, action), data); err != nil {
		return err
	}

	p.logger.Info("Sent control command", "session", sessionID, "action", action, "reason", reason)
	return nil
}

// Close closes the control publisher connection.
func (p *ControlPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
