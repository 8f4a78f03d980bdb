package nats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/version"
)

// Bridge subscribes to session subjects and forwards stats and state to the
// event bus. It is the receiving side of SessionClient.ForwardEvents and must
// not share a bus with one.
type Bridge struct {
	url      string
	eventBus *events.Bus
	conn     *nats.Conn
	subs     []*nats.Subscription
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewBridge creates a new NATS-to-EventBus bridge.
func NewBridge(url string, eventBus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = logging.GetLogger("nats")
	}

	return &Bridge{
		url:      url,
		eventBus: eventBus,
		logger:   logger.With("component", "nats-bridge"),
	}
}

// Start connects to NATS and subscribes to session subjects.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name(version.Name + "-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}

	b.conn = conn
	b.logger.Info("NATS bridge connected", "url", b.url)

	statsSub, err := conn.Subscribe(SubjectSessionsPrefix+".*.stats", b.handleStats)
	if err != nil {
		b.cleanup()
		return err
	}
	b.subs = append(b.subs, statsSub)

	stateSub, err := conn.Subscribe(SubjectSessionsPrefix+".*.state", b.handleState)
	if err != nil {
		b.cleanup()
		return err
	}
	b.subs = append(b.subs, stateSub)

	// Round-trip so subscriptions are active before Start returns.
	if err := conn.Flush(); err != nil {
		b.cleanup()
		return err
	}

	b.logger.Info("NATS bridge subscribed to session subjects")
	return nil
}

func (b *Bridge) handleStats(msg *nats.Msg) {
	m, err := UnmarshalStats(msg.Data)
	if err != nil {
		b.logger.Warn("Failed to unmarshal stats", "error", err, "subject", msg.Subject)
		return
	}

	b.eventBus.Publish(events.EncoderStatsEvent{
		SessionID:           m.SessionID,
		EncodedFrames:       m.EncodedFrames,
		DroppedFrames:       m.DroppedFrames,
		RejectedFrames:      m.RejectedFrames,
		DeliveredPackets:    m.DeliveredPackets,
		DiscardedPackets:    m.DiscardedPackets,
		AverageEncodeTimeMs: m.AverageEncodeTimeMs,
		QueueDepth:          m.QueueDepth,
		Final:               m.Final,
		Timestamp:           m.Timestamp,
	})
	b.logger.Debug("Published stats event", "session", m.SessionID)
}

func (b *Bridge) handleState(msg *nats.Msg) {
	m, err := UnmarshalState(msg.Data)
	if err != nil {
		b.logger.Warn("Failed to unmarshal state", "error", err, "subject", msg.Subject)
		return
	}

	b.eventBus.Publish(events.SessionStateChangedEvent{
		SessionID: m.SessionID,
		OldState:  m.OldState,
		NewState:  m.NewState,
		Timestamp: m.Timestamp,
	})
	b.logger.Debug("Published state event", "session", m.SessionID, "state", m.NewState)
}

// cleanup unsubscribes and closes connection.
func (b *Bridge) cleanup() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Stop closes the bridge connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected returns true if the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
