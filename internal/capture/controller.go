// Package capture owns an encoder for the duration of a capture: it gates
// incoming frames, forwards them to the encoder and hands encoded packets to
// a Sink.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/nvenc"
	"github.com/smazurov/gpuenc/internal/types"
)

// DefaultFrameRate is used when Config.FrameRate is not set.
const DefaultFrameRate = 60.0

var (
	ErrNoEncoder        = errors.New("no encoder configured")
	ErrAlreadyCapturing = errors.New("capture already in progress")
	ErrNotCapturing     = errors.New("no capture in progress")
	ErrNotPaused        = errors.New("capture not paused")
)

// Sink receives encoded packets in delivery order.
type Sink interface {
	WritePacket(data []byte, timestamp float64, keyFrame bool) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(data []byte, timestamp float64, keyFrame bool) error

// WritePacket implements Sink.
func (f SinkFunc) WritePacket(data []byte, timestamp float64, keyFrame bool) error {
	return f(data, timestamp, keyFrame)
}

// Config describes one capture.
type Config struct {
	Encoder        nvenc.Config `toml:"encoder" json:"encoder"`
	FrameRate      float64      `toml:"frame_rate" json:"frame_rate"`
	LimitFrameRate bool         `toml:"limit_frame_rate" json:"limit_frame_rate"`
}

// Stats counts frames seen by the controller, independent of encoder stats.
type Stats struct {
	Submitted      uint64 `json:"submitted"`
	Forwarded      uint64 `json:"forwarded"`
	Skipped        uint64 `json:"skipped"`
	Refused        uint64 `json:"refused"`
	PacketsWritten uint64 `json:"packets_written"`
	SinkErrors     uint64 `json:"sink_errors"`
}

// Options configures a Controller.
type Options struct {
	// Encoder used by Start. May be set later with SetEncoder.
	Encoder encoder.Encoder

	// Sink receives encoded packets. Packets are discarded when nil.
	Sink Sink

	// Bus receives capture and stats events (optional).
	Bus *events.Bus

	// Logger for capture operations. If nil, uses the "capture" module logger.
	Logger *slog.Logger
}

// Controller serialises capture control and gates frame submission.
// Submit calls may run concurrently with each other; control calls wait
// for in-flight submissions, and submissions made during a control call
// are skipped.
type Controller struct {
	sink   Sink
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.RWMutex
	enc       encoder.Encoder
	cfg       Config
	capturing bool
	paused    bool

	rateMu   sync.Mutex
	lastTime float64
	haveLast bool

	submitted      atomic.Uint64
	forwarded      atomic.Uint64
	skipped        atomic.Uint64
	refused        atomic.Uint64
	packetsWritten atomic.Uint64
	sinkErrors     atomic.Uint64
}

// NewController creates an idle controller.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("capture")
	}
	return &Controller{
		enc:    opts.Encoder,
		sink:   opts.Sink,
		bus:    opts.Bus,
		logger: logger,
	}
}

// Start initialises the encoder with cfg and begins accepting frames.
func (c *Controller) Start(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(cfg)
}

func (c *Controller) startLocked(cfg Config) error {
	if c.capturing {
		return ErrAlreadyCapturing
	}
	if c.enc == nil {
		c.publishError("", "Cannot start capture", ErrNoEncoder)
		return ErrNoEncoder
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}

	if !c.enc.IsInitialized() {
		if err := c.enc.Initialize(cfg.Encoder); err != nil {
			c.logger.Error("Failed to initialize encoder", "format", c.enc.Type(), "error", err)
			c.publishError(sessionID(c.enc), "Failed to start capture", err)
			return fmt.Errorf("initialize encoder: %w", err)
		}
	}

	c.cfg = cfg
	c.capturing = true
	c.paused = false
	c.resetCounters()

	id := sessionID(c.enc)
	c.logger.Info("Capture started", "session", id, "format", c.enc.Type(), "config", cfg.Encoder.String())
	c.publish(events.CaptureStartedEvent{
		SessionID: id,
		Format:    string(c.enc.Type()),
		Config:    cfg.Encoder.String(),
		Timestamp: now(),
	})
	return nil
}

// Stop finalizes the encoder into the sink, publishes the final statistics
// and shuts the encoder down.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if !c.capturing {
		return ErrNotCapturing
	}
	c.capturing = false
	c.paused = false

	id := sessionID(c.enc)
	if c.enc.IsInitialized() {
		c.enc.Finalize(c.writePacket)
	}
	if sp, ok := c.enc.(encoder.StatsProvider); ok {
		c.publish(statsEvent(id, sp.Stats(), true))
	}
	c.enc.Shutdown()

	forwarded := c.forwarded.Load()
	c.logger.Info("Capture stopped",
		"session", id,
		"submitted", c.submitted.Load(),
		"forwarded", forwarded,
		"packets_written", c.packetsWritten.Load())
	c.publish(events.CaptureStoppedEvent{
		SessionID: id,
		Frames:    forwarded,
		Timestamp: now(),
	})
	return nil
}

// UpdateConfig applies cfg. Frame rate settings take effect immediately and
// restart the rate limiter. When a capture is in progress and the encoder
// configuration differs, the encoder is finalized, shut down and started
// again with the new settings; counters restart and a paused capture stays
// paused. An idle controller only records cfg for Config.
func (c *Controller) UpdateConfig(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}

	if !c.capturing || cfg.Encoder == c.cfg.Encoder {
		c.cfg.FrameRate = cfg.FrameRate
		c.cfg.LimitFrameRate = cfg.LimitFrameRate
		if !c.capturing {
			c.cfg.Encoder = cfg.Encoder
		}
		c.resetLimiter()
		c.logger.Info("Capture frame rate updated",
			"session", sessionID(c.enc), "frame_rate", cfg.FrameRate, "limit", cfg.LimitFrameRate)
		return nil
	}

	paused := c.paused
	c.logger.Info("Restarting capture with new encoder configuration",
		"session", sessionID(c.enc), "from", c.cfg.Encoder.String(), "to", cfg.Encoder.String())
	if err := c.stopLocked(); err != nil {
		return err
	}
	if err := c.startLocked(cfg); err != nil {
		return fmt.Errorf("restart capture: %w", err)
	}
	c.paused = paused
	return nil
}

func (c *Controller) resetLimiter() {
	c.rateMu.Lock()
	c.haveLast = false
	c.rateMu.Unlock()
}

// Pause stops forwarding frames without releasing the encoder.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capturing {
		return ErrNotCapturing
	}
	c.paused = true
	c.logger.Info("Capture paused", "session", sessionID(c.enc))
	return nil
}

// Resume continues a paused capture. The frame rate limiter restarts.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capturing {
		return ErrNotCapturing
	}
	if !c.paused {
		return ErrNotPaused
	}
	c.paused = false
	c.resetLimiter()
	c.logger.Info("Capture resumed", "session", sessionID(c.enc))
	return nil
}

// SetEncoder replaces the encoder, stopping any capture in progress.
func (c *Controller) SetEncoder(enc encoder.Encoder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		if err := c.stopLocked(); err != nil {
			c.logger.Warn("Failed to stop capture before encoder swap", "error", err)
		}
	}
	c.enc = enc
}

// Encoder returns the current encoder.
func (c *Controller) Encoder() encoder.Encoder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enc
}

// IsCapturing reports whether a capture is in progress.
func (c *Controller) IsCapturing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capturing
}

// IsPaused reports whether the capture in progress is paused.
func (c *Controller) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Config returns the configuration of the current or last capture.
func (c *Controller) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SubmitGPU offers a rendered frame. It returns true if the encoder accepted it.
func (c *Controller) SubmitGPU(rt frame.RenderTarget, fence frame.Fence, timestamp float64, keyFrame bool) bool {
	return c.submit(timestamp, func(enc encoder.Encoder) bool {
		return enc.EnqueueFrame(rt, fence, timestamp, keyFrame)
	})
}

// SubmitCPU offers a CPU frame. It returns true if the encoder accepted it.
func (c *Controller) SubmitCPU(buf []byte, res types.Resolution, pf types.PixelFormat, timestamp float64, keyFrame bool) bool {
	return c.submit(timestamp, func(enc encoder.Encoder) bool {
		return enc.EnqueueCPUBuffer(buf, res, pf, timestamp, keyFrame)
	})
}

// submit skips the frame instead of waiting while a control call such as
// Stop or UpdateConfig holds the lock.
func (c *Controller) submit(timestamp float64, enqueue func(encoder.Encoder) bool) bool {
	c.submitted.Add(1)
	if !c.mu.TryRLock() {
		c.skipped.Add(1)
		return false
	}
	defer c.mu.RUnlock()

	if !c.capturing || c.paused || !c.admit(timestamp) {
		c.skipped.Add(1)
		return false
	}

	if !enqueue(c.enc) {
		c.refused.Add(1)
		c.logger.Debug("Encoder refused frame", "timestamp", timestamp)
		return false
	}
	c.forwarded.Add(1)
	c.enc.ProcessEncodedFrames(c.writePacket)
	return true
}

// admit applies the frame rate limit using frame timestamps.
func (c *Controller) admit(timestamp float64) bool {
	if !c.cfg.LimitFrameRate {
		return true
	}
	interval := 1.0 / c.cfg.FrameRate

	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	if c.haveLast && timestamp-c.lastTime < interval-1e-9 {
		return false
	}
	c.lastTime = timestamp
	c.haveLast = true
	return true
}

// Poll delivers packets the encoder produced since the last submission.
func (c *Controller) Poll() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.capturing {
		return false
	}
	return c.enc.ProcessEncodedFrames(c.writePacket)
}

func (c *Controller) writePacket(data []byte, timestamp float64, keyFrame bool) {
	if c.sink == nil {
		return
	}
	if err := c.sink.WritePacket(data, timestamp, keyFrame); err != nil {
		c.sinkErrors.Add(1)
		c.logger.Warn("Failed to write packet", "timestamp", timestamp, "size", len(data), "error", err)
		return
	}
	c.packetsWritten.Add(1)
}

// Stats returns the controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Submitted:      c.submitted.Load(),
		Forwarded:      c.forwarded.Load(),
		Skipped:        c.skipped.Load(),
		Refused:        c.refused.Load(),
		PacketsWritten: c.packetsWritten.Load(),
		SinkErrors:     c.sinkErrors.Load(),
	}
}

// EncoderStats returns the encoder's statistics when it keeps them.
func (c *Controller) EncoderStats() (encoder.Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sp, ok := c.enc.(encoder.StatsProvider); ok {
		return sp.Stats(), true
	}
	return encoder.Stats{}, false
}

// ReportStats publishes an EncoderStatsEvent every interval while capturing,
// until ctx is done.
func (c *Controller) ReportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			if c.capturing {
				if sp, ok := c.enc.(encoder.StatsProvider); ok {
					c.publish(statsEvent(sessionID(c.enc), sp.Stats(), false))
				}
			}
			c.mu.RUnlock()
		}
	}
}

func (c *Controller) resetCounters() {
	c.submitted.Store(0)
	c.forwarded.Store(0)
	c.skipped.Store(0)
	c.refused.Store(0)
	c.packetsWritten.Store(0)
	c.sinkErrors.Store(0)

	c.rateMu.Lock()
	c.haveLast = false
	c.rateMu.Unlock()
}

func (c *Controller) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func (c *Controller) publishError(id, message string, err error) {
	c.publish(events.CaptureErrorEvent{
		SessionID: id,
		Message:   message,
		Error:     err.Error(),
		Timestamp: now(),
	})
}

func sessionID(enc encoder.Encoder) string {
	if s, ok := enc.(interface{ SessionID() string }); ok {
		return s.SessionID()
	}
	return ""
}

func statsEvent(id string, s encoder.Stats, final bool) events.EncoderStatsEvent {
	return events.EncoderStatsEvent{
		SessionID:           id,
		EncodedFrames:       s.EncodedFrames,
		DroppedFrames:       s.DroppedFrames,
		RejectedFrames:      s.RejectedFrames,
		DeliveredPackets:    s.DeliveredPackets,
		DiscardedPackets:    s.DiscardedPackets,
		AverageEncodeTimeMs: s.AverageEncodeTimeMs,
		QueueDepth:          s.QueueDepth,
		Final:               final,
		Timestamp:           now(),
	}
}

func now() string {
	return time.Now().Format(time.RFC3339)
}
