package encoder

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/nvenc"
	"github.com/smazurov/gpuenc/internal/types"
)

// DirectOptions configures a Direct encoder.
type DirectOptions struct {
	// Registry provides the shared driver reference (required).
	Registry *driver.Registry

	// Device is the graphics device the session binds to.
	Device driver.Device

	// Limits overrides the static capability check done before touching the driver.
	Limits *nvenc.Capabilities

	// SessionID names sessions in logs and events. Generated when empty.
	SessionID string

	// QueueCapacity bounds the frame queue. Defaults to DefaultQueueCapacity.
	QueueCapacity int

	// FenceTimeout bounds GPU fence waits. Defaults to DefaultFenceTimeout.
	FenceTimeout time.Duration

	// OnStateChange is forwarded to every session this encoder creates (optional).
	OnStateChange nvenc.StateChangeCallback

	// OnFrameDropped is called for every dropped frame (optional).
	OnFrameDropped DropFunc

	// Logger for encoder operations. If nil, uses the "encoder" module logger.
	Logger *slog.Logger
}

// Direct drives a hardware session directly: frames go through a FrameQueue
// to an EncodeWorker and packets come back through an output queue.
type Direct struct {
	opts   DirectOptions
	logger *slog.Logger

	// mu guards the fields below and is never held across a fence wait,
	// an encode call or a consumer callback.
	mu          sync.RWMutex
	session     *nvenc.Session
	queue       *FrameQueue
	worker      *EncodeWorker
	out         *outputQueue
	stats       *statsRecorder
	initialized bool

	// accepting is read by producers without taking mu.
	accepting atomic.Bool

	// teardownMu serialises Initialize, Finalize and Shutdown.
	teardownMu sync.Mutex

	// processMu keeps packet delivery single-threaded.
	processMu sync.Mutex
}

// pipeline is the per-session state a teardown works on after releasing mu.
type pipeline struct {
	session *nvenc.Session
	queue   *FrameQueue
	worker  *EncodeWorker
	out     *outputQueue
	stats   *statsRecorder
}

// NewDirect creates an uninitialized hardware-direct encoder.
func NewDirect(opts DirectOptions) *Direct {
	if opts.Registry == nil {
		panic("DirectOptions with Registry is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("encoder")
	}

	return &Direct{
		opts:   opts,
		logger: logger,
		stats:  &statsRecorder{},
		out:    &outputQueue{},
	}
}

// Type implements Encoder.
func (d *Direct) Type() OutputFormat {
	return FormatNVENCHardware
}

// IsInitialized implements Encoder.
func (d *Direct) IsInitialized() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initialized
}

// SessionID returns the ID of the current session, or "" before Initialize.
func (d *Direct) SessionID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return ""
	}
	return d.session.ID()
}

// Config returns the active session configuration.
func (d *Direct) Config() (nvenc.Config, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.initialized {
		return nvenc.Config{}, false
	}
	return d.session.Config(), true
}

// Initialize implements Encoder. Statistics restart with every session.
func (d *Direct) Initialize(cfg nvenc.Config) error {
	d.teardownMu.Lock()
	defer d.teardownMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nvenc.NewSessionError(nvenc.ErrCodeAlreadyInitialized, "encoder already initialized", nil)
	}

	session := nvenc.NewSession(nvenc.SessionOptions{
		Registry:      d.opts.Registry,
		Device:        d.opts.Device,
		Limits:        d.opts.Limits,
		ID:            d.opts.SessionID,
		OnStateChange: d.opts.OnStateChange,
		Logger:        d.logger,
	})
	if err := session.Initialize(cfg); err != nil {
		return err
	}

	d.session = session
	d.queue = NewFrameQueue(d.opts.QueueCapacity)
	d.out = &outputQueue{}
	d.stats = &statsRecorder{}
	d.worker = newEncodeWorker(session.ID(), d.queue, session, d.out, d.stats, d.opts.FenceTimeout, d.opts.OnFrameDropped, d.logger)
	if err := d.worker.Start(); err != nil {
		session.Shutdown()
		return err
	}

	d.initialized = true
	d.accepting.Store(true)
	d.logger.Info("Direct encoder initialized",
		"session", session.ID(), "queue_capacity", d.queue.Cap(), "fence_timeout", d.worker.fenceTimeout)
	return nil
}

// EnqueueFrame implements Encoder.
func (d *Direct) EnqueueFrame(rt frame.RenderTarget, fence frame.Fence, timestamp float64, keyFrame bool) bool {
	if rt == nil {
		return false
	}
	return d.enqueue(frame.NewGPU(rt, fence, timestamp, keyFrame))
}

// EnqueueCPUBuffer implements Encoder. Pixel formats the session cannot take
// are refused here without counting as dropped.
func (d *Direct) EnqueueCPUBuffer(buf []byte, res types.Resolution, pf types.PixelFormat, timestamp float64, keyFrame bool) bool {
	if !nvenc.AcceptsPixelFormat(pf) || len(buf) == 0 || !d.accepting.Load() {
		return false
	}
	return d.enqueue(frame.NewCPU(buf, res, pf, timestamp, keyFrame))
}

// enqueue returns false at once while a teardown is in progress. Teardown
// takes mu only to close the queue, so the read lock here is never held
// across blocking work.
func (d *Direct) enqueue(f *frame.Context) bool {
	if !d.accepting.Load() {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.accepting.Load() {
		return false
	}
	if !d.queue.Enqueue(f) {
		d.stats.recordRejected()
		if d.opts.OnFrameDropped != nil {
			d.opts.OnFrameDropped(d.session.ID(), f.Timestamp, DropQueueFull, nil)
		}
		return false
	}
	return true
}

// ProcessEncodedFrames implements Encoder.
func (d *Direct) ProcessEncodedFrames(cb Callback) bool {
	d.mu.RLock()
	out, stats, initialized := d.out, d.stats, d.initialized
	d.mu.RUnlock()
	if !initialized {
		return false
	}

	d.processMu.Lock()
	defer d.processMu.Unlock()
	return deliver(cb, out.take(), stats) > 0
}

func deliver(cb Callback, pkts []nvenc.Packet, stats *statsRecorder) int {
	if len(pkts) == 0 {
		return 0
	}
	if cb == nil {
		stats.recordDiscarded(len(pkts))
		return 0
	}
	for _, pkt := range pkts {
		cb(pkt.Data, pkt.Timestamp, pkt.KeyFrame)
	}
	stats.recordDelivered(len(pkts))
	return len(pkts)
}

// beginTeardown stops intake and returns the pipeline to tear down. The
// check decides whether there is anything to do.
func (d *Direct) beginTeardown(check func() bool) (pipeline, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !check() {
		return pipeline{}, false
	}
	d.accepting.Store(false)
	d.queue.Close()
	return pipeline{
		session: d.session,
		queue:   d.queue,
		worker:  d.worker,
		out:     d.out,
		stats:   d.stats,
	}, true
}

// Finalize implements Encoder. The worker is joined before the remaining
// frames are encoded here, in queue order. Afterwards the encoder stays
// initialized but refuses new frames until Shutdown.
func (d *Direct) Finalize(cb Callback) {
	d.teardownMu.Lock()
	defer d.teardownMu.Unlock()

	p, ok := d.beginTeardown(func() bool { return d.initialized && d.accepting.Load() })
	if !ok {
		return
	}

	p.worker.Stop()
	remaining := p.queue.Drain()
	for _, f := range remaining {
		p.worker.encode(f)
	}

	d.processMu.Lock()
	defer d.processMu.Unlock()

	deliver(cb, p.out.take(), p.stats)

	flushed := 0
	for {
		pkt, ok, err := p.session.Flush()
		if err != nil {
			d.logger.Error("Failed to flush encoder", "error", err)
			break
		}
		if !ok {
			break
		}
		flushed += deliver(cb, []nvenc.Packet{pkt}, p.stats)
	}

	d.logger.Info("Encoder finalized", "drained_frames", len(remaining), "flushed_packets", flushed)
}

// Shutdown implements Encoder. Safe to call more than once.
func (d *Direct) Shutdown() {
	d.teardownMu.Lock()
	defer d.teardownMu.Unlock()

	p, ok := d.beginTeardown(func() bool { return d.initialized })
	if !ok {
		return
	}

	p.worker.Stop()

	dropped := p.queue.Drain()
	p.stats.recordDropped(len(dropped))
	if d.opts.OnFrameDropped != nil {
		for _, f := range dropped {
			d.opts.OnFrameDropped(p.session.ID(), f.Timestamp, DropShutdown, nil)
		}
	}

	d.processMu.Lock()
	discarded := len(p.out.take())
	for {
		_, ok, err := p.session.Flush()
		if err != nil || !ok {
			break
		}
		discarded++
	}
	d.processMu.Unlock()
	p.stats.recordDiscarded(discarded)

	p.session.Shutdown()

	d.mu.Lock()
	d.initialized = false
	d.mu.Unlock()

	if len(dropped) > 0 || discarded > 0 {
		d.logger.Warn("Encoder shut down with pending work",
			"dropped_frames", len(dropped), "discarded_packets", discarded)
	} else {
		d.logger.Info("Encoder shut down")
	}
}

// Stats implements StatsProvider.
func (d *Direct) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := d.stats.snapshot()
	if d.queue != nil && d.accepting.Load() {
		s.QueueDepth = d.queue.Len()
	}
	return s
}
