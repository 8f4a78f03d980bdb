package encoder

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/nvenc"
	"github.com/smazurov/gpuenc/internal/types"
)

// DefaultFenceTimeout bounds how long the worker waits for a GPU frame.
const DefaultFenceTimeout = 5 * time.Second

// ErrWorkerStopped is returned when starting a worker that has already run.
var ErrWorkerStopped = errors.New("encode worker cannot be restarted")

// ErrWorkerRunning is returned when starting a worker twice.
var ErrWorkerRunning = errors.New("encode worker already running")

// WorkerState is the lifecycle state of an EncodeWorker.
type WorkerState string

// Worker states.
const (
	WorkerNotStarted WorkerState = "not_started"
	WorkerRunning    WorkerState = "running"
	WorkerJoining    WorkerState = "joining"
	WorkerStopped    WorkerState = "stopped"
)

// DropReason says why a frame produced no output.
type DropReason string

// Drop reasons.
const (
	DropQueueFull    DropReason = "queue_full"
	DropFenceTimeout DropReason = "fence_timeout"
	DropEncodeFailed DropReason = "encode_failed"
	DropShutdown     DropReason = "shutdown"
)

// FrameEncoder is the encode side of a session. *nvenc.Session implements it.
type FrameEncoder interface {
	EncodeTexture(tex frame.Texture, timestamp float64, keyFrame bool) ([]nvenc.Packet, error)
	EncodeBuffer(buf []byte, res types.Resolution, pf types.PixelFormat, timestamp float64, keyFrame bool) ([]nvenc.Packet, error)
}

// DropFunc is told about every dropped frame.
type DropFunc func(sessionID string, timestamp float64, reason DropReason, err error)

// EncodeWorker is the single consumer of a FrameQueue and the only caller of
// the session's encode operations while running.
type EncodeWorker struct {
	sessionID    string
	queue        *FrameQueue
	enc          FrameEncoder
	out          *outputQueue
	stats        *statsRecorder
	fenceTimeout time.Duration
	onDrop       DropFunc
	logger       *slog.Logger

	mu    sync.Mutex
	state WorkerState
	stop  chan struct{}
	done  chan struct{}
}

func newEncodeWorker(sessionID string, queue *FrameQueue, enc FrameEncoder, out *outputQueue, stats *statsRecorder,
	fenceTimeout time.Duration, onDrop DropFunc, logger *slog.Logger,
) *EncodeWorker {
	if fenceTimeout <= 0 {
		fenceTimeout = DefaultFenceTimeout
	}
	return &EncodeWorker{
		sessionID:    sessionID,
		queue:        queue,
		enc:          enc,
		out:          out,
		stats:        stats,
		fenceTimeout: fenceTimeout,
		onDrop:       onDrop,
		logger:       logger,
		state:        WorkerNotStarted,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// State returns the worker's lifecycle state.
func (w *EncodeWorker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start launches the worker goroutine. A worker runs at most once.
func (w *EncodeWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case WorkerRunning, WorkerJoining:
		return ErrWorkerRunning
	case WorkerStopped:
		return ErrWorkerStopped
	}

	w.state = WorkerRunning
	go w.run()
	return nil
}

// Stop signals the worker and waits for its goroutine to exit. Frames still
// queued are left for the owner. Safe to call more than once.
func (w *EncodeWorker) Stop() {
	w.mu.Lock()
	switch w.state {
	case WorkerNotStarted:
		w.state = WorkerStopped
		w.mu.Unlock()
		return
	case WorkerStopped:
		w.mu.Unlock()
		return
	case WorkerRunning:
		w.state = WorkerJoining
		close(w.stop)
	}
	w.mu.Unlock()

	<-w.done

	w.mu.Lock()
	w.state = WorkerStopped
	w.mu.Unlock()
}

func (w *EncodeWorker) run() {
	defer close(w.done)

	frames := w.queue.frames()
	for {
		// Stop wins over pending frames so Finalize can take the rest in order.
		select {
		case <-w.stop:
			return
		default:
		}

		select {
		case <-w.stop:
			return
		case f := <-frames:
			w.encode(f)
		}
	}
}

// encode runs one frame through the session and records the outcome.
func (w *EncodeWorker) encode(f *frame.Context) {
	var (
		pkts []nvenc.Packet
		err  error
	)

	if f.IsCPU() {
		start := time.Now()
		pkts, err = w.enc.EncodeBuffer(f.Buffer, f.Resolution, f.Format, f.Timestamp, f.KeyFrame)
		w.stats.recordEncodeTime(time.Since(start))
	} else {
		if status := f.Fence.Wait(w.fenceTimeout); status != frame.FenceReady {
			w.logger.Warn("GPU fence timed out, dropping frame",
				"timestamp", f.Timestamp, "timeout", w.fenceTimeout)
			w.drop(f, DropFenceTimeout, nil)
			return
		}

		var tex frame.Texture
		if f.Target != nil {
			tex = f.Target.Texture()
		}
		start := time.Now()
		pkts, err = w.enc.EncodeTexture(tex, f.Timestamp, f.KeyFrame)
		w.stats.recordEncodeTime(time.Since(start))
	}

	if err != nil {
		w.logger.Warn("Failed to encode frame", "timestamp", f.Timestamp, "error", err)
		w.drop(f, DropEncodeFailed, err)
		return
	}

	w.stats.recordEncoded()
	w.out.push(pkts...)
}

func (w *EncodeWorker) drop(f *frame.Context, reason DropReason, err error) {
	w.stats.recordDropped(1)
	if w.onDrop != nil {
		w.onDrop(w.sessionID, f.Timestamp, reason, err)
	}
}
