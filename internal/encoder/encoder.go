// Package encoder connects frame producers to a hardware encoder session
// through a bounded queue and a dedicated encode worker.
package encoder

import (
	"fmt"

	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/nvenc"
	"github.com/smazurov/gpuenc/internal/types"
)

// OutputFormat selects an encoder backend.
type OutputFormat string

// Output formats
const (
	FormatNVENCHardware OutputFormat = "nvenc_hardware"
	FormatImageSequence OutputFormat = "image_sequence"
)

// ParseOutputFormat converts a string to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatNVENCHardware, "nvenc", "hardware":
		return FormatNVENCHardware, nil
	case FormatImageSequence, "images":
		return FormatImageSequence, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Callback receives one encoded packet on the calling goroutine.
type Callback func(data []byte, timestamp float64, keyFrame bool)

// Encoder is the contract every output backend implements.
type Encoder interface {
	// Initialize creates the backend for cfg and starts accepting frames.
	Initialize(cfg nvenc.Config) error

	// Shutdown stops the backend. Queued frames are counted as dropped and
	// undelivered packets as discarded.
	Shutdown()

	// EnqueueFrame queues a GPU frame. It never blocks; false means the frame
	// was not accepted.
	EnqueueFrame(rt frame.RenderTarget, fence frame.Fence, timestamp float64, keyFrame bool) bool

	// EnqueueCPUBuffer queues a copy of a CPU frame. It never blocks.
	EnqueueCPUBuffer(buf []byte, res types.Resolution, pf types.PixelFormat, timestamp float64, keyFrame bool) bool

	// ProcessEncodedFrames delivers packets produced since the last call and
	// reports whether any were delivered.
	ProcessEncodedFrames(cb Callback) bool

	// Finalize encodes everything still queued, flushes the backend and
	// delivers all remaining packets.
	Finalize(cb Callback)

	IsInitialized() bool

	Type() OutputFormat
}

// StatsProvider is implemented by encoders that keep frame statistics.
type StatsProvider interface {
	Stats() Stats
}
