package encoder

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/driver/reference"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/nvenc"
	"github.com/smazurov/gpuenc/internal/types"
)

// CreateFunc builds an encoder for a custom output format.
type CreateFunc func() Encoder

// builtinFormats lists the formats this package knows about, in preference order.
var builtinFormats = []OutputFormat{FormatNVENCHardware, FormatImageSequence}

// Info describes an output format for selection UIs.
type Info struct {
	Format       OutputFormat        `json:"format" toml:"format"`
	DisplayName  string              `json:"display_name" toml:"display_name"`
	Description  string              `json:"description" toml:"description"`
	Hardware     bool                `json:"hardware" toml:"hardware"`
	Realtime     bool                `json:"realtime" toml:"realtime"`
	Available    bool                `json:"available" toml:"available"`
	Codecs       []types.Codec       `json:"codecs,omitempty" toml:"codecs,omitempty"`
	ColorFormats []types.ColorFormat `json:"color_formats,omitempty" toml:"color_formats,omitempty"`
}

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	// Registry is handed to hardware encoders (required).
	Registry *driver.Registry

	Device        driver.Device
	Limits        *nvenc.Capabilities
	QueueCapacity int
	FenceTimeout  time.Duration

	// OnStateChange and OnFrameDropped are passed to every encoder created (optional).
	OnStateChange  nvenc.StateChangeCallback
	OnFrameDropped DropFunc

	// Logger for factory operations. If nil, uses the "encoder" module logger.
	Logger *slog.Logger
}

// Factory creates encoders by output format. Custom registrations shadow
// the built-in backends.
type Factory struct {
	opts   FactoryOptions
	logger *slog.Logger

	mu     sync.Mutex
	custom map[OutputFormat]CreateFunc
	order  []OutputFormat
}

// NewFactory creates a factory.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.Registry == nil {
		panic("FactoryOptions with Registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("encoder")
	}
	return &Factory{
		opts:   opts,
		logger: logger,
		custom: make(map[OutputFormat]CreateFunc),
	}
}

var (
	defaultFactory     *Factory
	defaultFactoryOnce sync.Once
)

// Default returns the process-wide factory backed by the reference driver.
func Default() *Factory {
	defaultFactoryOnce.Do(func() {
		logger := logging.GetLogger("encoder")
		defaultFactory = NewFactory(FactoryOptions{
			Registry: driver.NewRegistry(&reference.Loader{}, logger),
			Logger:   logger,
		})
	})
	return defaultFactory
}

// Registry returns the driver registry encoders are created with.
func (f *Factory) Registry() *driver.Registry {
	return f.opts.Registry
}

// CreateEncoder returns a new encoder for format, or nil when the format is
// unknown or has no implementation.
func (f *Factory) CreateEncoder(format OutputFormat) Encoder {
	return f.CreateSessionEncoder(format, "")
}

// CreateSessionEncoder is CreateEncoder with a fixed session ID, so packets
// and statistics can be routed before the encoder is initialized. Custom
// encoders ignore sessionID.
func (f *Factory) CreateSessionEncoder(format OutputFormat, sessionID string) Encoder {
	f.mu.Lock()
	create, ok := f.custom[format]
	f.mu.Unlock()
	if ok {
		return create()
	}

	switch format {
	case FormatNVENCHardware:
		return NewDirect(DirectOptions{
			Registry:       f.opts.Registry,
			Device:         f.opts.Device,
			Limits:         f.opts.Limits,
			SessionID:      sessionID,
			QueueCapacity:  f.opts.QueueCapacity,
			FenceTimeout:   f.opts.FenceTimeout,
			OnStateChange:  f.opts.OnStateChange,
			OnFrameDropped: f.opts.OnFrameDropped,
			Logger:         f.logger,
		})
	case FormatImageSequence:
		// Image sequences are a known format with no built-in writer; register
		// a custom encoder under this name to provide one.
		f.logger.Debug("No built-in image sequence encoder")
		return nil
	default:
		return nil
	}
}

func builtinAvailable(format OutputFormat) bool {
	return format == FormatNVENCHardware
}

// IsOutputFormatAvailable reports whether CreateEncoder would return an
// encoder for format. Nothing is constructed.
func (f *Factory) IsOutputFormatAvailable(format OutputFormat) bool {
	f.mu.Lock()
	_, ok := f.custom[format]
	f.mu.Unlock()
	return ok || builtinAvailable(format)
}

// AvailableOutputFormats lists custom formats in registration order followed
// by the available built-ins.
func (f *Factory) AvailableOutputFormats() []OutputFormat {
	f.mu.Lock()
	formats := slices.Clone(f.order)
	f.mu.Unlock()

	for _, format := range builtinFormats {
		if builtinAvailable(format) && !slices.Contains(formats, format) {
			formats = append(formats, format)
		}
	}
	return formats
}

// RegisterCustomEncoder installs create for format, replacing any previous
// custom registration and shadowing a built-in.
func (f *Factory) RegisterCustomEncoder(format OutputFormat, create CreateFunc) {
	if create == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.custom[format]; !exists {
		f.order = append(f.order, format)
	}
	f.custom[format] = create
	f.logger.Info("Registered custom encoder", "format", format)
}

// UnregisterCustomEncoder removes a custom registration. Built-ins become
// visible again.
func (f *Factory) UnregisterCustomEncoder(format OutputFormat) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.custom[format]; !exists {
		return
	}
	delete(f.custom, format)
	f.order = slices.DeleteFunc(f.order, func(o OutputFormat) bool { return o == format })
	f.logger.Info("Unregistered custom encoder", "format", format)
}

// EncoderInfo describes format. Hardware formats report the codecs and color
// formats of the current driver.
func (f *Factory) EncoderInfo(format OutputFormat) Info {
	info := Info{
		Format:    format,
		Available: f.IsOutputFormatAvailable(format),
	}

	switch format {
	case FormatNVENCHardware:
		caps := nvenc.GetCapabilities(f.opts.Registry)
		info.DisplayName = "NVENC Hardware"
		info.Description = "GPU hardware encoding to H.264, HEVC or AV1"
		info.Hardware = true
		info.Realtime = true
		info.Codecs = caps.Codecs
		info.ColorFormats = caps.ColorFormats
	case FormatImageSequence:
		info.DisplayName = "Image Sequence"
		info.Description = "One image file per frame"
		info.ColorFormats = []types.ColorFormat{types.ColorBGRA}
	default:
		info.DisplayName = string(format)
		info.Description = "Custom encoder"
	}
	return info
}

// RecommendedConfiguration returns a configuration suited to format.
// Hardware formats are adjusted to the current driver's capabilities.
func (f *Factory) RecommendedConfiguration(format OutputFormat) nvenc.Config {
	if format != FormatNVENCHardware {
		return nvenc.DefaultConfig()
	}
	caps := nvenc.GetCapabilities(f.opts.Registry)
	if !caps.Supported {
		return nvenc.DefaultConfig()
	}
	return nvenc.RecommendedConfig(caps)
}
