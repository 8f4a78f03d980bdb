package config

import (
	"fmt"
	"time"

	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/driver/reference"
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/nvenc"
	"github.com/smazurov/gpuenc/internal/types"
)

// Driver backends
const (
	BackendReference = "reference"
	BackendLibrary   = "library"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"gpuenc.toml"`

	// Server settings
	Addr string `help:"Address the status API listens on" default:":8090" toml:"server.addr" env:"SERVER_ADDR"`

	// Auth settings, both empty disables basic auth
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Encoder settings
	EncoderFormat       string `help:"Output format (nvenc_hardware, image_sequence or a custom name)" default:"nvenc_hardware" toml:"encoder.format" env:"ENCODER_FORMAT"`
	EncoderCodec        string `help:"Codec (h264, hevc, av1)" default:"h264" toml:"encoder.codec" env:"ENCODER_CODEC"`
	EncoderColorFormat  string `help:"Input color format (nv12, p010, bgra)" default:"nv12" toml:"encoder.color_format" env:"ENCODER_COLOR_FORMAT"`
	EncoderWidth        int    `help:"Frame width" default:"1920" toml:"encoder.width" env:"ENCODER_WIDTH"`
	EncoderHeight       int    `help:"Frame height" default:"1080" toml:"encoder.height" env:"ENCODER_HEIGHT"`
	EncoderPreset       string `help:"Quality preset (low, balanced, high, ultra, lossless)" default:"balanced" toml:"encoder.preset" env:"ENCODER_PRESET"`
	EncoderBitrate      int    `help:"Target bitrate in kbps, 0 keeps the preset" default:"0" toml:"encoder.target_bitrate_kbps" env:"ENCODER_BITRATE"`
	EncoderMaxBitrate   int    `help:"Maximum bitrate in kbps, 0 keeps the preset" default:"0" toml:"encoder.max_bitrate_kbps" env:"ENCODER_MAX_BITRATE"`
	EncoderGOP          int    `name:"encoder-gop" help:"Key frame interval, 0 keeps the preset" default:"0" toml:"encoder.gop" env:"ENCODER_GOP"`
	EncoderBFrames      int    `help:"B-frames, -1 keeps the preset" default:"-1" toml:"encoder.b_frames" env:"ENCODER_B_FRAMES"`
	EncoderCBR          bool   `name:"encoder-cbr" help:"Use constant bitrate rate control" default:"false" toml:"encoder.cbr" env:"ENCODER_CBR"`
	EncoderLowLatency   bool   `help:"Tune for low latency" default:"false" toml:"encoder.low_latency" env:"ENCODER_LOW_LATENCY"`
	EncoderLimitFPS     bool   `name:"encoder-limit-fps" help:"Skip frames arriving faster than the frame rate" default:"false" toml:"encoder.limit_frame_rate" env:"ENCODER_LIMIT_FPS"`
	EncoderFrameRate    int    `help:"Capture frame rate" default:"60" toml:"encoder.frame_rate" env:"ENCODER_FRAME_RATE"`
	EncoderStatsSeconds int    `help:"Interval between published stats in seconds" default:"1" toml:"encoder.stats_interval" env:"ENCODER_STATS_SECONDS"`

	// Pipeline settings
	PipelineQueueCapacity int    `help:"Frames buffered between producer and encoder" default:"32" toml:"pipeline.queue_capacity" env:"PIPELINE_QUEUE_CAPACITY"`
	PipelineFenceTimeout  string `help:"Maximum wait for a GPU frame to finish rendering" default:"5s" toml:"pipeline.fence_timeout" env:"PIPELINE_FENCE_TIMEOUT"`

	// Driver settings
	DriverBackend     string `help:"Driver backend (reference, library)" default:"reference" toml:"driver.backend" env:"DRIVER_BACKEND"`
	DriverLibraryPath string `help:"Vendor library path, searched when empty" default:"" toml:"driver.library_path" env:"DRIVER_LIBRARY_PATH"`

	// Metrics settings
	MetricsAddr string `help:"Address for a standalone /metrics listener, empty disables it" default:"" toml:"metrics.addr" env:"METRICS_ADDR"`

	// NATS settings
	NatsURL      string `name:"nats-url" help:"NATS server URL, empty disables publishing" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsEmbedded bool   `help:"Start an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingNvenc   string `help:"Session logging level" default:"info" toml:"logging.nvenc" env:"LOGGING_NVENC"`
	LoggingEncoder string `help:"Encoder pipeline logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingDriver  string `help:"Driver logging level" default:"info" toml:"logging.driver" env:"LOGGING_DRIVER"`
	LoggingCapture string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingNats    string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
	LoggingAPI     string `name:"logging-api" help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingMetrics string `help:"Metrics logging level" default:"info" toml:"logging.metrics" env:"LOGGING_METRICS"`
}

// LoggingConfig returns the logging configuration carried by o.
func (o *Options) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"nvenc":   o.LoggingNvenc,
			"encoder": o.LoggingEncoder,
			"driver":  o.LoggingDriver,
			"capture": o.LoggingCapture,
			"nats":    o.LoggingNats,
			"api":     o.LoggingAPI,
			"metrics": o.LoggingMetrics,
		},
	}
}

// EncoderConfig builds a session configuration: the preset first, then any
// explicit overrides.
func (o *Options) EncoderConfig() (nvenc.Config, error) {
	codec, err := types.ParseCodec(o.EncoderCodec)
	if err != nil {
		return nvenc.Config{}, err
	}
	color, err := types.ParseColorFormat(o.EncoderColorFormat)
	if err != nil {
		return nvenc.Config{}, err
	}
	quality, err := nvenc.PresetQuality(nvenc.Preset(o.EncoderPreset))
	if err != nil {
		return nvenc.Config{}, err
	}

	if o.EncoderBitrate > 0 {
		quality.TargetBitrateKbps = o.EncoderBitrate
		if quality.MaxBitrateKbps < quality.TargetBitrateKbps {
			quality.MaxBitrateKbps = quality.TargetBitrateKbps * 3 / 2
		}
	}
	if o.EncoderMaxBitrate > 0 {
		quality.MaxBitrateKbps = o.EncoderMaxBitrate
	}
	if o.EncoderGOP > 0 {
		quality.GOPLength = o.EncoderGOP
	}
	if o.EncoderBFrames >= 0 {
		quality.BFrames = o.EncoderBFrames
	}
	if o.EncoderCBR {
		quality.Mode = types.RateControlCBR
	}
	if o.EncoderLowLatency {
		quality.LowLatency = true
	}

	return nvenc.Config{
		Resolution:  types.Resolution{Width: o.EncoderWidth, Height: o.EncoderHeight},
		Codec:       codec,
		ColorFormat: color,
		Quality:     quality,
	}, nil
}

// OutputFormat returns the configured output format. Unknown names are
// passed through so custom registrations can be selected.
func (o *Options) OutputFormat() encoder.OutputFormat {
	if f, err := encoder.ParseOutputFormat(o.EncoderFormat); err == nil {
		return f
	}
	return encoder.OutputFormat(o.EncoderFormat)
}

// FenceTimeout parses the pipeline fence timeout. Empty means the encoder default.
func (o *Options) FenceTimeout() (time.Duration, error) {
	if o.PipelineFenceTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(o.PipelineFenceTimeout)
	if err != nil {
		return 0, fmt.Errorf("fence timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("fence timeout %s is negative", d)
	}
	return d, nil
}

// StatsInterval returns how often running captures publish stats.
func (o *Options) StatsInterval() time.Duration {
	if o.EncoderStatsSeconds <= 0 {
		return time.Second
	}
	return time.Duration(o.EncoderStatsSeconds) * time.Second
}

// DriverLoader returns the loader for the configured backend. The library
// backend has no binder in this build, so acquiring it reports
// driver.ErrNoBinder once the library is found.
func (o *Options) DriverLoader() (driver.Loader, error) {
	switch o.DriverBackend {
	case BackendReference, "":
		return &reference.Loader{}, nil
	case BackendLibrary:
		return driver.NewLibraryLoader(o.DriverLibraryPath, nil), nil
	default:
		return nil, fmt.Errorf("unknown driver backend %q", o.DriverBackend)
	}
}

// FactoryOptions returns encoder factory settings for registry.
func (o *Options) FactoryOptions(registry *driver.Registry) (encoder.FactoryOptions, error) {
	timeout, err := o.FenceTimeout()
	if err != nil {
		return encoder.FactoryOptions{}, err
	}
	return encoder.FactoryOptions{
		Registry:      registry,
		QueueCapacity: o.PipelineQueueCapacity,
		FenceTimeout:  timeout,
	}, nil
}
