package nvenc

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/smazurov/gpuenc/internal/types"
)

// Config is the immutable configuration of one encoder session.
// Changing resolution or codec requires a new session.
type Config struct {
	Resolution  types.Resolution    `toml:"resolution" json:"resolution"`
	Codec       types.Codec         `toml:"codec" json:"codec"`
	ColorFormat types.ColorFormat   `toml:"color_format" json:"color_format"`
	Quality     types.QualityParams `toml:"quality" json:"quality"`
}

func (c Config) String() string {
	return fmt.Sprintf("%s %s %s %dkbps gop=%d bframes=%d",
		c.Codec, c.Resolution, c.ColorFormat, c.Quality.TargetBitrateKbps, c.Quality.GOPLength, c.Quality.BFrames)
}

// Preset names a quality level.
type Preset string

// Quality presets
const (
	PresetLow      Preset = "low"
	PresetBalanced Preset = "balanced"
	PresetHigh     Preset = "high"
	PresetUltra    Preset = "ultra"
	PresetLossless Preset = "lossless"
)

// Presets lists every preset in ascending quality.
var Presets = []Preset{PresetLow, PresetBalanced, PresetHigh, PresetUltra, PresetLossless}

// PresetQuality returns the quality parameters for a preset.
func PresetQuality(p Preset) (types.QualityParams, error) {
	q := types.QualityParams{Mode: types.RateControlVBR}
	switch Preset(strings.ToLower(string(p))) {
	case PresetLow:
		q.TargetBitrateKbps, q.MaxBitrateKbps, q.GOPLength, q.BFrames = 5000, 7500, 60, 0
		q.LowLatency = true
	case PresetBalanced, "":
		q.TargetBitrateKbps, q.MaxBitrateKbps, q.GOPLength, q.BFrames = 10000, 15000, 30, 2
	case PresetHigh:
		q.TargetBitrateKbps, q.MaxBitrateKbps, q.GOPLength, q.BFrames = 15000, 25000, 15, 3
	case PresetUltra:
		q.TargetBitrateKbps, q.MaxBitrateKbps, q.GOPLength, q.BFrames = 25000, 40000, 10, 4
	case PresetLossless:
		q.TargetBitrateKbps, q.MaxBitrateKbps, q.GOPLength, q.BFrames = 50000, 100000, 1, 0
	default:
		return types.QualityParams{}, fmt.Errorf("unknown quality preset %q", p)
	}
	return q, nil
}

// DefaultConfig returns 1080p H.264 NV12 at the balanced preset.
func DefaultConfig() Config {
	q, _ := PresetQuality(PresetBalanced)
	return Config{
		Resolution:  types.Resolution{Width: 1920, Height: 1080},
		Codec:       types.CodecH264,
		ColorFormat: types.ColorNV12,
		Quality:     q,
	}
}

// Normalize validates quality parameters against caps. A target bitrate
// above the maximum is clamped and logged; other violations are rejected.
func (c Config) Normalize(caps Capabilities, logger *slog.Logger) (Config, error) {
	q := c.Quality

	if q.Mode == "" {
		q.Mode = types.RateControlVBR
	}
	if _, err := types.ParseRateControl(string(q.Mode)); err != nil {
		return c, NewSessionError(ErrCodeUnsupportedConfiguration, "invalid rate control", err)
	}
	if q.GOPLength < 1 {
		return c, NewSessionError(ErrCodeUnsupportedConfiguration,
			fmt.Sprintf("GOP length %d must be at least 1", q.GOPLength), nil)
	}
	if caps.MaxGOPLength > 0 && q.GOPLength > caps.MaxGOPLength {
		return c, NewSessionError(ErrCodeUnsupportedConfiguration,
			fmt.Sprintf("GOP length %d exceeds maximum %d", q.GOPLength, caps.MaxGOPLength), nil)
	}
	if q.BFrames < 0 || q.BFrames > caps.MaxBFrames {
		return c, NewSessionError(ErrCodeUnsupportedConfiguration,
			fmt.Sprintf("B-frame count %d outside 0..%d", q.BFrames, caps.MaxBFrames), nil)
	}
	if q.TargetBitrateKbps <= 0 {
		return c, NewSessionError(ErrCodeUnsupportedConfiguration,
			fmt.Sprintf("target bitrate %d must be positive", q.TargetBitrateKbps), nil)
	}
	if q.MaxBitrateKbps <= 0 {
		q.MaxBitrateKbps = q.TargetBitrateKbps
	}
	if caps.MaxBitrateKbps > 0 && q.MaxBitrateKbps > caps.MaxBitrateKbps {
		logger.Warn("Max bitrate above hardware limit, clamping",
			"max_bitrate_kbps", q.MaxBitrateKbps, "limit_kbps", caps.MaxBitrateKbps)
		q.MaxBitrateKbps = caps.MaxBitrateKbps
	}
	if q.TargetBitrateKbps > q.MaxBitrateKbps {
		logger.Warn("Target bitrate above max bitrate, clamping",
			"target_bitrate_kbps", q.TargetBitrateKbps, "max_bitrate_kbps", q.MaxBitrateKbps)
		q.TargetBitrateKbps = q.MaxBitrateKbps
	}

	c.Quality = q
	return c, nil
}

// AdjustForCapabilities rewrites cfg into the closest configuration caps can
// encode: codec falls back to H.264, color format to NV12 then BGRA, and the
// GOP and B-frame settings are clamped. It reports whether anything changed.
func AdjustForCapabilities(cfg Config, caps Capabilities) (Config, bool) {
	adjusted := false

	if !caps.SupportsCodec(cfg.Codec) && caps.SupportsCodec(types.CodecH264) {
		cfg.Codec = types.CodecH264
		adjusted = true
	}
	if !caps.SupportsColorFormat(cfg.ColorFormat) {
		for _, fallback := range []types.ColorFormat{types.ColorNV12, types.ColorBGRA} {
			if caps.SupportsColorFormat(fallback) {
				cfg.ColorFormat = fallback
				adjusted = true
				break
			}
		}
	}
	if cfg.Quality.BFrames > caps.MaxBFrames {
		cfg.Quality.BFrames = caps.MaxBFrames
		adjusted = true
	}
	if caps.MaxGOPLength > 0 && cfg.Quality.GOPLength > caps.MaxGOPLength {
		cfg.Quality.GOPLength = caps.MaxGOPLength
		adjusted = true
	}
	return cfg, adjusted
}

// RecommendedConfig picks the best codec and color format caps offers at the balanced preset.
func RecommendedConfig(caps Capabilities) Config {
	cfg := DefaultConfig()

	if caps.SupportsCodec(types.CodecHEVC) {
		cfg.Codec = types.CodecHEVC
	}
	for _, cf := range []types.ColorFormat{types.ColorP010, types.ColorNV12, types.ColorBGRA} {
		if caps.SupportsColorFormat(cf) {
			cfg.ColorFormat = cf
			break
		}
	}
	if cfg.Quality.BFrames > caps.MaxBFrames {
		cfg.Quality.BFrames = caps.MaxBFrames
	}
	return cfg
}
