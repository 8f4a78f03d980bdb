package nvenc

import (
	"slices"

	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/types"
)

// MaxDimension is the reference hardware resolution limit.
const MaxDimension = 8192

// Capabilities describes what an encoder device supports.
type Capabilities struct {
	Supported      bool                `json:"supported" toml:"supported"`
	Codecs         []types.Codec       `json:"codecs" toml:"codecs"`
	ColorFormats   []types.ColorFormat `json:"color_formats" toml:"color_formats"`
	MaxWidth       int                 `json:"max_width" toml:"max_width"`
	MaxHeight      int                 `json:"max_height" toml:"max_height"`
	MaxBitrateKbps int                 `json:"max_bitrate_kbps" toml:"max_bitrate_kbps"`
	MaxBFrames     int                 `json:"max_b_frames" toml:"max_b_frames"`
	MaxGOPLength   int                 `json:"max_gop_length" toml:"max_gop_length"`
	MaxSessions    int                 `json:"max_sessions" toml:"max_sessions"`
	DeviceName     string              `json:"device_name" toml:"device_name"`
	DriverVersion  string              `json:"driver_version" toml:"driver_version"`
	APIVersion     string              `json:"api_version" toml:"api_version"`
}

// DefaultCapabilities returns the limits of the reference hardware class.
// Sessions check configurations against these before touching the driver.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Supported:      true,
		Codecs:         []types.Codec{types.CodecH264, types.CodecHEVC, types.CodecAV1},
		ColorFormats:   []types.ColorFormat{types.ColorNV12, types.ColorP010, types.ColorBGRA},
		MaxWidth:       MaxDimension,
		MaxHeight:      MaxDimension,
		MaxBitrateKbps: 1_000_000,
		MaxBFrames:     4,
		MaxGOPLength:   1000,
	}
}

// CapabilitiesFromDriver converts driver caps into Capabilities.
func CapabilitiesFromDriver(c driver.Caps, apiVersion uint32) Capabilities {
	return Capabilities{
		Supported:      len(c.Codecs) > 0,
		Codecs:         slices.Clone(c.Codecs),
		ColorFormats:   slices.Clone(c.ColorFormats),
		MaxWidth:       c.MaxWidth,
		MaxHeight:      c.MaxHeight,
		MaxBitrateKbps: c.MaxBitrateKbps,
		MaxBFrames:     c.MaxBFrames,
		MaxGOPLength:   c.MaxGOPLength,
		MaxSessions:    c.MaxSessions,
		DeviceName:     c.DeviceName,
		DriverVersion:  c.DriverVersion,
		APIVersion:     driver.VersionString(apiVersion),
	}
}

// GetCapabilities queries the driver independently of any session. The
// reference taken for the query is released before returning. An unavailable
// driver yields Capabilities with Supported set to false.
func GetCapabilities(reg *driver.Registry) Capabilities {
	h, err := reg.Acquire()
	if err != nil {
		return Capabilities{}
	}
	defer h.Release()

	api := h.API()
	return CapabilitiesFromDriver(api.Caps(), api.Version())
}

// SupportsCodec reports whether codec is in the supported set.
func (c Capabilities) SupportsCodec(codec types.Codec) bool {
	return slices.Contains(c.Codecs, codec)
}

// SupportsColorFormat reports whether cf is in the supported set.
func (c Capabilities) SupportsColorFormat(cf types.ColorFormat) bool {
	return slices.Contains(c.ColorFormats, cf)
}

// IsConfigurationSupported is a pure check of codec, color format and a
// resolution in [1,1]..[MaxWidth,MaxHeight].
func (c Capabilities) IsConfigurationSupported(codec types.Codec, cf types.ColorFormat, res types.Resolution) bool {
	if res.Width < 1 || res.Height < 1 {
		return false
	}
	if res.Width > c.MaxWidth || res.Height > c.MaxHeight {
		return false
	}
	return c.SupportsCodec(codec) && c.SupportsColorFormat(cf)
}
