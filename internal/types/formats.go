package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Codec identifies a compressed video bitstream format.
type Codec string

// Supported codecs.
const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
	CodecAV1  Codec = "av1"
)

// ParseCodec converts a user-supplied codec name to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "avc":
		return CodecH264, nil
	case "hevc", "h265":
		return CodecHEVC, nil
	case "av1":
		return CodecAV1, nil
	default:
		return "", fmt.Errorf("unknown codec %q", s)
	}
}

// ColorFormat is the pixel layout fed to the hardware encoder.
type ColorFormat string

// Encoder input color formats.
const (
	ColorNV12 ColorFormat = "nv12"
	ColorP010 ColorFormat = "p010"
	ColorBGRA ColorFormat = "bgra"
)

// ParseColorFormat converts a user-supplied color format name to a ColorFormat.
func ParseColorFormat(s string) (ColorFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nv12":
		return ColorNV12, nil
	case "p010":
		return ColorP010, nil
	case "bgra", "bgra8":
		return ColorBGRA, nil
	default:
		return "", fmt.Errorf("unknown color format %q", s)
	}
}

// FrameSize returns the byte size of one frame of the given resolution in this color format.
func (c ColorFormat) FrameSize(r Resolution) int {
	px := r.Width * r.Height
	switch c {
	case ColorNV12:
		return px * 3 / 2
	case ColorP010:
		return px * 3
	case ColorBGRA:
		return px * 4
	default:
		return 0
	}
}

// PixelFormat is the layout of a CPU-side frame buffer handed in by the producer.
type PixelFormat string

// CPU buffer pixel formats. Only BGRA8 and FloatRGBA are accepted by the encode path.
const (
	PixelBGRA8       PixelFormat = "bgra8"
	PixelFloatRGBA   PixelFormat = "rgba16f"
	PixelA2B10G10R10 PixelFormat = "a2b10g10r10"
	PixelUnknown     PixelFormat = ""
)

// BytesPerPixel returns the storage size of a single pixel, or 0 for unknown formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelBGRA8, PixelA2B10G10R10:
		return 4
	case PixelFloatRGBA:
		return 8
	default:
		return 0
	}
}

// BufferSize returns the expected byte length of a tightly packed buffer.
func (p PixelFormat) BufferSize(r Resolution) int {
	return p.BytesPerPixel() * r.Width * r.Height
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width" toml:"width"`
	Height int `json:"height" toml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// IsZero reports whether either dimension is unset.
func (r Resolution) IsZero() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ParseResolution parses "1920x1080" style strings.
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid resolution %q, expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	return Resolution{Width: width, Height: height}, nil
}
