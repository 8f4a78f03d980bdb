// Package frame describes one pending frame on its way to the encoder.
package frame

import (
	"sync/atomic"

	"github.com/smazurov/gpuenc/internal/types"
)

// Texture is a GPU-resident image.
type Texture interface {
	ID() uint64
	Resolution() types.Resolution
	Format() types.PixelFormat
}

// RenderTarget is a renderer-owned surface backed by a texture.
// Texture may return nil when the target has no resource yet.
type RenderTarget interface {
	Texture() Texture
}

// Context is a tagged union of a GPU frame (render target + fence) or a CPU
// frame (owned pixel buffer), plus the timing metadata common to both.
type Context struct {
	Timestamp float64
	KeyFrame  bool

	// GPU variant
	Target RenderTarget
	Fence  Fence

	// CPU variant
	Buffer     []byte
	Resolution types.Resolution
	Format     types.PixelFormat

	cpu bool
}

// NewGPU creates a GPU frame. A nil fence is treated as already signaled.
func NewGPU(target RenderTarget, fence Fence, timestamp float64, keyFrame bool) *Context {
	if fence == nil {
		fence = SignaledFence{}
	}
	return &Context{
		Timestamp: timestamp,
		KeyFrame:  keyFrame,
		Target:    target,
		Fence:     fence,
	}
}

// NewCPU creates a CPU frame holding its own copy of buf.
func NewCPU(buf []byte, res types.Resolution, format types.PixelFormat, timestamp float64, keyFrame bool) *Context {
	owned := make([]byte, len(buf))
	copy(owned, buf)
	return &Context{
		Timestamp:  timestamp,
		KeyFrame:   keyFrame,
		Buffer:     owned,
		Resolution: res,
		Format:     format,
		cpu:        true,
	}
}

// IsCPU reports whether this is the CPU variant.
func (c *Context) IsCPU() bool {
	return c.cpu
}

var nextTextureID atomic.Uint64

// StaticTexture is a plain Texture value, used by synthetic sources.
type StaticTexture struct {
	id     uint64
	res    types.Resolution
	format types.PixelFormat
}

// NewStaticTexture allocates a texture with a process-unique ID.
func NewStaticTexture(res types.Resolution, format types.PixelFormat) *StaticTexture {
	return &StaticTexture{id: nextTextureID.Add(1), res: res, format: format}
}

func (t *StaticTexture) ID() uint64                   { return t.id }
func (t *StaticTexture) Resolution() types.Resolution { return t.res }
func (t *StaticTexture) Format() types.PixelFormat    { return t.format }

// TextureTarget is a RenderTarget wrapping a single texture.
type TextureTarget struct {
	Tex Texture
}

// Texture implements RenderTarget.
func (t TextureTarget) Texture() Texture {
	return t.Tex
}
