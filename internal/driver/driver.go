// Package driver abstracts the vendor hardware-encode API behind a function
// table and owns the process-wide, reference-counted lifetime of the loaded
// module.
//
// Sessions never load the vendor library themselves. They acquire a [Handle]
// from a [Registry]; the registry loads the module on the first reference and
// unloads it when the last reference is released:
//
//	reg := driver.NewRegistry(loader, logger)
//	h, err := reg.Acquire()
//	if err != nil {
//		return err // wraps ErrDriverUnavailable
//	}
//	defer h.Release()
//	dev, err := h.API().OpenSession(driver.Device{})
package driver

import (
	"errors"
	"fmt"

	"github.com/smazurov/gpuenc/internal/types"
)

var (
	// ErrDriverUnavailable is returned when the vendor module cannot be loaded.
	ErrDriverUnavailable = errors.New("encode driver unavailable")
	// ErrNoBinder is returned by a LibraryLoader that found the library but has no way to bind it.
	ErrNoBinder = errors.New("no API binder configured")
	// ErrLibraryNotFound is returned when no search path contains the vendor library.
	ErrLibraryNotFound = errors.New("encode library not found")
)

// Device identifies the graphics device a session binds to.
type Device struct {
	Index int
	Name  string
}

// Opaque hardware handles. The zero value is the null handle.
type (
	DeviceHandle   uintptr
	EncoderHandle  uintptr
	ResourceHandle uintptr
)

// EncoderParams are the creation parameters for a hardware encoder instance.
type EncoderParams struct {
	Codec       types.Codec
	ColorFormat types.ColorFormat
	Resolution  types.Resolution
	Quality     types.QualityParams
}

// ResourceDesc describes one input surface registered with the encoder.
type ResourceDesc struct {
	Resolution types.Resolution
	Format     types.ColorFormat
	Size       int
}

// Picture is a single encode submission.
type Picture struct {
	Resource      ResourceHandle
	TextureID     uint64 // Non-zero for GPU-resident input
	Data          []byte // Staged pixels for CPU input
	Timestamp     float64
	ForceKeyFrame bool
}

// Packet is one unit of compressed bitstream.
type Packet struct {
	Data      []byte
	Timestamp float64
	KeyFrame  bool
}

// Caps reports what the loaded driver and device can do.
type Caps struct {
	Codecs         []types.Codec
	ColorFormats   []types.ColorFormat
	MaxWidth       int
	MaxHeight      int
	MaxBitrateKbps int
	MaxBFrames     int
	MaxGOPLength   int
	MaxSessions    int
	DeviceName     string
	DriverVersion  string
}

// API is the vendor encode function table.
//
// Implementations must be safe for use by multiple sessions, each holding its
// own device and encoder handles. Calls on a single encoder handle are
// serialised by the caller.
type API interface {
	OpenSession(dev Device) (DeviceHandle, error)
	CloseSession(h DeviceHandle) error
	CreateEncoder(dev DeviceHandle, params EncoderParams) (EncoderHandle, error)
	DestroyEncoder(enc EncoderHandle) error
	RegisterResource(enc EncoderHandle, desc ResourceDesc) (ResourceHandle, error)
	UnregisterResource(enc EncoderHandle, res ResourceHandle) error
	// EncodePicture submits one picture. It may return no packets when the
	// encoder keeps the picture in its lookahead; those surface from Flush.
	EncodePicture(enc EncoderHandle, pic Picture) ([]Packet, error)
	// Flush returns one buffered packet per call; ok is false once drained.
	Flush(enc EncoderHandle) (pkt Packet, ok bool, err error)
	Caps() Caps
	Version() uint32
}

// Loader loads and unloads the vendor module.
type Loader interface {
	Load() (API, error)
	Unload(api API) error
	Name() string
}

// VersionString renders an API version packed as major<<4 | minor.
func VersionString(v uint32) string {
	return fmt.Sprintf("%d.%d", v>>4, v&0xf)
}
