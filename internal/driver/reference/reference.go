// Package reference implements driver.API in software. It follows the same
// handle, lookahead and error contracts as a hardware encoder so the session
// and pipeline code can run on machines without an encoder GPU.
package reference

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/types"
)

// APIVersion is the function table version reported by the reference driver.
const APIVersion uint32 = 12<<4 | 2

var (
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrClosed          = errors.New("driver closed")
	ErrTooManySessions = errors.New("too many sessions")
)

// Faults injects failures into individual API calls.
type Faults struct {
	OpenSession   error
	CreateEncoder error
	// RegisterResource fails once RegisterAfter resources have succeeded.
	RegisterResource error
	RegisterAfter    int
	Encode           error
	Flush            error
}

// Counts reports live handles.
type Counts struct {
	Devices   int
	Encoders  int
	Resources int
}

// Total returns the sum of all live handles.
func (c Counts) Total() int {
	return c.Devices + c.Encoders + c.Resources
}

type encoderState struct {
	device    driver.DeviceHandle
	params    driver.EncoderParams
	frames    int64
	pending   []driver.Packet
	resources map[driver.ResourceHandle]driver.ResourceDesc
}

// API is the software encode driver.
type API struct {
	mu          sync.Mutex
	caps        driver.Caps
	faults      Faults
	encodeDelay time.Duration
	next        uintptr
	devices     map[driver.DeviceHandle]driver.Device
	encoders    map[driver.EncoderHandle]*encoderState
	registered  int
	closed      bool
}

// Option configures an API.
type Option func(*API)

// WithCaps overrides the reported capabilities.
func WithCaps(caps driver.Caps) Option {
	return func(a *API) {
		a.caps = caps
	}
}

// WithFaults installs fault injection from the start.
func WithFaults(f Faults) Option {
	return func(a *API) {
		a.faults = f
	}
}

// WithEncodeDelay makes every EncodePicture call take at least d.
func WithEncodeDelay(d time.Duration) Option {
	return func(a *API) {
		a.encodeDelay = d
	}
}

// DefaultCaps returns the capabilities of the reference device.
func DefaultCaps() driver.Caps {
	return driver.Caps{
		Codecs:         []types.Codec{types.CodecH264, types.CodecHEVC, types.CodecAV1},
		ColorFormats:   []types.ColorFormat{types.ColorNV12, types.ColorP010, types.ColorBGRA},
		MaxWidth:       8192,
		MaxHeight:      8192,
		MaxBitrateKbps: 1_000_000,
		MaxBFrames:     4,
		MaxGOPLength:   1000,
		MaxSessions:    8,
		DeviceName:     "Reference Encoder",
		DriverVersion:  "reference-" + driver.VersionString(APIVersion),
	}
}

// New creates a reference driver.
func New(opts ...Option) *API {
	a := &API{
		caps:     DefaultCaps(),
		devices:  make(map[driver.DeviceHandle]driver.Device),
		encoders: make(map[driver.EncoderHandle]*encoderState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetFaults replaces the fault injection settings.
func (a *API) SetFaults(f Faults) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults = f
}

// Live returns the number of open handles.
func (a *API) Live() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := Counts{Devices: len(a.devices), Encoders: len(a.encoders)}
	for _, enc := range a.encoders {
		c.Resources += len(enc.resources)
	}
	return c
}

func (a *API) handle() uintptr {
	a.next++
	return a.next
}

// OpenSession implements driver.API.
func (a *API) OpenSession(dev driver.Device) (driver.DeviceHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, ErrClosed
	}
	if a.faults.OpenSession != nil {
		return 0, a.faults.OpenSession
	}
	if a.caps.MaxSessions > 0 && len(a.devices) >= a.caps.MaxSessions {
		return 0, fmt.Errorf("%w: limit %d", ErrTooManySessions, a.caps.MaxSessions)
	}
	h := driver.DeviceHandle(a.handle())
	a.devices[h] = dev
	return h, nil
}

// CloseSession implements driver.API.
func (a *API) CloseSession(h driver.DeviceHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.devices[h]; !ok {
		return fmt.Errorf("close session %d: %w", h, ErrInvalidHandle)
	}
	for _, enc := range a.encoders {
		if enc.device == h {
			return fmt.Errorf("close session %d: encoder still open", h)
		}
	}
	delete(a.devices, h)
	return nil
}

// CreateEncoder implements driver.API.
func (a *API) CreateEncoder(dev driver.DeviceHandle, params driver.EncoderParams) (driver.EncoderHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.devices[dev]; !ok {
		return 0, fmt.Errorf("create encoder: %w", ErrInvalidHandle)
	}
	if a.faults.CreateEncoder != nil {
		return 0, a.faults.CreateEncoder
	}
	if !slices.Contains(a.caps.Codecs, params.Codec) {
		return 0, fmt.Errorf("codec %s not supported", params.Codec)
	}
	h := driver.EncoderHandle(a.handle())
	a.encoders[h] = &encoderState{
		device:    dev,
		params:    params,
		resources: make(map[driver.ResourceHandle]driver.ResourceDesc),
	}
	a.registered = 0
	return h, nil
}

// DestroyEncoder implements driver.API. Pending lookahead output is discarded.
func (a *API) DestroyEncoder(enc driver.EncoderHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.encoders[enc]
	if !ok {
		return fmt.Errorf("destroy encoder %d: %w", enc, ErrInvalidHandle)
	}
	if len(state.resources) > 0 {
		return fmt.Errorf("destroy encoder %d: %d resources still registered", enc, len(state.resources))
	}
	delete(a.encoders, enc)
	return nil
}

// RegisterResource implements driver.API.
func (a *API) RegisterResource(enc driver.EncoderHandle, desc driver.ResourceDesc) (driver.ResourceHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.encoders[enc]
	if !ok {
		return 0, fmt.Errorf("register resource: %w", ErrInvalidHandle)
	}
	if a.faults.RegisterResource != nil && a.registered >= a.faults.RegisterAfter {
		return 0, a.faults.RegisterResource
	}
	if desc.Size <= 0 {
		return 0, fmt.Errorf("register resource: invalid size %d", desc.Size)
	}
	h := driver.ResourceHandle(a.handle())
	state.resources[h] = desc
	a.registered++
	return h, nil
}

// UnregisterResource implements driver.API.
func (a *API) UnregisterResource(enc driver.EncoderHandle, res driver.ResourceHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.encoders[enc]
	if !ok {
		return fmt.Errorf("unregister resource: %w", ErrInvalidHandle)
	}
	if _, ok := state.resources[res]; !ok {
		return fmt.Errorf("unregister resource %d: %w", res, ErrInvalidHandle)
	}
	delete(state.resources, res)
	return nil
}

// EncodePicture implements driver.API. Pictures are held back by the
// configured B-frame count before their packets are returned.
func (a *API) EncodePicture(enc driver.EncoderHandle, pic driver.Picture) ([]driver.Packet, error) {
	if a.encodeDelay > 0 {
		time.Sleep(a.encodeDelay)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.encoders[enc]
	if !ok {
		return nil, fmt.Errorf("encode: %w", ErrInvalidHandle)
	}
	if a.faults.Encode != nil {
		return nil, a.faults.Encode
	}
	if pic.Resource != 0 {
		if _, ok := state.resources[pic.Resource]; !ok {
			return nil, fmt.Errorf("encode: resource %d: %w", pic.Resource, ErrInvalidHandle)
		}
	}

	gop := int64(max(state.params.Quality.GOPLength, 1))
	key := pic.ForceKeyFrame || state.frames%gop == 0
	pkt := driver.Packet{
		Data:      buildPayload(state.params.Codec, key, state.frames, pic),
		Timestamp: pic.Timestamp,
		KeyFrame:  key,
	}
	state.frames++
	state.pending = append(state.pending, pkt)

	depth := state.params.Quality.BFrames
	var out []driver.Packet
	for len(state.pending) > depth {
		out = append(out, state.pending[0])
		state.pending = state.pending[1:]
	}
	return out, nil
}

// Flush implements driver.API.
func (a *API) Flush(enc driver.EncoderHandle) (driver.Packet, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.encoders[enc]
	if !ok {
		return driver.Packet{}, false, fmt.Errorf("flush: %w", ErrInvalidHandle)
	}
	if a.faults.Flush != nil {
		return driver.Packet{}, false, a.faults.Flush
	}
	if len(state.pending) == 0 {
		return driver.Packet{}, false, nil
	}
	pkt := state.pending[0]
	state.pending = state.pending[1:]
	return pkt, true, nil
}

// Caps implements driver.API.
func (a *API) Caps() driver.Caps {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps
}

// Version implements driver.API.
func (a *API) Version() uint32 {
	return APIVersion
}

// Close marks the driver unloaded. It reports handles that were never released.
func (a *API) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	if live := a.Live(); live.Total() > 0 {
		return fmt.Errorf("driver closed with %d devices, %d encoders, %d resources open",
			live.Devices, live.Encoders, live.Resources)
	}
	return nil
}

// buildPayload produces an Annex-B (or OBU for AV1) shaped access unit whose
// body identifies the frame: pts, frame number and a CRC of the input.
func buildPayload(codec types.Codec, key bool, frameNum int64, pic driver.Picture) []byte {
	var header []byte
	switch codec {
	case types.CodecHEVC:
		if key {
			header = []byte{0, 0, 0, 1, 19 << 1, 1} // IDR_W_RADL
		} else {
			header = []byte{0, 0, 0, 1, 1 << 1, 1} // TRAIL_R
		}
	case types.CodecAV1:
		header = []byte{0x12, 0x00, 0x32} // temporal delimiter, frame OBU
	default:
		if key {
			header = []byte{0, 0, 0, 1, 0x65}
		} else {
			header = []byte{0, 0, 0, 1, 0x41}
		}
	}

	var sum uint32
	if pic.Data != nil {
		sum = crc32.ChecksumIEEE(pic.Data)
	} else {
		var id [8]byte
		binary.BigEndian.PutUint64(id[:], pic.TextureID)
		sum = crc32.ChecksumIEEE(id[:])
	}

	body := make([]byte, 0, len(header)+20)
	body = append(body, header...)
	body = binary.BigEndian.AppendUint64(body, math.Float64bits(pic.Timestamp))
	body = binary.BigEndian.AppendUint64(body, uint64(frameNum))
	body = binary.BigEndian.AppendUint32(body, sum)
	return body
}

// Loader creates a fresh reference driver on every load.
type Loader struct {
	Options []Option

	mu   sync.Mutex
	last *API
}

// Load implements driver.Loader.
func (l *Loader) Load() (driver.API, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = New(l.Options...)
	return l.last, nil
}

// Unload implements driver.Loader.
func (l *Loader) Unload(api driver.API) error {
	if a, ok := api.(*API); ok {
		return a.Close()
	}
	return nil
}

// Name implements driver.Loader.
func (l *Loader) Name() string {
	return "reference"
}

// Last returns the driver created by the most recent Load.
func (l *Loader) Last() *API {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
