package nvenc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/types"
)

// Packet is one unit of encoded bitstream.
type Packet = driver.Packet

const minInputResources = 2

var sessionSeq atomic.Uint64

// SessionOptions configures a new Session.
type SessionOptions struct {
	// Registry provides the shared driver reference (required).
	Registry *driver.Registry

	// Device is the graphics device the encoder binds to.
	Device driver.Device

	// Limits are checked before any driver call. Defaults to DefaultCapabilities.
	Limits *Capabilities

	// ID names the session in logs and events. Generated when empty.
	ID string

	// OnStateChange is called on state transitions (optional).
	OnStateChange StateChangeCallback

	// Logger for session operations. If nil, uses the "nvenc" module logger.
	Logger *slog.Logger
}

// Session owns one hardware encoder instance and the device session and input
// resources it was created with.
//
// Initialize, Shutdown and Flush are control operations and are expected to be
// serialised by the owner. Encode calls come from a single worker.
type Session struct {
	id       string
	registry *driver.Registry
	device   driver.Device
	limits   Capabilities
	onState  StateChangeCallback
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	cfg       Config
	caps      Capabilities
	handle    *driver.Handle
	api       driver.API
	dev       driver.DeviceHandle
	enc       driver.EncoderHandle
	resources []driver.ResourceHandle
	nextRes   int
}

// NewSession creates an uninitialized session.
func NewSession(opts SessionOptions) *Session {
	if opts.Registry == nil {
		panic("SessionOptions with Registry is required")
	}

	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("session-%d", sessionSeq.Add(1))
	}

	limits := DefaultCapabilities()
	if opts.Limits != nil {
		limits = *opts.Limits
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("nvenc")
	}

	return &Session{
		id:       id,
		registry: opts.Registry,
		device:   opts.Device,
		limits:   limits,
		onState:  opts.OnStateChange,
		logger:   logger.With("session", id),
		state:    StateUninitialized,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsInitialized reports whether the session is Ready.
func (s *Session) IsInitialized() bool {
	return s.State() == StateReady
}

// Config returns the active configuration. Only meaningful while Ready.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Capabilities returns the live driver capabilities while Ready, otherwise the static limits.
func (s *Session) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		return s.caps
	}
	return s.limits
}

// IsConfigurationSupported checks a configuration against the session's static limits.
func (s *Session) IsConfigurationSupported(codec types.Codec, cf types.ColorFormat, res types.Resolution) bool {
	return s.limits.IsConfigurationSupported(codec, cf, res)
}

func (s *Session) setState(state State) {
	old := s.state
	if old == state {
		return
	}
	s.state = state
	s.logger.Debug("Session state changed", "from", old, "to", state)
	if s.onState != nil {
		s.onState(s.id, old, state)
	}
}

// Initialize acquires the driver reference, opens the device session, creates
// the encoder and registers its input resources, in that order. Any failure
// releases everything acquired so far and leaves the session Uninitialized.
func (s *Session) Initialize(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized, StateClosed:
	default:
		return NewSessionError(ErrCodeAlreadyInitialized, fmt.Sprintf("session is %s", s.state), nil)
	}

	if !s.limits.IsConfigurationSupported(cfg.Codec, cfg.ColorFormat, cfg.Resolution) {
		return NewSessionError(ErrCodeUnsupportedConfiguration,
			fmt.Sprintf("%s %s at %s not supported", cfg.Codec, cfg.ColorFormat, cfg.Resolution), nil)
	}
	normalized, err := cfg.Normalize(s.limits, s.logger)
	if err != nil {
		return err
	}

	s.setState(StateInitializing)
	normalized, err = s.acquireLocked(normalized)
	if err != nil {
		s.releaseLocked()
		s.setState(StateUninitialized)
		s.logger.Warn("Session initialization failed", "error", err)
		return err
	}

	s.cfg = normalized
	s.nextRes = 0
	s.setState(StateReady)
	s.logger.Info("Encoder session ready", "config", normalized.String(), "resources", len(s.resources))
	return nil
}

// acquireLocked returns cfg normalized against the capabilities the device
// actually reports.
func (s *Session) acquireLocked(cfg Config) (Config, error) {
	h, err := s.registry.Acquire()
	if err != nil {
		return cfg, NewSessionError(ErrCodeDriverUnavailable, "failed to acquire encode driver", err)
	}
	s.handle = h
	s.api = h.API()

	s.caps = CapabilitiesFromDriver(s.api.Caps(), s.api.Version())
	if !s.caps.IsConfigurationSupported(cfg.Codec, cfg.ColorFormat, cfg.Resolution) {
		return cfg, NewSessionError(ErrCodeUnsupportedConfiguration,
			fmt.Sprintf("device %q cannot encode %s %s at %s", s.caps.DeviceName, cfg.Codec, cfg.ColorFormat, cfg.Resolution), nil)
	}
	cfg, err = cfg.Normalize(s.caps, s.logger)
	if err != nil {
		return cfg, err
	}

	dev, err := s.api.OpenSession(s.device)
	if err != nil {
		return cfg, NewSessionError(ErrCodeDeviceCreationFailed, "failed to open device session", err)
	}
	s.dev = dev

	enc, err := s.api.CreateEncoder(dev, driver.EncoderParams{
		Codec:       cfg.Codec,
		ColorFormat: cfg.ColorFormat,
		Resolution:  cfg.Resolution,
		Quality:     cfg.Quality,
	})
	if err != nil {
		return cfg, NewSessionError(ErrCodeEncoderCreationFailed, "failed to create encoder", err)
	}
	s.enc = enc

	count := max(minInputResources, cfg.Quality.BFrames+1)
	desc := driver.ResourceDesc{
		Resolution: cfg.Resolution,
		Format:     cfg.ColorFormat,
		Size:       cfg.ColorFormat.FrameSize(cfg.Resolution),
	}
	for i := range count {
		res, err := s.api.RegisterResource(enc, desc)
		if err != nil {
			return cfg, NewSessionError(ErrCodeResourceAllocationFailed,
				fmt.Sprintf("failed to register input resource %d of %d", i+1, count), err)
		}
		s.resources = append(s.resources, res)
	}
	return cfg, nil
}

// releaseLocked frees whatever is held, in reverse acquisition order.
func (s *Session) releaseLocked() {
	if s.api != nil {
		for i := len(s.resources) - 1; i >= 0; i-- {
			if err := s.api.UnregisterResource(s.enc, s.resources[i]); err != nil {
				s.logger.Warn("Failed to unregister input resource", "error", err)
			}
		}
		if s.enc != 0 {
			if err := s.api.DestroyEncoder(s.enc); err != nil {
				s.logger.Warn("Failed to destroy encoder", "error", err)
			}
		}
		if s.dev != 0 {
			if err := s.api.CloseSession(s.dev); err != nil {
				s.logger.Warn("Failed to close device session", "error", err)
			}
		}
	}
	s.resources = nil
	s.enc = 0
	s.dev = 0
	s.api = nil

	if s.handle != nil {
		s.handle.Release()
		s.handle = nil
	}
}

// Shutdown releases all hardware resources. It is a no-op on sessions that
// are not Ready, so repeated calls are safe.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return
	}

	s.setState(StateShuttingDown)
	s.releaseLocked()
	s.setState(StateClosed)
	s.logger.Info("Encoder session closed")
}

// AcceptsPixelFormat reports whether EncodeBuffer accepts pf.
func AcceptsPixelFormat(pf types.PixelFormat) bool {
	return pf == types.PixelBGRA8 || pf == types.PixelFloatRGBA
}

// EncodeTexture submits one GPU-resident frame. An empty result means the
// picture is held in the encoder's lookahead and will surface later.
func (s *Session) EncodeTexture(tex frame.Texture, timestamp float64, keyFrame bool) ([]Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, NewSessionError(ErrCodeNotInitialized, fmt.Sprintf("session is %s", s.state), nil)
	}
	if tex == nil {
		return nil, NewSessionError(ErrCodeInvalidFrame, "render target has no texture", nil)
	}
	if tex.Resolution() != s.cfg.Resolution {
		return nil, NewSessionError(ErrCodeInvalidFrame,
			fmt.Sprintf("texture is %s, session is %s", tex.Resolution(), s.cfg.Resolution), nil)
	}

	return s.encodeLocked(driver.Picture{
		TextureID:     tex.ID(),
		Timestamp:     timestamp,
		ForceKeyFrame: keyFrame,
	})
}

// EncodeBuffer submits one CPU frame. Only BGRA8 and FloatRGBA buffers are accepted.
func (s *Session) EncodeBuffer(buf []byte, res types.Resolution, pf types.PixelFormat, timestamp float64, keyFrame bool) ([]Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, NewSessionError(ErrCodeNotInitialized, fmt.Sprintf("session is %s", s.state), nil)
	}
	if !AcceptsPixelFormat(pf) {
		return nil, NewSessionError(ErrCodeUnsupportedPixelFormat, fmt.Sprintf("pixel format %q", pf), nil)
	}
	if res != s.cfg.Resolution {
		return nil, NewSessionError(ErrCodeInvalidFrame,
			fmt.Sprintf("buffer is %s, session is %s", res, s.cfg.Resolution), nil)
	}
	if want := pf.BufferSize(res); len(buf) != want {
		return nil, NewSessionError(ErrCodeInvalidFrame,
			fmt.Sprintf("buffer is %d bytes, want %d", len(buf), want), nil)
	}

	return s.encodeLocked(driver.Picture{
		Data:          buf,
		Timestamp:     timestamp,
		ForceKeyFrame: keyFrame,
	})
}

func (s *Session) encodeLocked(pic driver.Picture) ([]Packet, error) {
	pic.Resource = s.resources[s.nextRes]
	s.nextRes = (s.nextRes + 1) % len(s.resources)

	pkts, err := s.api.EncodePicture(s.enc, pic)
	if err != nil {
		return nil, NewSessionError(ErrCodeEncodeFailed, fmt.Sprintf("encode at %.3fs", pic.Timestamp), err)
	}
	return pkts, nil
}

// Flush drains one packet buffered inside the encoder. ok is false once
// nothing is left.
func (s *Session) Flush() (pkt Packet, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return Packet{}, false, NewSessionError(ErrCodeNotInitialized, fmt.Sprintf("session is %s", s.state), nil)
	}
	pkt, ok, err = s.api.Flush(s.enc)
	if err != nil {
		return Packet{}, false, NewSessionError(ErrCodeFlushFailed, "flush failed", err)
	}
	return pkt, ok, nil
}
