package nvenc

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/driver/reference"
	"github.com/smazurov/gpuenc/internal/frame"
	"github.com/smazurov/gpuenc/internal/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	loader   *reference.Loader
	registry *driver.Registry
}

func newTestEnv(opts ...reference.Option) *testEnv {
	loader := &reference.Loader{Options: opts}
	return &testEnv{
		loader:   loader,
		registry: driver.NewRegistry(loader, newTestLogger()),
	}
}

func (e *testEnv) session() *Session {
	return NewSession(SessionOptions{Registry: e.registry, Logger: newTestLogger()})
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Resolution = types.Resolution{Width: 64, Height: 32}
	return cfg
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv()

	var mu sync.Mutex
	var transitions []State
	s := NewSession(SessionOptions{
		Registry: env.registry,
		Logger:   newTestLogger(),
		OnStateChange: func(_ string, _, newState State) {
			mu.Lock()
			transitions = append(transitions, newState)
			mu.Unlock()
		},
	})

	if s.State() != StateUninitialized {
		t.Fatalf("new session state = %s, want uninitialized", s.State())
	}

	if err := s.Initialize(smallConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !s.IsInitialized() {
		t.Fatal("expected session to be initialized")
	}
	if got := env.registry.RefCount(); got != 1 {
		t.Errorf("refcount = %d, want 1", got)
	}

	live := env.loader.Last().Live()
	if live.Devices != 1 || live.Encoders != 1 {
		t.Errorf("live handles = %+v, want 1 device and 1 encoder", live)
	}
	// balanced preset has 2 B-frames, so three input resources
	if live.Resources != 3 {
		t.Errorf("resources = %d, want 3", live.Resources)
	}

	api := env.loader.Last()
	s.Shutdown()

	if s.State() != StateClosed {
		t.Errorf("state after shutdown = %s, want closed", s.State())
	}
	if got := env.registry.RefCount(); got != 0 {
		t.Errorf("refcount after shutdown = %d, want 0", got)
	}
	if total := api.Live().Total(); total != 0 {
		t.Errorf("%d handles leaked", total)
	}

	want := []State{StateInitializing, StateReady, StateShuttingDown, StateClosed}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestSessionDoubleInitialize(t *testing.T) {
	env := newTestEnv()
	s := env.session()

	if err := s.Initialize(smallConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Shutdown()

	err := s.Initialize(smallConfig())
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize err = %v, want ALREADY_INITIALIZED", err)
	}
	if got := env.registry.RefCount(); got != 1 {
		t.Errorf("refcount = %d, want 1", got)
	}
}

func TestSessionShutdownIsIdempotent(t *testing.T) {
	env := newTestEnv()
	s := env.session()

	// Shutdown before Initialize does nothing
	s.Shutdown()
	if s.State() != StateUninitialized {
		t.Fatalf("state = %s, want uninitialized", s.State())
	}

	if err := s.Initialize(smallConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	s.Shutdown()
	s.Shutdown()

	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	if got := env.registry.RefCount(); got != 0 {
		t.Errorf("refcount = %d, want 0", got)
	}
}

func TestSessionReinitializeAfterShutdown(t *testing.T) {
	env := newTestEnv()
	s := env.session()

	for i := range 3 {
		if err := s.Initialize(smallConfig()); err != nil {
			t.Fatalf("Initialize %d failed: %v", i, err)
		}
		s.Shutdown()
		if got := env.registry.RefCount(); got != 0 {
			t.Fatalf("round %d: refcount = %d, want 0", i, got)
		}
	}
}

func TestSessionBoundaryResolutions(t *testing.T) {
	tests := []struct {
		name string
		res  types.Resolution
		ok   bool
	}{
		{"zero", types.Resolution{}, false},
		{"zero height", types.Resolution{Width: 1920}, false},
		{"too large", types.Resolution{Width: 9000, Height: 9000}, false},
		{"one pixel wide too large", types.Resolution{Width: MaxDimension + 1, Height: 1080}, false},
		{"minimum", types.Resolution{Width: 1, Height: 1}, true},
		{"maximum", types.Resolution{Width: MaxDimension, Height: MaxDimension}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			s := env.session()

			cfg := DefaultConfig()
			cfg.Resolution = tt.res
			err := s.Initialize(cfg)

			if tt.ok {
				if err != nil {
					t.Fatalf("Initialize failed: %v", err)
				}
				s.Shutdown()
				return
			}

			if !errors.Is(err, ErrUnsupportedConfiguration) {
				t.Fatalf("err = %v, want UNSUPPORTED_CONFIGURATION", err)
			}
			if env.loader.Last() != nil {
				t.Error("driver was loaded for a rejected configuration")
			}
			if got := env.registry.RefCount(); got != 0 {
				t.Errorf("refcount = %d, want 0", got)
			}
			if s.State() != StateUninitialized {
				t.Errorf("state = %s, want uninitialized", s.State())
			}
		})
	}
}

func TestSessionInitializeUnwindsOnFailure(t *testing.T) {
	injected := errors.New("injected")

	tests := []struct {
		name   string
		faults reference.Faults
		code   string
	}{
		{"open session", reference.Faults{OpenSession: injected}, ErrCodeDeviceCreationFailed},
		{"create encoder", reference.Faults{CreateEncoder: injected}, ErrCodeEncoderCreationFailed},
		{"first resource", reference.Faults{RegisterResource: injected}, ErrCodeResourceAllocationFailed},
		{"third resource", reference.Faults{RegisterResource: injected, RegisterAfter: 2}, ErrCodeResourceAllocationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(reference.WithFaults(tt.faults))
			s := env.session()

			err := s.Initialize(smallConfig())
			if err == nil {
				t.Fatal("expected Initialize to fail")
			}
			if got := CodeOf(err); got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
			if !errors.Is(err, injected) {
				t.Errorf("err %v does not wrap the driver error", err)
			}
			if s.State() != StateUninitialized {
				t.Errorf("state = %s, want uninitialized", s.State())
			}
			if got := env.registry.RefCount(); got != 0 {
				t.Errorf("refcount = %d, want 0", got)
			}
			if env.registry.Loaded() {
				t.Error("driver still loaded after failed initialize")
			}
			if total := env.loader.Last().Live().Total(); total != 0 {
				t.Errorf("%d handles leaked", total)
			}
		})
	}
}

type failingLoader struct{}

func (failingLoader) Load() (driver.API, error) { return nil, driver.ErrLibraryNotFound }
func (failingLoader) Unload(driver.API) error   { return nil }
func (failingLoader) Name() string              { return "failing" }

func TestSessionDriverUnavailable(t *testing.T) {
	reg := driver.NewRegistry(failingLoader{}, newTestLogger())
	s := NewSession(SessionOptions{Registry: reg, Logger: newTestLogger()})

	err := s.Initialize(smallConfig())
	if !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("err = %v, want DRIVER_UNAVAILABLE", err)
	}
	if !errors.Is(err, driver.ErrLibraryNotFound) {
		t.Errorf("err %v does not wrap the loader error", err)
	}
	if reg.RefCount() != 0 {
		t.Errorf("refcount = %d, want 0", reg.RefCount())
	}
}

func TestSessionRejectsCodecMissingFromDevice(t *testing.T) {
	caps := reference.DefaultCaps()
	caps.Codecs = []types.Codec{types.CodecH264}
	env := newTestEnv(reference.WithCaps(caps))
	s := env.session()

	cfg := smallConfig()
	cfg.Codec = types.CodecAV1
	err := s.Initialize(cfg)
	if !errors.Is(err, ErrUnsupportedConfiguration) {
		t.Fatalf("err = %v, want UNSUPPORTED_CONFIGURATION", err)
	}
	if env.registry.RefCount() != 0 {
		t.Errorf("refcount = %d, want 0", env.registry.RefCount())
	}
}

func TestSessionChecksQualityAgainstDevice(t *testing.T) {
	caps := reference.DefaultCaps()
	caps.MaxBFrames = 1
	caps.MaxBitrateKbps = 8000
	env := newTestEnv(reference.WithCaps(caps))

	cfg := smallConfig()
	cfg.Quality.BFrames = 2
	s := env.session()
	if err := s.Initialize(cfg); !errors.Is(err, ErrUnsupportedConfiguration) {
		t.Fatalf("err = %v, want UNSUPPORTED_CONFIGURATION for B-frames above the device limit", err)
	}
	if s.State() != StateUninitialized || env.registry.RefCount() != 0 {
		t.Fatalf("state=%s refcount=%d after rejected config", s.State(), env.registry.RefCount())
	}

	cfg.Quality.BFrames = 1
	cfg.Quality.TargetBitrateKbps = 10000
	cfg.Quality.MaxBitrateKbps = 15000
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Shutdown()

	q := s.Config().Quality
	if q.MaxBitrateKbps != 8000 || q.TargetBitrateKbps != 8000 {
		t.Errorf("bitrates = %d/%d, want both clamped to 8000", q.TargetBitrateKbps, q.MaxBitrateKbps)
	}
}

func TestBackToBackSessionsShareDriver(t *testing.T) {
	env := newTestEnv()
	a := env.session()
	b := env.session()

	if err := a.Initialize(smallConfig()); err != nil {
		t.Fatalf("Initialize a failed: %v", err)
	}
	first := env.loader.Last()
	if err := b.Initialize(smallConfig()); err != nil {
		t.Fatalf("Initialize b failed: %v", err)
	}
	if env.loader.Last() != first {
		t.Error("second session loaded the driver again")
	}
	if got := env.registry.RefCount(); got != 2 {
		t.Errorf("refcount = %d, want 2", got)
	}

	a.Shutdown()
	if !env.registry.Loaded() {
		t.Error("driver unloaded while a session still holds it")
	}
	b.Shutdown()
	if env.registry.Loaded() {
		t.Error("driver still loaded after last session closed")
	}
}

func TestSessionEncodeBeforeInitialize(t *testing.T) {
	env := newTestEnv()
	s := env.session()

	_, err := s.EncodeBuffer(nil, types.Resolution{}, types.PixelBGRA8, 0, false)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("EncodeBuffer err = %v, want NOT_INITIALIZED", err)
	}
	_, err = s.EncodeTexture(frame.NewStaticTexture(types.Resolution{Width: 1, Height: 1}, types.PixelBGRA8), 0, false)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("EncodeTexture err = %v, want NOT_INITIALIZED", err)
	}
	if _, _, err := s.Flush(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Flush err = %v, want NOT_INITIALIZED", err)
	}
}

func TestSessionEncodeBufferValidation(t *testing.T) {
	env := newTestEnv()
	s := env.session()
	cfg := smallConfig()
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Shutdown()

	res := cfg.Resolution
	tests := []struct {
		name string
		buf  []byte
		res  types.Resolution
		pf   types.PixelFormat
		want *SessionError
	}{
		{"10-bit packed", make([]byte, types.PixelA2B10G10R10.BufferSize(res)), res, types.PixelA2B10G10R10, ErrUnsupportedPixelFormat},
		{"unknown format", make([]byte, 16), res, types.PixelUnknown, ErrUnsupportedPixelFormat},
		{"wrong resolution", make([]byte, 4*32*32), types.Resolution{Width: 32, Height: 32}, types.PixelBGRA8, ErrInvalidFrame},
		{"short buffer", make([]byte, 10), res, types.PixelBGRA8, ErrInvalidFrame},
		{"bgra size as float", make([]byte, types.PixelBGRA8.BufferSize(res)), res, types.PixelFloatRGBA, ErrInvalidFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.EncodeBuffer(tt.buf, tt.res, tt.pf, 0, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %s", err, tt.want.Code)
			}
		})
	}

	// Rejected frames never reach the encoder.
	if s.State() != StateReady {
		t.Errorf("state = %s, want ready", s.State())
	}
}

func TestSessionEncodeTextureValidation(t *testing.T) {
	env := newTestEnv()
	s := env.session()
	cfg := smallConfig()
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Shutdown()

	if _, err := s.EncodeTexture(nil, 0, false); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("nil texture err = %v, want INVALID_FRAME", err)
	}

	wrong := frame.NewStaticTexture(types.Resolution{Width: 128, Height: 128}, types.PixelBGRA8)
	if _, err := s.EncodeTexture(wrong, 0, false); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("mismatched texture err = %v, want INVALID_FRAME", err)
	}
}

func TestSessionEncodeAndFlushDrainsLookahead(t *testing.T) {
	env := newTestEnv()
	s := env.session()
	cfg := smallConfig()
	cfg.Quality.BFrames = 2
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Shutdown()

	tex := frame.NewStaticTexture(cfg.Resolution, types.PixelBGRA8)
	buf := make([]byte, types.PixelBGRA8.BufferSize(cfg.Resolution))

	var got []Packet
	for i := range 5 {
		ts := float64(i) / 30
		var pkts []Packet
		var err error
		if i%2 == 0 {
			pkts, err = s.EncodeTexture(tex, ts, false)
		} else {
			pkts, err = s.EncodeBuffer(buf, cfg.Resolution, types.PixelBGRA8, ts, false)
		}
		if err != nil {
			t.Fatalf("encode %d failed: %v", i, err)
		}
		got = append(got, pkts...)
	}
	if len(got) != 3 {
		t.Fatalf("packets before flush = %d, want 3", len(got))
	}

	for {
		pkt, ok, err := s.Flush()
		if err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, pkt)
	}

	if len(got) != 5 {
		t.Fatalf("total packets = %d, want 5", len(got))
	}
	for i, pkt := range got {
		if want := float64(i) / 30; pkt.Timestamp != want {
			t.Errorf("packet %d timestamp = %v, want %v", i, pkt.Timestamp, want)
		}
		if len(pkt.Data) == 0 {
			t.Errorf("packet %d is empty", i)
		}
	}
	if !got[0].KeyFrame {
		t.Error("first packet should be a key frame")
	}
}

func TestSessionEncodeFailure(t *testing.T) {
	env := newTestEnv()
	s := env.session()
	cfg := smallConfig()
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Shutdown()

	env.loader.Last().SetFaults(reference.Faults{Encode: errors.New("device lost")})

	buf := make([]byte, types.PixelBGRA8.BufferSize(cfg.Resolution))
	_, err := s.EncodeBuffer(buf, cfg.Resolution, types.PixelBGRA8, 0, false)
	if !errors.Is(err, ErrEncodeFailed) {
		t.Errorf("err = %v, want ENCODE_FAILED", err)
	}

	env.loader.Last().SetFaults(reference.Faults{Flush: errors.New("device lost")})
	if _, _, err := s.Flush(); !errors.Is(err, ErrFlushFailed) {
		t.Errorf("Flush err = %v, want FLUSH_FAILED", err)
	}
}

func TestGetCapabilitiesReleasesReference(t *testing.T) {
	env := newTestEnv()

	caps := GetCapabilities(env.registry)
	if !caps.Supported {
		t.Fatal("expected reference driver to be supported")
	}
	if caps.DeviceName != "Reference Encoder" {
		t.Errorf("device name = %q", caps.DeviceName)
	}
	if caps.APIVersion != "12.2" {
		t.Errorf("api version = %q, want 12.2", caps.APIVersion)
	}
	if env.registry.RefCount() != 0 || env.registry.Loaded() {
		t.Error("capability query kept a driver reference")
	}

	unavailable := GetCapabilities(driver.NewRegistry(failingLoader{}, newTestLogger()))
	if unavailable.Supported {
		t.Error("expected unsupported capabilities when driver is missing")
	}
}
