package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/smazurov/gpuenc/internal/api/models"
	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/driver/reference"
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/events"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/metrics"
	"github.com/smazurov/gpuenc/internal/types"
)

type controlCall struct {
	action, sessionID, reason string
}

type fakeController struct {
	mu    sync.Mutex
	calls []controlCall
	err   error
}

func (f *fakeController) record(action, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, controlCall{action, id, reason})
	return f.err
}

func (f *fakeController) Pause(id, reason string) error  { return f.record("pause", id, reason) }
func (f *fakeController) Resume(id, reason string) error { return f.record("resume", id, reason) }
func (f *fakeController) Stop(id, reason string) error   { return f.record("stop", id, reason) }

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *encoder.Factory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := encoder.NewFactory(encoder.FactoryOptions{
		Registry: driver.NewRegistry(&reference.Loader{}, logger),
		Logger:   logger,
	})
	opts := &Options{
		Factory:  factory,
		EventBus: events.New(),
	}
	if mutate != nil {
		mutate(opts)
	}
	return NewServer(opts), factory
}

func do(t *testing.T, s *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthAndVersion(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if got := decode[models.HealthData](t, w); got.Status != "ok" {
		t.Errorf("health = %+v", got)
	}

	w = do(t, s, http.MethodGet, "/api/version", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("version status = %d", w.Code)
	}
	if got := decode[models.VersionData](t, w); got.GoVersion == "" || got.Platform == "" {
		t.Errorf("version = %+v", got)
	}
}

func TestCapabilities(t *testing.T) {
	s, factory := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/capabilities", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[models.CapabilitiesData](t, w)
	if got.Loader != "reference" || !got.Capabilities.Supported {
		t.Errorf("capabilities = %+v", got)
	}
	if !got.Capabilities.SupportsCodec(types.CodecH264) {
		t.Error("reference driver should support h264")
	}
	if refs := factory.Registry().RefCount(); refs != 0 {
		t.Errorf("query leaked %d driver references", refs)
	}
}

func TestFormats(t *testing.T) {
	s, factory := newTestServer(t, nil)
	factory.RegisterCustomEncoder("test_custom", func() encoder.Encoder { return nil })

	w := do(t, s, http.MethodGet, "/api/formats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list := decode[models.FormatListData](t, w)
	if list.Count != 2 || list.Formats[0].Format != "test_custom" || list.Formats[1].Format != encoder.FormatNVENCHardware {
		t.Errorf("formats = %+v", list.Formats)
	}

	w = do(t, s, http.MethodGet, "/api/formats/nvenc", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("format status = %d", w.Code)
	}
	format := decode[models.FormatData](t, w)
	if format.Info.Format != encoder.FormatNVENCHardware || !format.Info.Hardware {
		t.Errorf("info = %+v", format.Info)
	}
	if format.Recommended.Resolution.IsZero() {
		t.Error("recommended configuration should carry a resolution")
	}

	if w := do(t, s, http.MethodGet, "/api/formats/test_custom", "", nil); w.Code != http.StatusOK {
		t.Errorf("custom format status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/formats/bogus", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown format status = %d, want 404", w.Code)
	}
}

func TestSessions(t *testing.T) {
	s, _ := newTestServer(t, nil)

	metrics.SetEncoderStats("api-test-b", metrics.EncoderStats{EncodedFrames: 3})
	metrics.SetEncoderStats("api-test-a", metrics.EncoderStats{EncodedFrames: 7, QueueDepth: 1})
	metrics.SetSessionState("api-test-a", "ready")
	metrics.IncFrameDropped("api-test-a", "queue_full")
	t.Cleanup(func() {
		metrics.DeleteEncoderMetrics("api-test-a")
		metrics.DeleteEncoderMetrics("api-test-b")
	})

	w := do(t, s, http.MethodGet, "/api/sessions", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list := decode[models.SessionListData](t, w)
	var ids []string
	for _, sess := range list.Sessions {
		if strings.HasPrefix(sess.SessionID, "api-test-") {
			ids = append(ids, sess.SessionID)
		}
	}
	if strings.Join(ids, ",") != "api-test-a,api-test-b" {
		t.Errorf("sessions = %v, want sorted a,b", ids)
	}

	w = do(t, s, http.MethodGet, "/api/sessions/api-test-a", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session status = %d", w.Code)
	}
	sess := decode[models.SessionData](t, w)
	if sess.EncodedFrames != 7 || sess.State != "ready" || sess.Drops["queue_full"] != 1 {
		t.Errorf("session = %+v", sess)
	}

	if w := do(t, s, http.MethodGet, "/api/sessions/missing", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", w.Code)
	}
}

func TestSessionControl(t *testing.T) {
	t.Run("without controller", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		if w := do(t, s, http.MethodPost, "/api/sessions/s1/pause", "", nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})

	t.Run("sends commands", func(t *testing.T) {
		ctrl := &fakeController{}
		s, _ := newTestServer(t, func(o *Options) { o.Controller = ctrl })

		w := do(t, s, http.MethodPost, "/api/sessions/s1/pause", `{"reason":"maintenance"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("pause status = %d: %s", w.Code, w.Body.String())
		}
		if got := decode[models.ControlData](t, w); got.Action != "pause" || got.SessionID != "s1" {
			t.Errorf("response = %+v", got)
		}
		if w := do(t, s, http.MethodPost, "/api/sessions/s1/stop", "", nil); w.Code != http.StatusOK {
			t.Fatalf("stop status = %d: %s", w.Code, w.Body.String())
		}

		want := []controlCall{{"pause", "s1", "maintenance"}, {"stop", "s1", ""}}
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		if len(ctrl.calls) != len(want) || ctrl.calls[0] != want[0] || ctrl.calls[1] != want[1] {
			t.Errorf("calls = %+v, want %+v", ctrl.calls, want)
		}
	})

	t.Run("rejects unknown action", func(t *testing.T) {
		ctrl := &fakeController{}
		s, _ := newTestServer(t, func(o *Options) { o.Controller = ctrl })
		if w := do(t, s, http.MethodPost, "/api/sessions/s1/explode", "", nil); w.Code < 400 || w.Code >= 500 {
			t.Errorf("status = %d, want 4xx", w.Code)
		}
		if len(ctrl.calls) != 0 {
			t.Errorf("controller called %d times", len(ctrl.calls))
		}
	})

	t.Run("publisher failure", func(t *testing.T) {
		ctrl := &fakeController{err: errors.New("nats: connection closed")}
		s, _ := newTestServer(t, func(o *Options) { o.Controller = ctrl })
		if w := do(t, s, http.MethodPost, "/api/sessions/s1/resume", "", nil); w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) {
		o.AuthUsername = "admin"
		o.AuthPassword = "secret"
	})

	if w := do(t, s, http.MethodGet, "/api/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health should not need auth, got %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/formats", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing credentials status = %d, want 401", w.Code)
	}

	bad := base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	if w := do(t, s, http.MethodGet, "/api/formats", "", http.Header{"Authorization": {"Basic " + bad}}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", w.Code)
	}

	good := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	if w := do(t, s, http.MethodGet, "/api/formats", "", http.Header{"Authorization": {"Basic " + good}}); w.Code != http.StatusOK {
		t.Errorf("valid credentials status = %d, want 200", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/formats?auth="+good, "", nil); w.Code != http.StatusOK {
		t.Errorf("query credentials status = %d, want 200", w.Code)
	}
}

func TestLogs(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	logging.GetLogger("api-logs-test").Info("first", "session_id", "s1")
	logging.GetLogger("other").Info("noise")
	logging.GetLogger("api-logs-test").Info("second")

	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/logs?module=api-logs-test", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	logs := decode[models.LogsData](t, w)
	if logs.Count != 2 || logs.Entries[0].Message != "first" || logs.Entries[1].Message != "second" {
		t.Fatalf("entries = %+v", logs.Entries)
	}
	if logs.Entries[0].Attributes["session_id"] != "s1" {
		t.Errorf("attributes = %v", logs.Entries[0].Attributes)
	}
	if logs.Levels["api-logs-test"] != "info" {
		t.Errorf("levels = %v", logs.Levels)
	}

	w = do(t, s, http.MethodGet, "/api/logs?module=api-logs-test&since="+jsonUint(logs.Entries[0].Seq), "", nil)
	if got := decode[models.LogsData](t, w); got.Count != 1 || got.Entries[0].Message != "second" {
		t.Errorf("since filter returned %+v", got.Entries)
	}
}

func jsonUint(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestPrometheusMount(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) {
		o.PrometheusHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("gpuenc_up 1\n"))
		})
	})

	w := do(t, s, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "gpuenc_up") {
		t.Errorf("metrics status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodOptions, "/api/sessions/s1/pause", "", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}
