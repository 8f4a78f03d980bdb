package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/gpuenc/internal/config"
	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/driver/reference"
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/version"
)

func testOptions() *config.Options {
	return &config.Options{
		DriverBackend:         config.BackendReference,
		EncoderFormat:         string(encoder.FormatNVENCHardware),
		EncoderCodec:          "h264",
		EncoderColorFormat:    "nv12",
		EncoderWidth:          320,
		EncoderHeight:         240,
		EncoderPreset:         "balanced",
		EncoderBFrames:        -1,
		EncoderFrameRate:      200,
		EncoderStatsSeconds:   1,
		PipelineQueueCapacity: 32,
		PipelineFenceTimeout:  "5s",
	}
}

func TestCapsReport(t *testing.T) {
	report := buildCapsReport(driver.NewRegistry(&reference.Loader{}, nil))
	if report.Loader != "reference" || !report.Capabilities.Supported {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Formats) == 0 || report.Formats[0].Format != encoder.FormatNVENCHardware {
		t.Errorf("formats = %+v", report.Formats)
	}

	var buf bytes.Buffer
	if err := writeCapsReport(&buf, report, "toml"); err != nil {
		t.Fatalf("toml: %v", err)
	}
	var decoded CapsReport
	if err := toml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode toml: %v\n%s", err, buf.String())
	}
	if decoded.Loader != report.Loader || decoded.Capabilities.MaxWidth != report.Capabilities.MaxWidth {
		t.Errorf("toml round trip = %+v", decoded)
	}

	buf.Reset()
	if err := writeCapsReport(&buf, report, "text"); err != nil {
		t.Fatalf("text: %v", err)
	}
	if !strings.Contains(buf.String(), "h264") || !strings.Contains(buf.String(), "nvenc_hardware") {
		t.Errorf("text output missing codecs or formats:\n%s", buf.String())
	}

	if err := writeCapsReport(&buf, report, "yaml"); err == nil {
		t.Error("expected an error for an unknown output format")
	}
}

func TestCapsCommand(t *testing.T) {
	opts := testOptions()
	c := CreateCapsCmd(opts)
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetArgs([]string{"--output", "json"})
	if err := c.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var report CapsReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Capabilities.Supported {
		t.Errorf("reference driver should be supported: %+v", report)
	}
}

func TestCapsCommandUnknownBackend(t *testing.T) {
	opts := testOptions()
	opts.DriverBackend = "vulkan"
	c := CreateCapsCmd(opts)
	c.SetOut(&bytes.Buffer{})
	c.SetErr(&bytes.Buffer{})
	c.SetArgs(nil)
	if err := c.Execute(); err == nil {
		t.Error("expected an error for an unknown driver backend")
	}
}

func TestRunCapture(t *testing.T) {
	for _, cpu := range []bool{false, true} {
		name := "gpu"
		if cpu {
			name = "cpu"
		}
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var out bytes.Buffer
			ro := runOptions{SessionID: "run-test-" + name, Frames: 5, CPU: cpu, RenderLag: time.Millisecond}
			if err := runCapture(ctx, testOptions(), ro, &out); err != nil {
				t.Fatalf("runCapture: %v", err)
			}

			got := out.String()
			for _, want := range []string{"session run-test-" + name, "5 frames submitted", "5 forwarded", "5 encoded", "0 dropped"} {
				if !strings.Contains(got, want) {
					t.Errorf("summary %q missing %q", got, want)
				}
			}
		})
	}
}

func TestRunCaptureStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	var out bytes.Buffer
	if err := runCapture(ctx, testOptions(), runOptions{SessionID: "run-cancel"}, &out); err != nil {
		t.Fatalf("runCapture: %v", err)
	}
	if !strings.Contains(out.String(), "session run-cancel") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestRunCaptureRejectsUnknownFormat(t *testing.T) {
	opts := testOptions()
	opts.EncoderFormat = "prores"
	err := runCapture(context.Background(), opts, runOptions{SessionID: "run-bad", Frames: 1}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "prores") {
		t.Errorf("err = %v", err)
	}
}

func TestStartNATSDisabled(t *testing.T) {
	opts := testOptions()
	opts.NatsURL = "nats://example:4222"
	url, stop, err := StartNATS(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()
	if url != opts.NatsURL {
		t.Errorf("url = %q", url)
	}
}

func TestVersionCommand(t *testing.T) {
	c := CreateVersionCmd()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetArgs(nil)
	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != version.Get().Summary() {
		t.Errorf("version output = %q", got)
	}
}
