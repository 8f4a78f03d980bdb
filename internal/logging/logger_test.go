package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func resetLogging() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	logBuffer = nil
	logCallback = nil
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetLogging()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"nvenc": "debug",
			"api":   "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"nvenc", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()

			if got := handler.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(context.Background(), slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(context.Background(), slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetLogging()

	loggerBefore := GetLogger("capture")
	if loggerBefore.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger created before Initialize should NOT have debug enabled")
	}

	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"capture": "debug"},
	})

	loggerAfter := GetLogger("capture")
	if loggerBefore != loggerAfter {
		t.Error("Logger should be cached - same pointer before and after Initialize")
	}
	if !loggerBefore.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Cached logger should have debug enabled after Initialize")
	}
}

func TestSetLevelsAtRuntime(t *testing.T) {
	resetLogging()

	Initialize(Config{Level: "info", Format: "text"})
	logger := GetLogger("encoder")
	handler := logger.Handler()

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should start disabled")
	}

	SetLevels(Config{Level: "warn", Modules: map[string]string{"encoder": "debug"}})
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("SetLevels should enable debug for encoder")
	}
	if got := Levels()["encoder"]; got != "debug" {
		t.Errorf("Levels()[encoder] = %q, want debug", got)
	}

	other := GetLogger("driver")
	if other.Handler().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("new logger should use the updated global level (warn)")
	}

	SetLevels(Config{Level: "info"})
	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("removing the module override should fall back to the global level")
	}
}

func TestModules(t *testing.T) {
	resetLogging()

	GetLogger("nvenc")
	GetLogger("api")
	GetLogger("nvenc")

	got := Modules()
	if len(got) != 2 || got[0] != "api" || got[1] != "nvenc" {
		t.Errorf("Modules() = %v, want [api nvenc]", got)
	}
}

func TestBufferAndCallback(t *testing.T) {
	resetLogging()
	Initialize(Config{Level: "debug", Format: "text", BufferSize: 8})

	var (
		mu  sync.Mutex
		got []LogEntry
	)
	SetLogCallback(func(e LogEntry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer SetLogCallback(nil)

	logger := GetLogger("nats").With("session_id", "s1")
	logger.Info("connected", "url", "nats://localhost:4222", "err", errors.New("boom"))
	logger.WithGroup("frame").Debug("dropped", "ts", 0.5)

	entries := GetBuffer().ReadAll()
	if len(entries) != 2 {
		t.Fatalf("buffer has %d entries, want 2", len(entries))
	}

	first := entries[0]
	if first.Module != "nats" || first.Message != "connected" || first.Level != "info" {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if first.Attributes["session_id"] != "s1" {
		t.Errorf("session_id = %v, want s1", first.Attributes["session_id"])
	}
	if first.Attributes["err"] != "boom" {
		t.Errorf("err = %v, want boom", first.Attributes["err"])
	}
	if entries[1].Attributes["frame.ts"] != 0.5 {
		t.Errorf("grouped attr = %v, want 0.5", entries[1].Attributes)
	}
	if entries[1].Seq != first.Seq+1 {
		t.Errorf("seq %d does not follow %d", entries[1].Seq, first.Seq)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].Seq != first.Seq {
		t.Errorf("callback saw %d entries", len(got))
	}
}

func TestRingBufferWrapAndSince(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Write(LogEntry{Message: string(rune('a' + i))})
	}

	if rb.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", rb.Count())
	}

	all := rb.ReadAll()
	var msgs []string
	for _, e := range all {
		msgs = append(msgs, e.Message)
	}
	if strings.Join(msgs, "") != "cde" {
		t.Errorf("ReadAll order = %v, want [c d e]", msgs)
	}

	since := rb.Since(4)
	if len(since) != 1 || since[0].Message != "e" || since[0].Seq != 5 {
		t.Errorf("Since(4) = %+v", since)
	}
	if len(rb.Since(5)) != 0 {
		t.Error("Since(latest) should be empty")
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")

	output := buf.String()
	if count := strings.Count(output, "debug only message"); count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, output)
	}
	if !strings.Contains(output, "module=test") {
		t.Errorf("attrs not propagated. Output: %s", output)
	}
}

func TestFormatLogLine(t *testing.T) {
	entry := LogEntry{
		Timestamp:  time.Date(2025, 1, 9, 10, 30, 0, 0, time.UTC),
		Level:      "warn",
		Module:     "nvenc",
		Message:    "fence timeout",
		Attributes: map[string]any{"ts": 1.5, "session_id": "s1"},
	}

	want := "2025-01-09T10:30:00Z [WARN] [nvenc] fence timeout session_id=s1 ts=1.5"
	if got := FormatLogLine(entry); got != want {
		t.Errorf("FormatLogLine() = %q, want %q", got, want)
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			switch {
			case tt.isNil && got != nil:
				t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
			case !tt.isNil && got == nil:
				t.Errorf("parseLevel(%q) = nil, want %v", tt.input, tt.want)
			case !tt.isNil && *got != tt.want:
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, tt.want)
			}
		})
	}
}
