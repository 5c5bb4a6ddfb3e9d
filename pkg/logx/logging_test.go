package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("hello", String("k", "v"))
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").Named("timer")
	l.Debug("timer.fired", Uint64("id", 7), Duration("late", 3*time.Millisecond), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if m["comp"] != "timer" {
		t.Fatalf("comp = %v, want timer", m["comp"])
	}
	if m["message"] != "timer.fired" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["id"] != float64(7) {
		t.Fatalf("id = %v, want 7", m["id"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatal("expected caller field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if !l.Enabled(LevelError) || l.Enabled(LevelDebug) {
		t.Fatal("Enabled() does not match configured level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"trace":   LevelTrace,
		" DEBUG ": LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in, LevelInfo); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickd.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Info("written", String("k", "v"))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"message":"written"`) {
		t.Fatalf("log file missing entry: %s", b)
	}
}

func TestNamedReplacesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").Named("app").Named("timer")
	l.Info("hello")
	if n := strings.Count(buf.String(), `"comp"`); n != 1 {
		t.Fatalf("comp key written %d times: %s", n, buf.String())
	}
	if !strings.Contains(buf.String(), `"comp":"timer"`) {
		t.Fatalf("missing comp=timer: %s", buf.String())
	}
}

func TestSampledLimitsDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").Sampled(2, time.Hour)
	for i := 0; i < 10; i++ {
		l.Debug("tick", Int("i", i))
	}
	if n := strings.Count(buf.String(), `"message":"tick"`); n != 2 {
		t.Fatalf("sampled debug lines = %d, want 2", n)
	}
	buf.Reset()
	for i := 0; i < 5; i++ {
		l.Warn("loud")
	}
	if n := strings.Count(buf.String(), `"message":"loud"`); n != 5 {
		t.Fatalf("warn lines = %d, want 5", n)
	}
}

func TestParseLevelOff(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "off")
	l.Error("silenced")
	if buf.Len() != 0 {
		t.Fatalf("off level still wrote: %q", buf.String())
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickd.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()
	if log.Enabled(LevelInfo) {
		t.Fatal("info should be off at warn")
	}
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	if !log.Enabled(LevelDebug) {
		t.Fatal("logger did not follow Apply")
	}
	if got := svc.Config().Level; got != "debug" {
		t.Fatalf("Config().Level = %q", got)
	}
}
