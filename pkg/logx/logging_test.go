package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWriterFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Warn("handler failed", String("event", "timer:update"), Err(errors.New("boom")), Int("n", 2))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["event"] != "timer:update" {
		t.Fatalf("missing fields: %v", m)
	}
	if m["err"] != "boom" {
		t.Fatalf("err field = %v, want boom", m["err"])
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v, want warn", m["level"])
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped")
	if l.With(String("k", "v")).IsZero() {
		t.Fatal("logger with fields is no longer zero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"tool load failed","source":"a.js","comp":"registry"}`)
	got := formatAlert(line)
	want := "[WARN] tool load failed\n- comp=registry\n- source=a.js"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
	if raw := formatAlert([]byte("  not json \n")); raw != "not json" {
		t.Fatalf("raw fallback = %q", raw)
	}
	if s := truncate(strings.Repeat("a", 20), 12); s != "aaaaaaaaa..." {
		t.Fatalf("truncate = %q", s)
	}
}
