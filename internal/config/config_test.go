package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	yml := `
logging:
  level: debug
  console: true
timers:
  default_format: mm:ss
  presets:
    - id: pomodoro
      mode: countdown
      target: 25m
      schedule: "0 9 * * 1-5"
tools:
  sources: [builtin/timer, timer-tool.js]
  allow:
    timer-tool: [timer.read]
`
	cfg, err := Decode("multitool.yaml", []byte(yml))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Timers.DefaultFormat != "mm:ss" || cfg.Loop.FPS != DefaultFPS || cfg.Tools.Dir != DefaultToolsDir {
		t.Fatalf("defaults/values not applied: %+v", cfg)
	}
	if p := cfg.Timers.Presets[0]; p.Action != "start" || p.Target != "25m" {
		t.Fatalf("preset = %+v", p)
	}
	if got := cfg.Tools.Allow["timer-tool"]; len(got) != 1 || got[0] != "timer.read" {
		t.Fatalf("allow = %v", cfg.Tools.Allow)
	}

	js := `{"loop":{"fps":30},"report":{"enabled":true,"rate_per_sec":2}}`
	cfg, err = Decode("multitool.json", []byte(js))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.Loop.FPS != 30 || cfg.Report.RatePerSec != 2 {
		t.Fatalf("json cfg = %+v", cfg)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown key", "c.json", `{"bogus":1}`, "unknown field"},
		{"trailing", "c.json", `{}{}`, "trailing"},
		{"bad format", "c.json", `{"timers":{"default_format":"hh"}}`, "default_format"},
		{"bad target", "c.yaml", "timers:\n  presets:\n    - id: a\n      target: soon\n", "target"},
		{"dup preset", "c.yaml", "timers:\n  presets:\n    - id: a\n    - id: a\n", "duplicate"},
		{"bad action", "c.yaml", "timers:\n  presets:\n    - id: a\n      action: explode\n", "action"},
		{"bad schedule", "c.yaml", "timers:\n  presets:\n    - id: a\n      schedule: \"61 * * * *\"\n", "schedule"},
		{"bad driver", "c.json", `{"storage":{"driver":"mongo"}}`, "storage.driver"},
		{"telegram no token", "c.json", `{"notify":{"telegram":{"enabled":true,"chat_id":1}}}`, "token"},
		{"bad timeout", "c.json", `{"tools":{"script_timeout":"fast"}}`, "script_timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.file, []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestEmptyYAMLIsDefault(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yml", nil)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if cfg.Loop.FPS != DefaultFPS {
		t.Fatalf("fps = %d", cfg.Loop.FPS)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Notify = &NotifyConfig{Telegram: TelegramConfig{Enabled: true, Token: "secret", ChatID: 42}}
	b.Tools.Watch = true

	changed, attrs := SummarizeChange(a, b)
	want := []string{"logging", "notify", "tools"}
	if !slices.Equal(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got := NeedsRestart(changed); !slices.Equal(got, []string{"notify"}) {
		t.Fatalf("NeedsRestart = %v", got)
	}
}

func TestManagerReloadPublishes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "multitool.json")
	if err := os.WriteFile(path, []byte(`{"loop":{"fps":30}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if changed, err := m.Reload(context.Background()); err != nil || changed {
		t.Fatalf("Reload unchanged = %v, %v", changed, err)
	}

	if err := os.WriteFile(path, []byte(`{"loop":{"fps":20}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return nil })
	if changed, err := m.Reload(context.Background()); err != nil || !changed {
		t.Fatalf("Reload changed = %v, %v", changed, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Loop.FPS != 20 {
			t.Fatalf("published fps = %d", cfg.Loop.FPS)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
	if m.Get().Loop.FPS != 20 {
		t.Fatalf("Get fps = %d", m.Get().Loop.FPS)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if d, _ := ParseDurationOrDefault("x", "0s", 3*time.Second); d != 3*time.Second {
		t.Fatalf("default = %v", d)
	}
}
