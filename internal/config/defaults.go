package config

import (
	"fmt"
	"strings"

	"multitool/internal/presets"
	"multitool/internal/timer"
)

const (
	DefaultFPS        = 60
	DefaultToolsDir   = "./tools"
	DefaultReportRate = 1.0
)

// Default is the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Tools:   ToolsConfig{Dir: DefaultToolsDir},
		Report:  ReportConfig{Enabled: true},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults. It never overrides explicit values.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Loop.FPS <= 0 {
		c.Loop.FPS = DefaultFPS
	}
	if l := timer.NormalizeLayout(c.Timers.DefaultFormat); l != "" {
		c.Timers.DefaultFormat = l
	} else if strings.TrimSpace(c.Timers.DefaultFormat) == "" {
		c.Timers.DefaultFormat = timer.LayoutMillis
	}
	if strings.TrimSpace(c.Tools.Dir) == "" {
		c.Tools.Dir = DefaultToolsDir
	}
	if c.Report.RatePerSec <= 0 {
		c.Report.RatePerSec = DefaultReportRate
	}
	for i := range c.Timers.Presets {
		p := &c.Timers.Presets[i]
		if strings.TrimSpace(p.Action) == "" {
			p.Action = "start"
		}
	}
}

// Validate checks values Normalize cannot repair.
func (c *Config) Validate() error {
	if c.Loop.FPS > 1000 {
		return fmt.Errorf("loop.fps: %d is out of range (1..1000)", c.Loop.FPS)
	}
	if timer.NormalizeLayout(c.Timers.DefaultFormat) == "" {
		return fmt.Errorf("timers.default_format: unknown layout %q (use %s)", c.Timers.DefaultFormat, strings.Join(timer.Layouts(), ", "))
	}
	if _, err := timer.ParseTarget(c.Timers.DefaultTarget); err != nil {
		return fmt.Errorf("timers.default_target: %w", err)
	}
	seen := map[string]bool{}
	for i, p := range c.Timers.Presets {
		path := fmt.Sprintf("timers.presets[%d]", i)
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("%s.id: required", path)
		}
		if seen[id] {
			return fmt.Errorf("%s.id: duplicate %q", path, id)
		}
		seen[id] = true
		if _, err := timer.ParseTarget(p.Target); err != nil {
			return fmt.Errorf("%s.target: %w", path, err)
		}
		if p.Format != "" && timer.NormalizeLayout(p.Format) == "" {
			return fmt.Errorf("%s.format: unknown layout %q", path, p.Format)
		}
		if _, err := presets.ParseAction(p.Action); err != nil {
			return fmt.Errorf("%s.action: %w", path, err)
		}
		if strings.TrimSpace(p.Schedule) != "" {
			if _, err := presets.ParseSchedule(p.Schedule); err != nil {
				return fmt.Errorf("%s.schedule: %w", path, err)
			}
		}
	}
	if _, err := ParseDurationField("tools.script_timeout", c.Tools.ScriptTimeout); err != nil {
		return err
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown %q (use none, file or sqlite)", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if n := c.Notify; n != nil && n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.Token) == "" {
			return fmt.Errorf("notify.telegram.token: required when enabled")
		}
		if n.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.chat_id: required when enabled")
		}
		if _, err := ParseDurationField("notify.telegram.timeout", n.Telegram.Timeout); err != nil {
			return err
		}
	}
	return nil
}
