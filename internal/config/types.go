package config

// Config is the multitool process configuration. It is read from JSON or YAML;
// unknown keys are rejected.
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Loop    LoopConfig     `json:"loop"`
	Timers  TimersConfig   `json:"timers"`
	Tools   ToolsConfig    `json:"tools"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`
	Report  ReportConfig   `json:"report"`
	Debug   DebugConfig    `json:"debug"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards warnings and errors to the Telegram notifier.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// LoopConfig controls the frame loop. FPS defaults to 60.
type LoopConfig struct {
	FPS int `json:"fps,omitempty"`
}

type TimersConfig struct {
	// DefaultFormat is one of hh:mm:ss.mmm, hh:mm:ss, mm:ss, seconds.
	DefaultFormat string `json:"default_format,omitempty"`
	// DefaultTarget is the countdown the built-in "timer" tool opens ("5m",
	// "300", "05:00"). Empty or zero opens a stopwatch.
	DefaultTarget string         `json:"default_target,omitempty"`
	Presets       []PresetConfig `json:"presets,omitempty"`
}

// PresetConfig declares a timer created at boot.
//
// Target accepts seconds ("90"), a Go duration ("1m30s") or a clock string
// ("01:30"). Schedule accepts the same forms as the preset scheduler: cron
// ("*/5 * * * *", "@hourly"), an interval ("25m") or HH:MM ("00:25").
type PresetConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Target   string `json:"target,omitempty"`
	Format   string `json:"format,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	// Action runs on each schedule tick: start (default), restart, stop, reset, lap.
	Action string `json:"action,omitempty"`
	// AutoStart starts the timer right after boot.
	AutoStart bool `json:"autostart,omitempty"`
}

// ToolsConfig controls tool module discovery.
//
// Example:
//
//	"tools": {
//	  "dir": "./tools",
//	  "sources": ["builtin/timer", "timer-tool.js"],
//	  "watch": true,
//	  "allow": { "timer-tool": ["timer.read", "timer.write", "events.subscribe", "tools.register"] }
//	}
type ToolsConfig struct {
	Dir     string   `json:"dir,omitempty"`
	Sources []string `json:"sources,omitempty"`
	// Watch reloads .js sources under Dir when they change.
	Watch bool `json:"watch,omitempty"`
	// ScriptTimeout bounds each call into a script (Go duration, default 2s).
	ScriptTimeout string `json:"script_timeout,omitempty"`
	// Allow is an optional capability allowlist per module source or base name.
	// Omitted or empty lists allow everything.
	Allow map[string][]string `json:"allow,omitempty"`
}

// StorageConfig controls the run history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./multitool.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig sends finished-countdown messages to one chat.
type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// Timeout bounds each send (Go duration, default 10s).
	Timeout string `json:"timeout,omitempty"`
	// Events selects which timer events are sent. Default: timer:finished.
	Events []string `json:"events,omitempty"`
}

// ReportConfig controls console progress output for `run`.
type ReportConfig struct {
	Enabled    bool    `json:"enabled"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// DebugConfig controls the local debug endpoint (/healthz, /status, pprof).
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:6060
	// Token is required for non-loopback addresses unless AllowInsecure is set.
	Token                string `json:"token,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}
