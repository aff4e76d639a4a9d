package app

import (
	"fmt"
	"strings"
	"time"

	"multitool/internal/config"
	"multitool/internal/debug"
	"multitool/internal/notify"
	"multitool/internal/presets"
	"multitool/internal/storage"
	"multitool/internal/timer"
	logx "multitool/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./data/multitool.db"
	}
	switch driver {
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapTelegram returns the sender config and whether the notifier is on.
func mapTelegram(cfg *config.Config) (notify.TelegramConfig, notify.Config, bool, error) {
	if cfg == nil || cfg.Notify == nil || !cfg.Notify.Telegram.Enabled {
		return notify.TelegramConfig{}, notify.Config{}, false, nil
	}
	t := cfg.Notify.Telegram
	timeout, err := config.ParseDurationOrDefault("notify.telegram.timeout", t.Timeout, 10*time.Second)
	if err != nil {
		return notify.TelegramConfig{}, notify.Config{}, false, err
	}
	return notify.TelegramConfig{
			Token:    t.Token,
			ChatID:   t.ChatID,
			ThreadID: t.ThreadID,
			Timeout:  timeout,
		}, notify.Config{
			Events:     t.Events,
			RatePerSec: t.RatePerSec,
			Timeout:    timeout,
			RetryMax:   2,
		}, true, nil
}

// mapPresets converts validated preset config. Entries that fail to parse are
// skipped; Validate has already rejected them for file-based configs.
func mapPresets(cfg *config.Config) []presets.Preset {
	out := make([]presets.Preset, 0, len(cfg.Timers.Presets))
	for _, p := range cfg.Timers.Presets {
		target, err := timer.ParseTarget(p.Target)
		if err != nil {
			continue
		}
		action, err := presets.ParseAction(p.Action)
		if err != nil {
			continue
		}
		out = append(out, presets.Preset{
			Timer: timer.Options{
				ID:            strings.TrimSpace(p.ID),
				Name:          p.Name,
				Mode:          timer.ParseMode(p.Mode),
				TargetSeconds: target,
				Format:        p.Format,
			},
			Schedule:  p.Schedule,
			Action:    action,
			AutoStart: p.AutoStart,
		})
	}
	return out
}

func scriptBudget(cfg *config.Config) time.Duration {
	d, _ := config.ParseDurationOrDefault("tools.script_timeout", cfg.Tools.ScriptTimeout, 0)
	return d
}

func mapDebug(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
}
