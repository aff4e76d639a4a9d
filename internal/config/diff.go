package config

import (
	"reflect"
	"sort"
	"strings"

	logx "multitool/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe log fields
// describing the new values. Secrets (the Telegram token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}
	if oldCfg.Loop != newCfg.Loop {
		changed = append(changed, "loop")
		attrs = append(attrs, logx.Int("loop.fps", newCfg.Loop.FPS))
	}
	if !reflect.DeepEqual(oldCfg.Timers, newCfg.Timers) {
		changed = append(changed, "timers")
		attrs = append(attrs,
			logx.String("timers.default_format", newCfg.Timers.DefaultFormat),
			logx.String("timers.default_target", newCfg.Timers.DefaultTarget),
			logx.Int("timers.presets", len(newCfg.Timers.Presets)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Tools, newCfg.Tools) {
		changed = append(changed, "tools")
		attrs = append(attrs,
			logx.String("tools.dir", newCfg.Tools.Dir),
			logx.Int("tools.sources", len(newCfg.Tools.Sources)),
			logx.Bool("tools.watch", newCfg.Tools.Watch),
			logx.Int("tools.allow_rules", len(newCfg.Tools.Allow)),
		)
	}

	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", nDriver), logx.Bool("storage.path_set", nPathSet))
	}

	oT, nT := telegramOf(oldCfg), telegramOf(newCfg)
	if oT.Enabled != nT.Enabled || oT.ChatID != nT.ChatID || oT.ThreadID != nT.ThreadID ||
		oT.RatePerSec != nT.RatePerSec || oT.Timeout != nT.Timeout ||
		!reflect.DeepEqual(oT.Events, nT.Events) ||
		(strings.TrimSpace(oT.Token) != "") != (strings.TrimSpace(nT.Token) != "") {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.telegram.enabled", nT.Enabled),
			logx.Bool("notify.telegram.token_set", strings.TrimSpace(nT.Token) != ""),
			logx.Int("notify.telegram.rate_per_sec", nT.RatePerSec),
		)
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.Float64("report.rate_per_sec", newCfg.Report.RatePerSec),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func telegramOf(c *Config) TelegramConfig {
	if c.Notify == nil {
		return TelegramConfig{}
	}
	return c.Notify.Telegram
}

// NeedsRestart reports changes that only take effect on the next start.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "loop", "storage", "notify":
			out = append(out, s)
		}
	}
	return out
}
