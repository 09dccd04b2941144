package config

import (
	"reflect"
	"strings"

	logx "hivebot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections plus structured
// attrs safe for logging (secrets like tokens are never included).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	// Telegram (never log the token itself)
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.RatePerSec != newCfg.Telegram.RatePerSec {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Bus != newCfg.Bus {
		changed = append(changed, "bus")
		attrs = append(attrs,
			logx.String("bus.root", newCfg.Bus.Root),
			logx.String("bus.scan_interval", newCfg.Bus.ScanInterval),
			logx.String("bus.main_folder", newCfg.Bus.MainFolder),
		)
	}

	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs, logx.String("runner.interval", newCfg.Runner.Interval))
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.path", newCfg.Storage.Path))
	}

	if !reflect.DeepEqual(oldCfg.Containers, newCfg.Containers) {
		changed = append(changed, "containers")
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
	}

	return changed, attrs
}
