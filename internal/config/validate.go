package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks fields the daemon cannot start (or reload) without.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Bus.Root) == "" {
		return fmt.Errorf("bus.root is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if tz := strings.TrimSpace(cfg.Bus.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("bus.timezone: %w", err)
		}
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"bus.scan_interval":     cfg.Bus.ScanInterval,
		"runner.interval":       cfg.Runner.Interval,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if c := cfg.Containers; c != nil && c.Enabled {
		if strings.TrimSpace(c.Image) == "" {
			return fmt.Errorf("containers.image is required when containers.enabled")
		}
		if _, err := ParseDurationField("containers.stop_timeout", c.StopTimeout); err != nil {
			return err
		}
	}
	if h := cfg.HTTP; h != nil && h.Enabled {
		if strings.TrimSpace(h.Token) == "" {
			return fmt.Errorf("http.token is required when http.enabled")
		}
	}
	return nil
}
