package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	p := writeTemp(t, "config.json", `{
		"telegram": {"token": "tok", "poll_timeout": "10s"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"bus": {"root": "/var/lib/hivebot/bus", "scan_interval": "2s", "main_folder": "main", "timezone": "UTC"},
		"storage": {"path": "hivebot.db"}
	}`)

	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "tok" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Bus.ScanInterval != "2s" || cfg.Bus.MainFolder != "main" {
		t.Fatalf("bus = %+v", cfg.Bus)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeTemp(t, "config.yaml", `
telegram:
  token: tok
logging:
  level: info
  console: true
  file:
    enabled: true
    path: hivebot.log
bus:
  root: /srv/bus
storage:
  path: hivebot.db
`)

	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.Path != "hivebot.log" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Bus.Root != "/srv/bus" {
		t.Fatalf("bus.root = %q", cfg.Bus.Root)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeTemp(t, "config.json", `{"telegram": {"token": "tok"}, "surprise": true}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeTemp(t, "config.json", `{"telegram": {"token": "tok"}}{"again": 1}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "tok"},
			Bus:      BusConfig{Root: "/srv/bus"},
			Storage:  StorageConfig{Path: "db"},
		}
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.Telegram.Token = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("missing token accepted")
	}

	cfg = base()
	cfg.Bus.Timezone = "Mars/Olympus"
	if err := Validate(cfg); err == nil {
		t.Fatal("bad timezone accepted")
	}

	cfg = base()
	cfg.Bus.ScanInterval = "soon"
	if err := Validate(cfg); err == nil {
		t.Fatal("bad duration accepted")
	}

	cfg = base()
	cfg.Containers = &ContainerConfig{Enabled: true}
	if err := Validate(cfg); err == nil {
		t.Fatal("enabled containers without image accepted")
	}

	cfg = base()
	cfg.HTTP = &HTTPConfig{Enabled: true}
	if err := Validate(cfg); err == nil {
		t.Fatal("enabled http without token accepted")
	}
}

func TestSummarizeChangeSkipsSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "telegram" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}
