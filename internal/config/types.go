package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Bus configures the shared filesystem exchange the group containers
	// write their envelopes into.
	Bus BusConfig `json:"bus"`

	// Runner controls how often due scheduled tasks are fired.
	Runner RunnerConfig `json:"runner,omitempty"`

	Storage StorageConfig `json:"storage"`

	// Containers is optional; when omitted, group containers are managed
	// out of band and hivebot only tends the exchange directories.
	Containers *ContainerConfig `json:"containers,omitempty"`

	// HTTP is optional; when omitted, the inject endpoint is not served.
	HTTP *HTTPConfig `json:"http,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s"). Default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`

	// RatePerSec caps outbound sends. 0 means the built-in default.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BusConfig locates the exchange root and tunes the sweep loop.
//
// All durations are Go duration strings (e.g. "500ms", "5s").
type BusConfig struct {
	Root string `json:"root"`

	// ScanInterval is the pause between sweep passes. Default "5s".
	ScanInterval string `json:"scan_interval,omitempty"`

	// MainFolder names the privileged namespace. Default "main".
	MainFolder string `json:"main_folder,omitempty"`

	// Timezone is an IANA zone name used for cron and once schedules.
	// Default: the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

type RunnerConfig struct {
	// Interval is the pause between due-task polls. Default "15s".
	Interval string `json:"interval,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout is a Go duration string passed to sqlite. Default "5s".
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ContainerConfig controls the per-group container runner.
type ContainerConfig struct {
	Enabled bool   `json:"enabled"`
	Image   string `json:"image"`

	// Env entries are KEY=VALUE pairs added to every group container.
	Env []string `json:"env,omitempty"`

	// StopTimeout is a Go duration string used when stopping containers.
	// Default "10s".
	StopTimeout string `json:"stop_timeout,omitempty"`
}

// HTTPConfig controls the local inject endpoint.
//
// Prefer binding to localhost. Requests must carry the bearer token.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:8087"
	Token   string `json:"token,omitempty"` // do not log
}
