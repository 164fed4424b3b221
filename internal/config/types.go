package config

// Config is the on-disk configuration (JSON, or YAML for .yaml/.yml files).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging       LoggingConfig        `json:"logging"`
	Storage       *StorageConfig       `json:"storage,omitempty"`
	Notifications *NotificationsConfig `json:"notifications,omitempty"`
	Directory     DirectoryConfig      `json:"directory"`
	Debug         *DebugConfig         `json:"debug,omitempty"`
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

// StorageConfig selects the notification history backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hostshell.db" }
//
// Drivers: "memory" (default), "file", "sqlite".
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
}

// NotificationsConfig tunes the notification engine.
//
// Defaults (when omitted):
//   - low_timeout: "4s"
type NotificationsConfig struct {
	LowTimeout string `json:"low_timeout,omitempty"`
}

// DirectoryConfig points the application directory at its portal.
//
// An empty base_url runs the directory offline: only apps registered
// locally can be activated.
type DirectoryConfig struct {
	BaseURL        string  `json:"base_url,omitempty"`
	RequestTimeout string  `json:"request_timeout,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
	RetryCount     int     `json:"retry_count,omitempty"`
	ScriptTimeout  string  `json:"script_timeout,omitempty"`
	// RefreshSchedule is a cron spec (robfig/cron, with descriptors such as
	// "@every 5m"). Empty disables periodic refresh.
	RefreshSchedule string `json:"refresh_schedule,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (health, state
// snapshot and pprof).
//
// Example:
//
//	"debug": { "enabled": true, "addr": "127.0.0.1:6060", "pprof": true }
//
// Binding to a non-loopback address requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}
