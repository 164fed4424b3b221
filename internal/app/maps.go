package app

import (
	"fmt"
	"strings"
	"time"

	"hostshell/internal/config"
	"hostshell/internal/fusion"
	"hostshell/internal/notification"
	"hostshell/internal/observability/debughttp"
	"hostshell/internal/storage"
	logx "hostshell/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig defaults to the in-memory store when the section is omitted.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = "./hostshell"
		}
		return storage.Config{Driver: "file", Path: path, CompactEvery: sc.CompactEvery}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotificationConfig(cfg *config.Config) (notification.Config, error) {
	if cfg == nil || cfg.Notifications == nil {
		return notification.Config{LowTimeout: notification.DefaultLowTimeout}, nil
	}
	d, err := config.ParseDurationOrDefault("notifications.low_timeout", cfg.Notifications.LowTimeout, notification.DefaultLowTimeout)
	if err != nil {
		return notification.Config{}, err
	}
	return notification.Config{LowTimeout: d}, nil
}

// mapFusionConfig reports ok=false when no portal is configured.
func mapFusionConfig(cfg *config.Config) (fc fusion.Config, ok bool, err error) {
	dc := cfg.Directory
	if strings.TrimSpace(dc.BaseURL) == "" {
		return fusion.Config{}, false, nil
	}
	reqTimeout, err := config.ParseDurationOrDefault("directory.request_timeout", dc.RequestTimeout, 15*time.Second)
	if err != nil {
		return fusion.Config{}, false, err
	}
	scriptTimeout, err := config.ParseDurationOrDefault("directory.script_timeout", dc.ScriptTimeout, 10*time.Second)
	if err != nil {
		return fusion.Config{}, false, err
	}
	return fusion.Config{
		BaseURL:        dc.BaseURL,
		RequestTimeout: reqTimeout,
		RatePerSec:     dc.RatePerSec,
		Burst:          dc.Burst,
		RetryCount:     dc.RetryCount,
		ScriptTimeout:  scriptTimeout,
	}, true, nil
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, error) {
	if cfg == nil || cfg.Debug == nil {
		return debughttp.Config{}, nil
	}
	d := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	// profile and trace stream for 30s by default
	write, err := config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 60*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	return debughttp.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
	}, nil
}
