package config

import (
	"reflect"
	"strings"

	logx "hostshell/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log-safe fields describing the new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		fields  []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		// storage is opened once at startup
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.restart_required", true),
		)
	}

	oN, nN := derefNotifications(oldCfg.Notifications), derefNotifications(newCfg.Notifications)
	if oN != nN {
		changed = append(changed, "notifications")
		fields = append(fields, logx.String("notifications.low_timeout", strings.TrimSpace(nN.LowTimeout)))
	}

	if oldCfg.Directory != newCfg.Directory {
		changed = append(changed, "directory")
		fields = append(fields,
			logx.Bool("directory.online", strings.TrimSpace(newCfg.Directory.BaseURL) != ""),
			logx.String("directory.refresh_schedule", newCfg.Directory.RefreshSchedule),
		)
	}

	oD, nD := derefDebug(oldCfg.Debug), derefDebug(newCfg.Debug)
	if oD != nD {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", nD.Addr),
			logx.Bool("debug.token_set", nD.Token != ""),
			logx.Bool("debug.pprof", nD.Pprof),
		)
	}

	return changed, fields
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefNotifications(n *NotificationsConfig) NotificationsConfig {
	if n == nil {
		return NotificationsConfig{}
	}
	return *n
}

func derefDebug(d *DebugConfig) DebugConfig {
	if d == nil {
		return DebugConfig{}
	}
	return *d
}
