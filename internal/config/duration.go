package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional, non-negative duration. Empty is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Validate checks the fields that can be checked without side effects.
func (c *Config) Validate() error {
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "memory", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		check("storage.busy_timeout", c.Storage.BusyTimeout)
		if c.Storage.CompactEvery < 0 {
			errs = append(errs, errors.New("storage.compact_every: must be >= 0"))
		}
	}
	if c.Notifications != nil {
		check("notifications.low_timeout", c.Notifications.LowTimeout)
	}
	check("directory.request_timeout", c.Directory.RequestTimeout)
	check("directory.script_timeout", c.Directory.ScriptTimeout)
	if c.Directory.RatePerSec < 0 {
		errs = append(errs, errors.New("directory.rate_per_sec: must be >= 0"))
	}
	if c.Directory.RefreshSchedule != "" && strings.TrimSpace(c.Directory.BaseURL) == "" {
		errs = append(errs, errors.New("directory.refresh_schedule: requires directory.base_url"))
	}
	if c.Debug != nil {
		check("debug.read_timeout", c.Debug.ReadTimeout)
		check("debug.write_timeout", c.Debug.WriteTimeout)
	}
	return errors.Join(errs...)
}
