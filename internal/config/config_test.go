package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "hostshell/pkg/logx"

	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "sqlite", "path": "./hostshell.db", "busy_timeout": "2s"},
  "notifications": {"low_timeout": "4s"},
  "directory": {"base_url": "http://portal.local", "rate_per_sec": 5, "refresh_schedule": "@every 5m"}
}`

const sampleYAML = `
logging:
  level: info
  console: true
storage:
  driver: file
  path: ./state/hostshell
notifications:
  low_timeout: 2500ms
directory:
  base_url: http://portal.local
  request_timeout: 5s
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", sampleJSON), logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, "4s", cfg.Notifications.LowTimeout)
	require.Equal(t, 5.0, cfg.Directory.RatePerSec)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := NewManager(writeFile(t, "config.yaml", sampleYAML), logx.Nop()).Load()
	require.NoError(t, err)
	require.Equal(t, "file", cfg.Storage.Driver)

	d, err := ParseDurationOrDefault("notifications.low_timeout", cfg.Notifications.LowTimeout, time.Second)
	require.NoError(t, err)
	require.Equal(t, 2500*time.Millisecond, d)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown field":  `{"logging": {"level": "info"}, "telegram": {}}`,
		"trailing data":  `{} {}`,
		"bad duration":   `{"notifications": {"low_timeout": "soon"}}`,
		"unknown driver": `{"storage": {"driver": "redis"}}`,
		"orphan cron":    `{"directory": {"refresh_schedule": "@hourly"}}`,
		"debug timeout":  `{"debug": {"enabled": true, "read_timeout": "-2s"}}`,
	}
	for name, body := range cases {
		_, err := Decode("config.json", []byte(body))
		require.Error(t, err, name)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	require.Error(t, err)
}

func TestSubscribeKeepsNewest(t *testing.T) {
	m := NewManager("unused.json", logx.Nop())
	ch, unsub := m.Subscribe(1)

	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	require.Same(t, b, <-ch)

	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
}

func TestSetLoggerKeepsLoadedState(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", sampleJSON), logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)

	var buf bytes.Buffer
	m.SetLogger(logx.NewWriter(&buf, "debug"))
	require.Same(t, cfg, m.Get())

	ch, unsub := m.Subscribe(1)
	defer unsub()
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("unchanged file republished")
	default:
	}
	require.Contains(t, buf.String(), "config unchanged")
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.json", sampleJSON)
	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	var validated bool
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		validated = true
		return nil
	})
	ch, unsub := m.Subscribe(4)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"notifications": {"low_timeout": "1s"}}`), 0o600))

	select {
	case cfg := <-ch:
		require.Equal(t, "1s", cfg.Notifications.LowTimeout)
		require.True(t, validated)
		require.Same(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestSummarizeChange(t *testing.T) {
	old := &Config{Logging: LoggingConfig{Level: "info"}}
	next := &Config{
		Logging:       LoggingConfig{Level: "debug"},
		Notifications: &NotificationsConfig{LowTimeout: "2s"},
	}
	changed, fields := SummarizeChange(old, next)
	require.Equal(t, []string{"logging", "notifications"}, changed)
	require.NotEmpty(t, fields)

	changed, _ = SummarizeChange(next, next)
	require.Empty(t, changed)

	withDebug := *next
	withDebug.Debug = &DebugConfig{Enabled: true, Pprof: true}
	changed, _ = SummarizeChange(next, &withDebug)
	require.Equal(t, []string{"debug"}, changed)
}
