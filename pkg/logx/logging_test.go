package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	require.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	require.False(t, Nop().IsZero())
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Warn("hello", Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, "hello", m["message"])
	require.Equal(t, "test", m["comp"])
	require.Equal(t, float64(3), m["n"])
	require.Equal(t, "boom", m["err"])
	require.Equal(t, "warn", m["level"])
}

func TestWithDoesNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug")
	a := base.With(String("a", "1"))
	_ = a.With(String("b", "2"))
	a.Info("x")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, "1", m["a"])
	require.NotContains(t, m, "b")
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shell.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("below level")
	log.Info("written")
	require.False(t, log.Enabled(LevelDebug))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	require.True(t, log.Enabled(LevelDebug))
	log.Debug("now visible")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "written")
	require.Contains(t, string(b), "now visible")
	require.NotContains(t, string(b), "below level")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelWarn, parseLevel("warning", LevelInfo))
	require.Equal(t, LevelInfo, parseLevel("bogus", LevelInfo))
	require.Equal(t, LevelTrace, parseLevel(" trace ", LevelInfo))
}
