package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	logx "hostshell/pkg/logx"
)

type item struct {
	ID   string `json:"id"`
	Seen bool   `json:"seen"`
}

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	stores := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(dir, "file", "shell.db")},
		{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "shell.db")},
	} {
		st, err := Open(cfg, logx.Nop())
		require.NoError(t, err, cfg.Driver)
		t.Cleanup(func() { _ = st.Close() })
		stores[cfg.Driver] = st
	}
	return stores
}

func TestStoreGetSet(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			var got []item
			ok, err := st.Get(ctx, "missing", &got)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, st.Set(ctx, "items", []item{{ID: "a"}}))
			require.NoError(t, st.Set(ctx, "items", []item{{ID: "a", Seen: true}, {ID: "b"}}))

			ok, err = st.Get(ctx, "items", &got)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []item{{ID: "a", Seen: true}, {ID: "b"}}, got)
		})
	}
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Close())
			require.ErrorIs(t, st.Set(ctx, "k", 1), ErrClosed)
			var v int
			_, err := st.Get(ctx, "k", &v)
			require.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestStoreCloseWhileInUse(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 64)
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 16; j++ {
						if err := st.Set(ctx, "k", j); err != nil {
							errs <- err
							return
						}
						var v int
						if _, err := st.Get(ctx, "k", &v); err != nil {
							errs <- err
							return
						}
					}
				}()
			}
			require.NoError(t, st.Close())
			wg.Wait()
			close(errs)
			for err := range errs {
				require.True(t, errors.Is(err, ErrClosed), "unexpected error: %v", err)
			}
			require.ErrorIs(t, st.Set(ctx, "k", 1), ErrClosed)
		})
	}
}

func TestFileStoreSurvivesReopenAndCompaction(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "shell.db"), CompactEvery: 3}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, st.Set(ctx, "counter", i))
	}
	require.NoError(t, st.Set(ctx, "other", "x"))
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	var n int
	ok, err := st.Get(ctx, "counter", &n)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 6, n)

	var s string
	ok, err = st.Get(ctx, "other", &s)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "shell.sqlite")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "k", map[string]int{"a": 1}))
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	var m map[string]int
	ok, err := st.Get(ctx, "k", &m)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, m["a"])
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "etcd"}, logx.Logger{})
	require.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestScoped(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	a := Scoped[[]item](st, "a")
	b := Scoped[[]item](st, "b")

	require.NoError(t, a.Set(ctx, "list", []item{{ID: "1"}}))

	_, ok, err := b.Get(ctx, "list")
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err := a.Get(ctx, "list")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []item{{ID: "1"}}, got)

	var raw []item
	ok, err = st.Get(ctx, "a:list", &raw)
	require.NoError(t, err)
	require.True(t, ok)
}
