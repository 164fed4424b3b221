package debughttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	logx "hostshell/pkg/logx"

	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestServesStateAndHealth(t *testing.T) {
	state := func(ctx context.Context) any { return map[string]int{"apps": 2} }
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, state, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	base := "http://" + s.Addr()
	code, body := get(t, base+"/healthz", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	code, body = get(t, base+"/debug/state", "")
	require.Equal(t, http.StatusOK, code)
	var got map[string]int
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Equal(t, 2, got["apps"])

	// pprof is off unless asked for
	code, _ = get(t, base+"/debug/pprof/", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestTokenRequired(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret", Pprof: true}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	base := "http://" + s.Addr()
	code, _ := get(t, base+"/healthz", "")
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, base+"/healthz", "wrong")
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, base+"/healthz", "s3cret")
	require.Equal(t, http.StatusOK, code)
	code, _ = get(t, base+"/debug/pprof/?token=s3cret", "")
	require.Equal(t, http.StatusOK, code)
}

func TestRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	require.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)
	require.Empty(t, s.Addr())
}

func TestReconfigure(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Start(ctx))
	require.Empty(t, s.Addr(), "disabled server must not bind")

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	first := s.Addr()
	require.NotEmpty(t, first)

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	require.Equal(t, first, s.Addr(), "unchanged config keeps the listener")

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true}))
	code, _ := get(t, "http://"+s.Addr()+"/debug/pprof/", "")
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, s.Reconfigure(ctx, Config{}))
	require.Empty(t, s.Addr())
	require.Nil(t, s.Supervisor())
}

func TestIsLoopbackAddr(t *testing.T) {
	require.True(t, isLoopbackAddr("127.0.0.1:6060"))
	require.True(t, isLoopbackAddr("localhost:6060"))
	require.True(t, isLoopbackAddr("[::1]:6060"))
	require.False(t, isLoopbackAddr(":6060"))
	require.False(t, isLoopbackAddr("10.0.0.1:6060"))
	require.False(t, isLoopbackAddr("garbage"))
}

func TestExtraHandlerBehindToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, nil, logx.Nop(),
		WithHandler("POST /echo", func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			_, _ = w.Write(b)
		}),
	)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	post := func(token string) (int, string) {
		req, err := http.NewRequest(http.MethodPost, "http://"+s.Addr()+"/echo", strings.NewReader("hi"))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, _ := post("")
	require.Equal(t, http.StatusUnauthorized, code)
	code, body := post("s3cret")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "hi", body)

	code, _ = get(t, "http://"+s.Addr()+"/echo", "s3cret")
	require.Equal(t, http.StatusMethodNotAllowed, code)
}
