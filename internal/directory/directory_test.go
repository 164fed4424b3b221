package directory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"hostshell/internal/eventbus"
	logx "hostshell/pkg/logx"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu sync.Mutex

	manifests map[string]Manifest
	icons     map[string]Icon
	listed    []Manifest

	manifestErr error
	scriptErr   error
	iconErr     error

	// onScript registers components the way a bundle would.
	onScript func(key string)

	manifestCalls []string
	scriptCalls   []string
	iconCalls     []string
}

func (f *fakeClient) FetchManifest(ctx context.Context, key string) (Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifestCalls = append(f.manifestCalls, key)
	if f.manifestErr != nil {
		return Manifest{}, f.manifestErr
	}
	return f.manifests[key], nil
}

func (f *fakeClient) FetchIcon(ctx context.Context, key string) (Icon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.iconCalls = append(f.iconCalls, key)
	if f.iconErr != nil {
		return Icon{}, f.iconErr
	}
	return f.icons[key], nil
}

func (f *fakeClient) LoadScript(ctx context.Context, key string) error {
	f.mu.Lock()
	f.scriptCalls = append(f.scriptCalls, key)
	err, hook := f.scriptErr, f.onScript
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(key)
	}
	return nil
}

func (f *fakeClient) ListApps(ctx context.Context) ([]Manifest, error) {
	return f.listed, nil
}

func (f *fakeClient) calls() (manifests, scripts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.manifestCalls), len(f.scriptCalls)
}

type widget struct{ name string }

func newTestDirectory(t *testing.T, fc *fakeClient) (*Directory, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(128)
	d := New(fc, logx.Nop(), bus)
	t.Cleanup(func() {
		_ = d.Close(context.Background())
		unsub()
	})
	return d, ch
}

func collect(ch <-chan eventbus.Event, typ string) []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func TestActivateFetchesManifestThenScript(t *testing.T) {
	fc := &fakeClient{manifests: map[string]Manifest{"people": {Name: "People"}}}
	d, events := newTestDirectory(t, fc)
	fc.onScript = func(key string) {
		require.NoError(t, d.UpdateManifest(key, Manifest{Component: widget{key}}))
	}

	m, err := d.Activate(context.Background(), "people")
	require.NoError(t, err)
	require.Equal(t, "people", m.Key)
	require.Equal(t, "People", m.Name)
	require.Equal(t, widget{"people"}, m.Component)

	manifests, scripts := fc.calls()
	require.Equal(t, 1, manifests)
	require.Equal(t, 1, scripts)

	cur, ok := d.Current()
	require.True(t, ok)
	require.Equal(t, "people", cur.Key)

	changes := collect(events, EventChange)
	require.Len(t, changes, 1)
	require.Equal(t, "people", changes[0].Data.(*Manifest).Key)
}

func TestActivateReadyAppMakesNoCalls(t *testing.T) {
	fc := &fakeClient{}
	d, _ := newTestDirectory(t, fc)
	require.NoError(t, d.UpdateManifest("ready", Manifest{Component: widget{"ready"}}))

	_, err := d.Activate(context.Background(), "ready")
	require.NoError(t, err)
	manifests, scripts := fc.calls()
	require.Zero(t, manifests)
	require.Zero(t, scripts)
}

func TestActivateEmptyKeyClearsCurrent(t *testing.T) {
	fc := &fakeClient{}
	d, events := newTestDirectory(t, fc)
	require.NoError(t, d.UpdateManifest("a", Manifest{Component: widget{"a"}}))
	_, err := d.Activate(context.Background(), "a")
	require.NoError(t, err)
	collect(events, EventChange)

	for i := 0; i < 2; i++ {
		_, err = d.Activate(context.Background(), "")
		require.NoError(t, err)
	}
	_, ok := d.Current()
	require.False(t, ok)

	changes := collect(events, EventChange)
	require.Len(t, changes, 2)
	for _, ev := range changes {
		require.True(t, ev.Data == nil, "cleared change must carry untyped nil")
	}
}

func TestActivateScriptWithoutComponentFails(t *testing.T) {
	fc := &fakeClient{manifests: map[string]Manifest{"x": {Name: "X"}}}
	d, events := newTestDirectory(t, fc)

	_, err := d.Activate(context.Background(), "x")
	require.ErrorIs(t, err, ErrComponentUnavailable)
	manifests, scripts := fc.calls()
	require.Equal(t, 1, manifests)
	require.Equal(t, 1, scripts)
	require.Empty(t, collect(events, EventChange))
}

func TestActivatePropagatesCollaboratorErrors(t *testing.T) {
	down := errors.New("down")

	fc := &fakeClient{manifestErr: down}
	d, _ := newTestDirectory(t, fc)
	_, err := d.Activate(context.Background(), "x")
	var cerr *CollaboratorError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "fetch manifest", cerr.Op)
	require.ErrorIs(t, err, down)

	fc = &fakeClient{manifests: map[string]Manifest{"x": {}}, scriptErr: down}
	d, _ = newTestDirectory(t, fc)
	_, err = d.Activate(context.Background(), "x")
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "load script", cerr.Op)
	require.ErrorIs(t, err, down)
}

func TestUpdateManifestShallowMerge(t *testing.T) {
	fc := &fakeClient{}
	d, events := newTestDirectory(t, fc)

	require.NoError(t, d.UpdateManifest("app", Manifest{
		Name:    "App",
		Version: "1",
		Extra:   map[string]any{"owner": "ops", "tier": 1},
	}))
	require.NoError(t, d.UpdateManifest("app", Manifest{
		Key:     "ignored",
		Version: "2",
		Extra:   map[string]any{"tier": 2},
	}))

	all := d.All()
	require.Len(t, all, 1)
	m := all[0]
	require.Equal(t, "app", m.Key)
	require.Equal(t, "App", m.Name)
	require.Equal(t, "2", m.Version)
	require.Equal(t, map[string]any{"owner": "ops", "tier": 2}, m.Extra)

	updates := collect(events, EventUpdate)
	require.GreaterOrEqual(t, len(updates), 2)
	require.Len(t, updates[len(updates)-1].Data.([]Manifest), 1)

	require.ErrorIs(t, d.UpdateManifest(" ", Manifest{}), ErrInvalidKey)
}

func TestNewManifestFetchesIconInBackground(t *testing.T) {
	fc := &fakeClient{icons: map[string]Icon{"a": {ContentType: "image/png", Data: []byte{1, 2}}}}
	d, _ := newTestDirectory(t, fc)

	require.NoError(t, d.UpdateManifest("a", Manifest{Name: "A"}))
	require.NoError(t, d.UpdateManifest("a", Manifest{Name: "A2"}))

	require.Eventually(t, func() bool {
		m, ok := d.Get("a")
		return ok && m.Icon != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Close(context.Background()))
	fc.mu.Lock()
	require.Equal(t, []string{"a"}, fc.iconCalls)
	fc.mu.Unlock()

	m, _ := d.Get("a")
	require.Equal(t, "A2", m.Name)
	require.Equal(t, "image/png", m.Icon.ContentType)
}

func TestIconFailureIsSwallowed(t *testing.T) {
	fc := &fakeClient{iconErr: errors.New("no icon")}
	d, _ := newTestDirectory(t, fc)
	require.NoError(t, d.UpdateManifest("a", Manifest{Component: widget{"a"}}))

	_, err := d.Activate(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Supervisor().Err())
}

func TestRefreshMergesListedApps(t *testing.T) {
	fc := &fakeClient{listed: []Manifest{{Key: "a", Name: "A"}, {Key: "b", Name: "B"}, {Name: "nokey"}}}
	d, _ := newTestDirectory(t, fc)
	require.NoError(t, d.UpdateManifest("a", Manifest{Component: widget{"a"}}))

	all, err := d.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "A", all[0].Name)
	require.True(t, all[0].Ready())
	require.Equal(t, "b", all[1].Key)
}

func TestManifestJSONKeepsUnknownFields(t *testing.T) {
	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(`{"key":"a","name":"A","category":"hr","order":3}`), &m))
	require.Equal(t, "a", m.Key)
	require.Equal(t, map[string]any{"category": "hr", "order": float64(3)}, m.Extra)

	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"key":"a","name":"A","category":"hr","order":3}`, string(b))
}
