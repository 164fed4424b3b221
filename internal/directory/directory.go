// Package directory tracks the known application manifests and the active
// application.
//
// Activation walks a small state machine per key: an unknown key has its
// manifest fetched, a manifest without a component has its script loaded,
// and a ready manifest becomes current. Each missing piece is fetched at
// most once per Activate call.
package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"hostshell/internal/eventbus"
	rtsup "hostshell/internal/runtime/supervisor"
	logx "hostshell/pkg/logx"
)

const (
	// EventUpdate carries the full manifest list ([]Manifest) after every cache mutation.
	EventUpdate = "directory.update"
	// EventChange carries the newly active manifest (*Manifest). Clearing the
	// current application publishes an untyped nil Data.
	EventChange = "directory.change"
)

// Client is the collaborator that knows where applications live.
type Client interface {
	FetchManifest(ctx context.Context, key string) (Manifest, error)
	FetchIcon(ctx context.Context, key string) (Icon, error)
	// LoadScript runs the application's bundle, which is expected to register
	// its component. Calling it again must be safe.
	LoadScript(ctx context.Context, key string) error
	ListApps(ctx context.Context) ([]Manifest, error)
}

// Directory is safe for concurrent use. Event subscribers may read from the
// directory but must not mutate it from the delivering goroutine.
type Directory struct {
	pubMu sync.Mutex // keeps event order equal to mutation order
	mu    sync.RWMutex

	apps    []Manifest
	current string

	client Client
	bus    eventbus.Bus
	log    logx.Logger
	sup    *rtsup.Supervisor
}

// New creates an empty directory. bus may be nil.
func New(client Client, log logx.Logger, bus eventbus.Bus) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{
		client: client,
		bus:    bus,
		log:    log,
		sup:    rtsup.New(context.Background(), rtsup.WithLogger(log)),
	}
}

// Close stops background icon fetches and waits for them.
func (d *Directory) Close(ctx context.Context) error {
	return d.sup.Stop(ctx)
}

// Supervisor exposes background work stats.
func (d *Directory) Supervisor() *rtsup.Supervisor { return d.sup }

func (d *Directory) Get(key string) (Manifest, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.indexLocked(key); i >= 0 {
		return d.apps[i].clone(), true
	}
	return Manifest{}, false
}

// All returns a copy of every manifest in first-seen order.
func (d *Directory) All() []Manifest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

// Current returns the active application, if any.
func (d *Directory) Current() (Manifest, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.current == "" {
		return Manifest{}, false
	}
	if i := d.indexLocked(d.current); i >= 0 {
		return d.apps[i].clone(), true
	}
	return Manifest{}, false
}

// UpdateManifest merges m into the cached manifest for key, or adds it.
// A manifest seen for the first time also gets its icon fetched in the
// background; failures there are only logged.
func (d *Directory) UpdateManifest(key string, m Manifest) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	m.Key = key

	d.pubMu.Lock()
	d.mu.Lock()
	i := d.indexLocked(key)
	added := i < 0
	if added {
		d.apps = append(d.apps, m.clone())
	} else {
		d.apps[i] = merge(d.apps[i], m)
	}
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(EventUpdate, snap)
	d.pubMu.Unlock()

	if added {
		d.fetchIcon(key)
	}
	return nil
}

func (d *Directory) fetchIcon(key string) {
	if d.client == nil || d.sup.Context().Err() != nil {
		return
	}
	d.sup.Go("directory.icon:"+key, func(ctx context.Context) error {
		icon, err := d.client.FetchIcon(ctx, key)
		if err != nil {
			d.log.Warn("icon fetch failed", logx.String("app", key), logx.Err(err))
			return nil
		}
		d.patchIcon(key, icon)
		return nil
	})
}

func (d *Directory) patchIcon(key string, icon Icon) {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()

	d.mu.Lock()
	i := d.indexLocked(key)
	if i < 0 {
		d.mu.Unlock()
		return
	}
	d.apps[i] = merge(d.apps[i], Manifest{Icon: &icon})
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(EventUpdate, snap)
}

// Activate makes key the current application, fetching its manifest and
// loading its script as needed. An empty key clears the current application.
func (d *Directory) Activate(ctx context.Context, key string) (Manifest, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		d.setCurrent("", nil)
		return Manifest{}, nil
	}

	fetched, loaded := false, false
	for {
		m, ok := d.Get(key)
		switch {
		case !ok:
			if fetched {
				return Manifest{}, fmt.Errorf("%w: %s", ErrManifestUnavailable, key)
			}
			fetched = true
			if d.client == nil {
				return Manifest{}, fmt.Errorf("%w: %s", ErrManifestUnavailable, key)
			}
			fm, err := d.client.FetchManifest(ctx, key)
			if err != nil {
				return Manifest{}, &CollaboratorError{Op: "fetch manifest", Key: key, Err: err}
			}
			if err := d.UpdateManifest(key, fm); err != nil {
				return Manifest{}, err
			}

		case !m.Ready():
			if loaded {
				return Manifest{}, fmt.Errorf("%w: %s", ErrComponentUnavailable, key)
			}
			loaded = true
			if d.client == nil {
				return Manifest{}, fmt.Errorf("%w: %s", ErrComponentUnavailable, key)
			}
			if err := d.client.LoadScript(ctx, key); err != nil {
				return Manifest{}, &CollaboratorError{Op: "load script", Key: key, Err: err}
			}

		default:
			d.setCurrent(key, &m)
			d.log.Debug("application activated", logx.String("app", key))
			return m, nil
		}
	}
}

func (d *Directory) setCurrent(key string, m *Manifest) {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	d.mu.Lock()
	d.current = key
	d.mu.Unlock()
	if m == nil {
		d.publish(EventChange, nil)
		return
	}
	d.publish(EventChange, m)
}

// Refresh merges the collaborator's full application list into the cache.
func (d *Directory) Refresh(ctx context.Context) ([]Manifest, error) {
	if d.client == nil {
		return d.All(), nil
	}
	list, err := d.client.ListApps(ctx)
	if err != nil {
		return nil, &CollaboratorError{Op: "list apps", Err: err}
	}
	for _, m := range list {
		if err := d.UpdateManifest(m.Key, m); err != nil {
			d.log.Warn("skipping listed app without key", logx.String("name", m.Name))
		}
	}
	return d.All(), nil
}

func (d *Directory) indexLocked(key string) int {
	for i := range d.apps {
		if d.apps[i].Key == key {
			return i
		}
	}
	return -1
}

func (d *Directory) snapshotLocked() []Manifest {
	out := make([]Manifest, len(d.apps))
	for i, m := range d.apps {
		out[i] = m.clone()
	}
	return out
}

func (d *Directory) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
