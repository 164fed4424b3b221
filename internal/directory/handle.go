package directory

import (
	"context"
	"sync"

	logx "hostshell/pkg/logx"
)

type registration struct {
	key       string
	component Component
}

// Handle lets application bundles register components before the directory
// exists. Registrations made before Bind are buffered and replayed in order.
type Handle struct {
	mu      sync.Mutex
	dir     *Directory
	pending []registration
	ready   chan struct{}
	log     logx.Logger
}

func NewHandle(log logx.Logger) *Handle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handle{ready: make(chan struct{}), log: log}
}

// RegisterApp records the component for key. It never blocks on the
// directory being available.
func (h *Handle) RegisterApp(key string, c Component) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dir == nil {
		h.pending = append(h.pending, registration{key: key, component: c})
		return
	}
	h.apply(h.dir, registration{key: key, component: c})
}

// Bind attaches the directory and replays buffered registrations.
func (h *Handle) Bind(d *Directory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dir != nil {
		return ErrAlreadyBound
	}
	h.dir = d
	for _, r := range h.pending {
		h.apply(d, r)
	}
	if n := len(h.pending); n > 0 {
		h.log.Debug("replayed deferred app registrations", logx.Int("count", n))
	}
	h.pending = nil
	close(h.ready)
	return nil
}

func (h *Handle) apply(d *Directory, r registration) {
	if err := d.UpdateManifest(r.key, Manifest{Component: r.component}); err != nil {
		h.log.Warn("app registration rejected", logx.String("app", r.key), logx.Err(err))
	}
}

// Wait returns the directory once bound.
func (h *Handle) Wait(ctx context.Context) (*Directory, error) {
	select {
	case <-h.ready:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.dir, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending reports how many registrations await Bind.
func (h *Handle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
