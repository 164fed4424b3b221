package notification

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"hostshell/internal/eventbus"
	"hostshell/internal/storage"
	logx "hostshell/pkg/logx"

	"github.com/google/uuid"
)

const (
	// HistoryNamespace and HistoryKey locate the persisted history list.
	HistoryNamespace = "notification_center"
	HistoryKey       = "notifications"

	DefaultLowTimeout = 4000 * time.Millisecond
)

type Config struct {
	// LowTimeout bounds how long a low-level notification stays up before
	// its presenter is told to cancel. Zero means DefaultLowTimeout.
	LowTimeout time.Duration
}

// Engine delivers notifications: dedup against persisted history, route to
// a presenter by level, guard with a timeout, and emit lifecycle events.
//
// It is safe for concurrent use.
type Engine struct {
	mu sync.Mutex // guards cfg, inflight and history read-modify-write

	log      logx.Logger
	bus      eventbus.Bus
	history  *storage.Typed[[]Record]
	registry *Registry

	cfg      Config
	inflight map[string]struct{}

	now   func() time.Time
	newID func() string
}

// New builds an engine persisting into store. bus may be nil.
func New(cfg Config, store storage.Store, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if store == nil {
		log.Warn("notification history has no store; using memory")
		store = storage.NewMemory()
	}
	e := &Engine{
		log:      log,
		bus:      bus,
		history:  storage.Scoped[[]Record](store, HistoryNamespace),
		registry: NewRegistry(log),
		inflight: map[string]struct{}{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	e.applyLocked(cfg)
	return e
}

func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.applyLocked(cfg)
	e.mu.Unlock()
}

func (e *Engine) applyLocked(cfg Config) {
	if cfg.LowTimeout <= 0 {
		cfg.LowTimeout = DefaultLowTimeout
	}
	e.cfg = cfg
}

// TimeoutFor returns the timeout for a level; ok is false when notifications
// of that level wait indefinitely.
func (e *Engine) TimeoutFor(level Level) (d time.Duration, ok bool) {
	if level != LevelLow {
		return 0, false
	}
	e.mu.Lock()
	d = e.cfg.LowTimeout
	e.mu.Unlock()
	return d, true
}

func (e *Engine) Registry() *Registry { return e.registry }

// RegisterPresenter adds a presenter for level. See Registry.Register.
func (e *Engine) RegisterPresenter(level Level, p Presenter) (unregister func()) {
	return e.registry.Register(level, p)
}

// History returns every persisted record in submission order.
func (e *Engine) History(ctx context.Context) ([]Record, error) {
	recs, _, err := e.history.Get(ctx, HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("load notification history: %w", err)
	}
	return recs, nil
}

// Submit presents req and blocks until the presenter resolves it.
//
// Errors: ErrInvalidRequest, ErrDuplicate (no side effects), ErrNoPresenter,
// *PresenterError, ctx.Err() when the caller gives up, and storage failures.
func (e *Engine) Submit(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	rec, err := e.admit(ctx, req)
	if err != nil {
		return Response{}, err
	}
	defer e.release(rec.ID)
	req = rec.Request

	reg, ok := e.registry.FindFor(req.Level)
	if !ok {
		return Response{}, fmt.Errorf("%w for level %s", ErrNoPresenter, req.Level)
	}

	pctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var timer *time.Timer
	if d, ok := rec.Timeout(); ok {
		timer = time.AfterFunc(d, func() { cancel(ErrTimedOut) })
		defer timer.Stop()
	}

	respCh := make(chan Response, 1)
	var once sync.Once
	resolve := func(r Response) {
		once.Do(func() { respCh <- r })
	}

	if err := invoke(pctx, reg.Present, req, resolve); err != nil {
		e.log.Warn("presenter failed",
			logx.String("id", rec.ID),
			logx.String("level", req.Level.String()),
			logx.Err(err),
		)
		return Response{}, &PresenterError{ID: rec.ID, Level: req.Level, Err: err}
	}
	e.publish(EventPresented, Event{ID: rec.ID, Request: req})

	var resp Response
	select {
	case resp = <-respCh:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	if timer != nil {
		timer.Stop()
	}

	if err := e.complete(ctx, rec, resp); err != nil {
		return resp, err
	}

	outcome := resp.Outcome()
	if typ := outcomeEventType(outcome); typ != "" {
		e.publish(typ, Event{ID: rec.ID, Request: req, Outcome: outcome})
	}
	e.publish(EventFinished, Event{ID: rec.ID, Request: req, Outcome: outcome})
	return resp, nil
}

// admit runs the dedup check and persists the pending record as one step
// with respect to other submissions.
func (e *Engine) admit(ctx context.Context, req Request) (Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ID != "" {
		if _, busy := e.inflight[req.ID]; busy {
			e.log.Debug("duplicate notification suppressed", logx.String("id", req.ID), logx.Bool("in_flight", true))
			return Record{}, ErrDuplicate
		}
	}

	recs, _, err := e.history.Get(ctx, HistoryKey)
	if err != nil {
		return Record{}, fmt.Errorf("load notification history: %w", err)
	}

	if req.ID != "" {
		for _, r := range recs {
			if r.ID == req.ID {
				e.log.Debug("duplicate notification suppressed", logx.String("id", req.ID))
				return Record{}, ErrDuplicate
			}
		}
	} else {
		req.ID = e.newID()
	}

	rec := Record{
		ID:          req.ID,
		Request:     req,
		PresentedAt: e.now(),
	}
	if req.Level == LevelLow {
		ms := e.cfg.LowTimeout.Milliseconds()
		rec.TimeoutMS = &ms
	}

	next := make([]Record, 0, len(recs)+1)
	next = append(next, recs...)
	next = append(next, rec)
	if err := e.history.Set(ctx, HistoryKey, next); err != nil {
		return Record{}, fmt.Errorf("persist pending notification %s: %w", rec.ID, err)
	}

	e.inflight[rec.ID] = struct{}{}
	return rec, nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

// complete stores the response on the pending record.
func (e *Engine) complete(ctx context.Context, rec Record, resp Response) error {
	id := rec.ID

	e.mu.Lock()
	defer e.mu.Unlock()

	recs, _, err := e.history.Get(ctx, HistoryKey)
	if err != nil {
		return fmt.Errorf("load notification history: %w", err)
	}

	at := e.now()
	r := resp
	found := false
	for i := range recs {
		if recs[i].ID == id {
			recs[i].Response = &r
			recs[i].RespondedAt = &at
			found = true
			break
		}
	}
	if !found {
		// store was reset while the notification was up
		e.log.Warn("pending notification missing from history", logx.String("id", id))
		rec.Response, rec.RespondedAt = &r, &at
		recs = append(recs, rec)
	}

	if err := e.history.Set(ctx, HistoryKey, recs); err != nil {
		return fmt.Errorf("persist notification %s: %w", id, err)
	}
	return nil
}

func (e *Engine) publish(typ string, ev Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: ev})
}

func invoke(ctx context.Context, p Presenter, req Request, resolve Resolver) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p(ctx, req, resolve)
}
