// Package app wires the host shell together: config, logging, storage, the
// notification engine, the application directory and its portal client.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hostshell/internal/config"
	"hostshell/internal/directory"
	"hostshell/internal/eventbus"
	"hostshell/internal/fusion"
	"hostshell/internal/notification"
	"hostshell/internal/observability/debughttp"
	rtsup "hostshell/internal/runtime/supervisor"
	"hostshell/internal/storage"
	logx "hostshell/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif   *notification.Engine
	dir     *directory.Directory
	handle  *directory.Handle
	portal  *fusion.Client
	refresh *refresher
	debug   *debughttp.Service
}

// New loads the config at cfgPath and builds every component. Nothing runs
// in the background until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logs, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	ncfg, err := mapNotificationConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notification.New(ncfg, store, log.With(logx.String("comp", "notification")), bus)

	handle := directory.NewHandle(log.With(logx.String("comp", "registry")))
	var (
		portal *fusion.Client
		client directory.Client
	)
	if fc, ok, err := mapFusionConfig(cfg); err != nil {
		_ = store.Close()
		return nil, err
	} else if ok {
		portal, err = fusion.New(fc, handle, log.With(logx.String("comp", "fusion")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		client = portal
	} else {
		log.Info("no portal configured; directory runs offline")
	}
	dir := directory.New(client, log.With(logx.String("comp", "directory")), bus)
	if err := handle.Bind(dir); err != nil {
		_ = store.Close()
		return nil, err
	}

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logs,
		bus:    bus,
		store:  store,
		notif:  notif,
		dir:    dir,
		handle: handle,
		portal: portal,
	}
	a.debug = debughttp.New(dcfg, a.snapshot, log.With(logx.String("comp", "debug")),
		debughttp.WithHandler("POST /notify", a.handleNotify),
	)
	return a, nil
}

// Snapshot is the runtime state served by the debug endpoint.
type Snapshot struct {
	Notifications struct {
		History    int                  `json:"history"`
		Pending    int                  `json:"pending"`
		Presenters []notification.Level `json:"presenters"`
		LowTimeout string               `json:"low_timeout"`
	} `json:"notifications"`
	Directory struct {
		Online  bool     `json:"online"`
		Apps    []string `json:"apps"`
		Current string   `json:"current,omitempty"`
	} `json:"directory"`
	Goroutines []rtsup.Stats `json:"goroutines"`
	Error      string        `json:"error,omitempty"`
}

func (a *App) snapshot(ctx context.Context) any {
	var snap Snapshot
	if hist, err := a.notif.History(ctx); err != nil {
		snap.Error = err.Error()
	} else {
		snap.Notifications.History = len(hist)
		for _, r := range hist {
			if r.Response == nil {
				snap.Notifications.Pending++
			}
		}
	}
	snap.Notifications.Presenters = a.notif.Registry().Levels()
	if d, ok := a.notif.TimeoutFor(notification.LevelLow); ok {
		snap.Notifications.LowTimeout = d.String()
	}

	snap.Directory.Online = a.portal != nil
	for _, m := range a.dir.All() {
		snap.Directory.Apps = append(snap.Directory.Apps, m.Key)
	}
	if m, ok := a.dir.Current(); ok {
		snap.Directory.Current = m.Key
	}

	for _, sup := range []*rtsup.Supervisor{a.sup, a.dir.Supervisor()} {
		if sup != nil {
			snap.Goroutines = append(snap.Goroutines, sup.Snapshot()...)
		}
	}
	return snap
}

func (a *App) Notifications() *notification.Engine { return a.notif }
func (a *App) Directory() *directory.Directory      { return a.dir }
func (a *App) Handle() *directory.Handle            { return a.handle }
func (a *App) Bus() eventbus.Bus                    { return a.bus }
func (a *App) Logger() logx.Logger                  { return a.log }
func (a *App) Config() *config.Config               { return a.cfgm.Get() }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches background work: config watch and hot reload, event
// logging and the scheduled directory refresh.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotificationConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapFusionConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		return validateSchedule(cfg.Directory.RefreshSchedule)
	})

	cfg := a.cfgm.Get()
	fc, _, _ := mapFusionConfig(cfg)
	a.refresh = newRefresher(a.sup.Context(), a.dir, max(fc.RequestTimeout, 15*time.Second), a.log.With(logx.String("comp", "refresh")))
	if a.portal != nil {
		if err := a.refresh.Apply(cfg.Directory.RefreshSchedule); err != nil {
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type))
			}
		}
	})

	sub, unsubCfg := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubCfg()
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if err := a.debug.Start(a.sup.Context()); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(next))

	if ncfg, err := mapNotificationConfig(next); err != nil {
		a.log.Warn("invalid notifications config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "debug":
			dcfg, err := mapDebugConfig(next)
			if err != nil {
				a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
				continue
			}
			ctx, cancel := context.WithTimeout(a.sup.Context(), 5*time.Second)
			if err := a.debug.Reconfigure(ctx, dcfg); err != nil {
				a.log.Warn("debug server reconfigure failed", logx.Err(err))
			}
			cancel()
		case "directory":
			if strings.TrimSpace(prev.Directory.BaseURL) != strings.TrimSpace(next.Directory.BaseURL) {
				a.log.Warn("directory.base_url changed; restart required for changes to take effect")
			}
			if a.portal != nil {
				if err := a.refresh.Apply(next.Directory.RefreshSchedule); err != nil {
					a.log.Warn("invalid refresh schedule; keeping previous", logx.Err(err))
				}
			}
		}
	}

	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		if err := fn(sctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("refresh", 2*time.Second, func(c context.Context) error {
		if a.refresh != nil {
			a.refresh.Stop(c)
		}
		return nil
	})
	step("debug", 2*time.Second, func(c context.Context) error {
		a.debug.Stop(c)
		return nil
	})
	step("directory", 2*time.Second, a.dir.Close)
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		return a.sup.Wait(c)
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
