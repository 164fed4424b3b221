package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"hostshell/internal/directory"
	logx "hostshell/pkg/logx"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validateSchedule rejects specs the refresher could not run.
func validateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("directory.refresh_schedule: %w", err)
	}
	return nil
}

// refresher periodically pulls the application list into the directory.
type refresher struct {
	mu   sync.Mutex
	c    *cron.Cron
	spec string

	ctx     context.Context
	dir     *directory.Directory
	timeout time.Duration
	log     logx.Logger
}

func newRefresher(ctx context.Context, dir *directory.Directory, timeout time.Duration, log logx.Logger) *refresher {
	return &refresher{ctx: ctx, dir: dir, timeout: timeout, log: log}
}

// Apply (re)schedules the refresh job. An empty spec stops it.
func (r *refresher) Apply(spec string) error {
	spec = strings.TrimSpace(spec)
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec == r.spec && (r.c != nil || spec == "") {
		return nil
	}
	sched, err := scheduleParser.Parse(spec)
	if spec != "" && err != nil {
		return fmt.Errorf("directory.refresh_schedule: %w", err)
	}

	r.stopLocked()
	r.spec = spec
	if spec == "" {
		r.log.Info("directory refresh disabled")
		return nil
	}

	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.log})),
		cron.WithLogger(cronLogger{r.log}),
	)
	c.Schedule(sched, cron.FuncJob(r.run))
	c.Start()
	r.c = c
	r.log.Info("directory refresh scheduled", logx.String("spec", spec))
	return nil
}

func (r *refresher) run() {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	start := time.Now()
	apps, err := r.dir.Refresh(ctx)
	if err != nil {
		r.log.Warn("directory refresh failed", logx.Err(err))
		return
	}
	r.log.Debug("directory refreshed", logx.Int("apps", len(apps)), logx.Duration("took", time.Since(start)))
}

// Stop waits for a running refresh unless ctx ends first.
func (r *refresher) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.spec = ""
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *refresher) stopLocked() {
	if r.c != nil {
		<-r.c.Stop().Done()
		r.c = nil
	}
}

// cronLogger adapts logx to cron's logger interface.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
