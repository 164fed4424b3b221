package notification

import (
	"sync"
	"sync/atomic"

	"hostshell/internal/state"
	logx "hostshell/pkg/logx"
)

// Registration binds a presenter to a level.
type Registration struct {
	Level   Level
	Present Presenter

	seq uint64
}

// Registry holds the registered presenters in registration order.
//
// Several presenters may share a level; lookups return the first one, so
// later registrations for that level stay unreachable until the earlier ones
// are removed. Such shadowing is logged.
type Registry struct {
	regs *state.Cell[[]Registration]
	seq  atomic.Uint64
	log  logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		regs: state.NewCell[[]Registration]("notification.presenters", nil),
		log:  log,
	}
}

// Register adds a presenter for level and returns a func removing exactly
// this registration. The returned func is idempotent.
func (r *Registry) Register(level Level, present Presenter) (unregister func()) {
	reg := Registration{Level: level, Present: present, seq: r.seq.Add(1)}

	shadowed := false
	r.regs.Update(func(cur []Registration) []Registration {
		for _, x := range cur {
			if x.Level == level {
				shadowed = true
				break
			}
		}
		next := make([]Registration, 0, len(cur)+1)
		next = append(next, cur...)
		return append(next, reg)
	})
	if shadowed {
		r.log.Warn("presenter shadowed by an earlier registration", logx.String("level", level.String()))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.regs.Update(func(cur []Registration) []Registration {
				next := make([]Registration, 0, len(cur))
				for _, x := range cur {
					if x.seq != reg.seq {
						next = append(next, x)
					}
				}
				return next
			})
		})
	}
}

// FindFor returns the first registration for level.
func (r *Registry) FindFor(level Level) (Registration, bool) {
	for _, reg := range r.regs.Load() {
		if reg.Level == level {
			return reg, true
		}
	}
	return Registration{}, false
}

func (r *Registry) Len() int { return len(r.regs.Load()) }

// Levels lists the level of each registration in order.
func (r *Registry) Levels() []Level {
	regs := r.regs.Load()
	out := make([]Level, len(regs))
	for i, reg := range regs {
		out[i] = reg.Level
	}
	return out
}
