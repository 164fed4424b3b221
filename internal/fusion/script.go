package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hostshell/internal/directory"
	logx "hostshell/pkg/logx"

	"github.com/dop251/goja"
)

var ErrScriptInterrupted = errors.New("fusion: script interrupted")

// ScriptRunner executes application bundles in a fresh goja VM.
//
// Bundles see a registerApp(key, component) global bound to the directory
// handle, and a console whose output goes to the logger. Nothing else from
// the host is exposed.
type ScriptRunner struct {
	handle  *directory.Handle
	timeout time.Duration
	log     logx.Logger
}

func NewScriptRunner(handle *directory.Handle, timeout time.Duration, log logx.Logger) *ScriptRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ScriptRunner{handle: handle, timeout: timeout, log: log}
}

// Run executes src on behalf of the application key.
func (r *ScriptRunner) Run(ctx context.Context, key, src string) error {
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	for _, name := range []string{"require", "process", "module", "exports"} {
		_ = vm.Set(name, goja.Undefined())
	}

	log := r.log.With(logx.String("app", key))
	console := vm.NewObject()
	_ = console.Set("log", consoleFunc(log.Info))
	_ = console.Set("info", consoleFunc(log.Info))
	_ = console.Set("warn", consoleFunc(log.Warn))
	_ = console.Set("error", consoleFunc(log.Error))
	_ = vm.Set("console", console)

	_ = vm.Set("registerApp", func(call goja.FunctionCall) goja.Value {
		appKey := strings.TrimSpace(call.Argument(0).String())
		comp := call.Argument(1)
		if appKey == "" || goja.IsUndefined(comp) || goja.IsNull(comp) {
			panic(vm.NewTypeError("registerApp(key, component): key and component are required"))
		}
		if r.handle == nil {
			panic(vm.NewGoError(errors.New("no directory to register with")))
		}
		r.handle.RegisterApp(appKey, comp.Export())
		return goja.Undefined()
	})

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ErrScriptInterrupted) })
	defer stop()

	if _, err := vm.RunScript(key+".js", src); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return fmt.Errorf("%w: %s: %v", ErrScriptInterrupted, key, context.Cause(ctx))
		}
		return fmt.Errorf("run script %s: %w", key, err)
	}
	return nil
}

func consoleFunc(emit func(string, ...logx.Field)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		emit(strings.Join(parts, " "), logx.String("source", "script"))
		return goja.Undefined()
	}
}
