package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hostshell/internal/app"
	"hostshell/internal/notification"
	"hostshell/internal/presenter/console"
	logx "hostshell/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

const usage = `usage: hostshell [-config path] <command> [args]

commands:
  serve                      run the shell and present notifications on the terminal (default);
                             submit with POST /notify on the debug endpoint when debug is enabled
  notify [flags] <title>     submit one notification and print its outcome
  activate <key>             activate an application and print its manifest
  apps                       refresh and list the application directory
  history                    print the notification history
`

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	run := map[string]func(context.Context, *app.App, []string) error{
		"notify":   runNotify,
		"activate": runActivate,
		"apps":     runApps,
		"history":  runHistory,
	}

	var (
		reason = app.StopCommand
		runErr error
	)
	if cmd == "serve" {
		reason, runErr = serve(a, sig)
	} else if fn, ok := run[cmd]; ok {
		cctx, ccancel := context.WithCancel(ctx)
		interrupted := make(chan app.StopReason, 1)
		go func() {
			select {
			case s := <-sig:
				interrupted <- stopReason(s)
				ccancel()
			case <-cctx.Done():
			}
		}()
		runErr = fn(cctx, a, args)
		ccancel()
		select {
		case reason = <-interrupted:
		default:
		}
	} else {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		runErr = fmt.Errorf("unknown command %q", cmd)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "error:", runErr)
		os.Exit(1)
	}
}

func serve(a *app.App, sig <-chan os.Signal) (app.StopReason, error) {
	p := console.New(os.Stdout, os.Stdin, a.Logger().With(logx.String("comp", "console")))
	for _, l := range []notification.Level{notification.LevelLow, notification.LevelMedium, notification.LevelHigh} {
		a.Notifications().RegisterPresenter(l, p.Present)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.Logger().Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.Logger().Debug("sd_notify ready sent")
	}
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	select {
	case s := <-sig:
		return stopReason(s), nil
	case <-a.Done():
		return app.StopFatalError, a.Err()
	}
}

func runNotify(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	var (
		id      = fs.String("id", "", "notification id (generated when empty)")
		level   = fs.String("level", "medium", "low, medium or high")
		prio    = fs.String("priority", "", "priority hint for the presenter (a level)")
		body    = fs.String("body", "", "notification body")
		confirm = fs.String("confirm", "", "confirm button label")
		cancel  = fs.String("cancel", "", "cancel button label")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("notify: title is required")
	}
	lvl, err := notification.ParseLevel(*level)
	if err != nil {
		return err
	}
	var priority notification.Level
	if *prio != "" {
		if priority, err = notification.ParseLevel(*prio); err != nil {
			return err
		}
	}

	p := console.New(os.Stdout, os.Stdin, a.Logger().With(logx.String("comp", "console")))
	a.Notifications().RegisterPresenter(lvl, p.Present)

	resp, err := a.Notifications().Submit(ctx, notification.Request{
		ID:           *id,
		Level:        lvl,
		Priority:     priority,
		Title:        fs.Arg(0),
		Body:         *body,
		ConfirmLabel: *confirm,
		CancelLabel:  *cancel,
	})
	if err != nil {
		return err
	}
	outcome := resp.Outcome()
	if outcome == notification.OutcomeNone {
		outcome = "none"
	}
	fmt.Println(outcome)
	return nil
}

func runActivate(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("activate: exactly one key is required")
	}
	m, err := a.Directory().Activate(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(m)
}

func runApps(ctx context.Context, a *app.App, _ []string) error {
	apps, err := a.Directory().Refresh(ctx)
	if err != nil {
		return err
	}
	return printJSON(apps)
}

func runHistory(ctx context.Context, a *app.App, _ []string) error {
	hist, err := a.Notifications().History(ctx)
	if err != nil {
		return err
	}
	return printJSON(hist)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stopReason(s os.Signal) app.StopReason {
	switch s {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
