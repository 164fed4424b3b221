// Package console is a notification presenter for terminals.
//
// It prints the notification and reads the answer from a line-oriented
// reader: "y"/"yes" or the confirm label confirms, "n"/"no" or the cancel
// label cancels, anything else dismisses. Prompts take answer lines in the
// order they were shown. Low-level notifications print no prompt and never
// read input. When the notification's context ends first (timeout or
// shutdown) it resolves as cancelled.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"hostshell/internal/notification"
	logx "hostshell/pkg/logx"
)

type Presenter struct {
	mu  sync.Mutex // serializes output
	out io.Writer

	answers <-chan string
	// turn is closed once the previous prompt is done with the input.
	turn chan struct{}
	log  logx.Logger
}

// New prints to out and reads answers from in. With a nil in every
// notification is dismissed right after printing.
func New(out io.Writer, in io.Reader, log logx.Logger) *Presenter {
	if log.IsZero() {
		log = logx.Nop()
	}
	turn := make(chan struct{})
	close(turn)
	p := &Presenter{out: out, log: log, turn: turn}
	if in != nil {
		ch := make(chan string)
		go readLines(in, ch)
		p.answers = ch
	}
	return p
}

func readLines(in io.Reader, ch chan<- string) {
	defer close(ch)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		ch <- sc.Text()
	}
}

// Present implements notification.Presenter.
func (p *Presenter) Present(ctx context.Context, req notification.Request, resolve notification.Resolver) error {
	if err := p.render(req); err != nil {
		return err
	}
	if p.answers == nil {
		resolve(notification.Dismissed())
		return nil
	}

	if req.Level == notification.LevelLow {
		go func() {
			<-ctx.Done()
			resolve(notification.Cancelled())
		}()
		return nil
	}

	p.mu.Lock()
	prev, next := p.turn, make(chan struct{})
	p.turn = next
	p.mu.Unlock()

	go func() {
		defer close(next)
		select {
		case <-prev:
		case <-ctx.Done():
			p.withdraw(ctx, req, resolve)
			<-prev
			return
		}
		select {
		case line, ok := <-p.answers:
			if !ok {
				resolve(notification.Dismissed())
				return
			}
			resolve(Parse(line, req))
		case <-ctx.Done():
			p.withdraw(ctx, req, resolve)
		}
	}()
	return nil
}

func (p *Presenter) withdraw(ctx context.Context, req notification.Request, resolve notification.Resolver) {
	p.log.Debug("notification withdrawn", logx.String("id", req.ID), logx.Err(context.Cause(ctx)))
	resolve(notification.Cancelled())
}

func (p *Presenter) render(req notification.Request) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(req.Level.String()), req.Title)
	if req.Body != "" {
		fmt.Fprintf(&b, "  %s\n", req.Body)
	}
	if req.Level != notification.LevelLow {
		fmt.Fprintf(&b, "  %s / %s? ", label(req.ConfirmLabel, "yes"), label(req.CancelLabel, "no"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.out, b.String()); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Parse maps an answer line to a response.
func Parse(line string, req notification.Request) notification.Response {
	ans := strings.ToLower(strings.TrimSpace(line))
	switch {
	case ans == "":
		return notification.Dismissed()
	case ans == "y" || ans == "yes" || (req.ConfirmLabel != "" && ans == strings.ToLower(req.ConfirmLabel)):
		return notification.Confirmed()
	case ans == "n" || ans == "no" || (req.CancelLabel != "" && ans == strings.ToLower(req.CancelLabel)):
		return notification.Cancelled()
	default:
		return notification.Dismissed()
	}
}

func label(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
