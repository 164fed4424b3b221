package notification

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a notification. It routes the request to a
// presenter and decides the timeout policy.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	default:
		return false
	}
}

func (l Level) String() string { return string(l) }

// ParseLevel accepts the level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: unknown level %q", ErrInvalidRequest, s)
	}
	return l, nil
}

// Request asks the engine to present a notification.
//
// ID is the deduplication key: once a notification with a given ID has been
// submitted it is never presented again. Requests without an ID get a
// generated one and are therefore never deduplicated.
type Request struct {
	ID           string `json:"id,omitempty"`
	Level        Level  `json:"level"`
	Priority     Level  `json:"priority,omitempty"`
	Title        string `json:"title"`
	Body         string `json:"body,omitempty"`
	CancelLabel  string `json:"cancel_label,omitempty"`
	ConfirmLabel string `json:"confirm_label,omitempty"`
}

func (r Request) Validate() error {
	if !r.Level.Valid() {
		return fmt.Errorf("%w: level %q", ErrInvalidRequest, r.Level)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidRequest, r.Priority)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	return nil
}

// Response is what a presenter reports back. Producers are expected to set
// exactly one flag; Outcome resolves the ambiguous cases.
type Response struct {
	Dismissed bool `json:"dismissed"`
	Confirmed bool `json:"confirmed"`
	Cancelled bool `json:"cancelled"`
}

func Confirmed() Response { return Response{Confirmed: true} }
func Dismissed() Response { return Response{Dismissed: true} }
func Cancelled() Response { return Response{Cancelled: true} }

// Outcome is the single result a Response stands for.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDismissed Outcome = "dismissed"
	OutcomeCancelled Outcome = "cancelled"
)

// Outcome picks confirmed over dismissed over cancelled when several flags
// are set, and OutcomeNone when none are.
func (r Response) Outcome() Outcome {
	switch {
	case r.Confirmed:
		return OutcomeConfirmed
	case r.Dismissed:
		return OutcomeDismissed
	case r.Cancelled:
		return OutcomeCancelled
	default:
		return OutcomeNone
	}
}

// Record is the persisted history entry for one submission. It is written
// once when presented and once more when the response arrives.
type Record struct {
	ID          string     `json:"id"`
	Request     Request    `json:"request"`
	Response    *Response  `json:"response"`
	PresentedAt time.Time  `json:"presented_at"`
	RespondedAt *time.Time `json:"responded_at"`
	TimeoutMS   *int64     `json:"timeout_ms"`
}

// Timeout returns the timeout the record was presented with, if any.
func (r Record) Timeout() (time.Duration, bool) {
	if r.TimeoutMS == nil {
		return 0, false
	}
	return time.Duration(*r.TimeoutMS) * time.Millisecond, true
}

// Resolver delivers the user's response. Only the first call counts.
type Resolver func(Response)

// Presenter shows a request to the user and eventually calls resolve.
//
// ctx is the cancellation signal: it is cancelled when the notification's
// timeout fires (context.Cause(ctx) == ErrTimedOut) or the submission ends.
// A presenter that honours it should resolve with a cancelled-style response;
// the engine never synthesizes one.
//
// Returning an error fails the submission; no further events are emitted.
type Presenter func(ctx context.Context, req Request, resolve Resolver) error

// Event is the payload of every notification.* bus event.
type Event struct {
	ID      string  `json:"id"`
	Request Request `json:"request"`
	Outcome Outcome `json:"outcome,omitempty"`
}

const (
	EventPresented = "notification.presented"
	EventConfirmed = "notification.confirmed"
	EventDismissed = "notification.dismissed"
	EventCancelled = "notification.cancelled"
	EventFinished  = "notification.finished"
)

func outcomeEventType(o Outcome) string {
	switch o {
	case OutcomeConfirmed:
		return EventConfirmed
	case OutcomeDismissed:
		return EventDismissed
	case OutcomeCancelled:
		return EventCancelled
	default:
		return ""
	}
}
