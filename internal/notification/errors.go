package notification

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate rejects a submission whose ID was already submitted (or is in flight).
	ErrDuplicate = errors.New("notification already submitted")
	// ErrNoPresenter means no presenter is registered for the request's level.
	ErrNoPresenter = errors.New("no presenter available")
	// ErrInvalidRequest reports a malformed request.
	ErrInvalidRequest = errors.New("invalid notification request")
	// ErrTimedOut is the cancellation cause seen by presenters when the timeout fires.
	ErrTimedOut = errors.New("notification timed out")
)

// PresenterError wraps a failure raised by a presenter while presenting.
type PresenterError struct {
	ID    string
	Level Level
	Err   error
}

func (e *PresenterError) Error() string {
	return fmt.Sprintf("presenter for %s notification %s failed: %v", e.Level, e.ID, e.Err)
}

func (e *PresenterError) Unwrap() error { return e.Err }
