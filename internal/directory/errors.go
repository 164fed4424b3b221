package directory

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey = errors.New("application key is required")
	// ErrManifestUnavailable means the manifest was fetched but still is not cached.
	ErrManifestUnavailable = errors.New("application manifest unavailable")
	// ErrComponentUnavailable means the script was loaded but registered no component.
	ErrComponentUnavailable = errors.New("application component unavailable")
	ErrAlreadyBound         = errors.New("directory handle already bound")
)

// CollaboratorError wraps a failed manifest, icon, script or listing call.
type CollaboratorError struct {
	Op  string
	Key string
	Err error
}

func (e *CollaboratorError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
