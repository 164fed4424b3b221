package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map (default when Driver is empty)
//   - "file":   JSON snapshot + journal next to Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal writes between compactions
}

// Store is the key/value contract used by the notification engine.
//
// Get decodes the stored JSON value into dest and reports whether the key exists.
// Set replaces the value for key (last write wins).
type Store interface {
	Get(ctx context.Context, key string, dest any) (found bool, err error)
	Set(ctx context.Context, key string, value any) error
	Close() error
}
