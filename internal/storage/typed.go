package storage

import "context"

// Typed provides type-safe access to a Store for a specific value type T.
type Typed[T any] struct {
	store  Store
	prefix string
}

// Scoped returns a Typed[T] that prefixes all keys with "namespace:".
func Scoped[T any](store Store, namespace string) *Typed[T] {
	return &Typed[T]{store: store, prefix: namespace + ":"}
}

// Get returns the decoded value, or the zero value and false when absent.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var v T
	ok, err := t.store.Get(ctx, t.prefix+key, &v)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

func (t *Typed[T]) Set(ctx context.Context, key string, value T) error {
	return t.store.Set(ctx, t.prefix+key, value)
}
