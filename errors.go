package refcache

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoCollector is returned by New when the configuration has no collector
	ErrNoCollector = errors.New("refcache: no collector configured")

	// ErrInvalidConfig is the cause of every configuration validation failure
	ErrInvalidConfig = errors.New("refcache: invalid config")
)

// Indicates that the given key is not stored in a layer
type ErrNotFound[TKey any] struct {
	key TKey
}

func (m ErrNotFound[TKey]) Error() string {
	return fmt.Sprintf("not found: (%v)", m.key)
}

// Key returns the key that could not be found
func (m ErrNotFound[TKey]) Key() TKey {
	return m.key
}

func NewErrNotFound[TKey any](key TKey) ErrNotFound[TKey] {
	return ErrNotFound[TKey]{
		key: key,
	}
}

// IsNotFound reports whether err marks a missing key
func IsNotFound[TKey any](err error) bool {
	_, ok := errors.Cause(err).(ErrNotFound[TKey])
	return ok
}

// CollectError is a collector failure for one batch. The keys of the batch are
// not written to the cache.
type CollectError[TKey any] struct {
	Keys []TKey
	err  error
}

func newCollectError[TKey any](keys []TKey, err error) *CollectError[TKey] {
	return &CollectError[TKey]{
		Keys: keys,
		err:  errors.Wrapf(err, "collect batch of %d keys", len(keys)),
	}
}

func (e *CollectError[TKey]) Error() string {
	return e.err.Error()
}

// Cause returns the error returned by the collector
func (e *CollectError[TKey]) Cause() error {
	return errors.Cause(e.err)
}

func (e *CollectError[TKey]) Unwrap() error {
	return e.err
}
