package refcache

import (
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultIdentifier   = "refcache"
	DefaultMaxBatch     = 15
	DefaultBatchWait    = 200 * time.Millisecond
	DefaultMaxAttempts  = 10
	DefaultAttemptDelay = 300 * time.Millisecond
)

// Configuration for the batch dispatcher
type BatcherConfig struct {
	// Wait is the pause after every batch before the next one is sent
	Wait time.Duration

	// MaxBatch limits the number of keys sent to the collector in one call
	MaxBatch int

	// Timeout bounds a single collector call, 0 = no limit
	Timeout time.Duration
}

// Configuration for the callers waiting on a resolution
type WaiterConfig struct {
	// MaxAttempts is the number of checks a caller makes before giving up on missing keys
	MaxAttempts int

	// AttemptDelay is the time between two checks
	AttemptDelay time.Duration
}

// Configuration for a resolver
type Config[TKey comparable, TValue any] struct {
	// Identifier for this resolver, used for logging and metrics
	Identifier string

	// Collector fetches the entities of a batch of keys
	Collector Collector[TKey, TValue]

	// Batcher configures the batch size and pace
	Batcher BatcherConfig

	// Waiter configures how long callers wait for their keys
	Waiter WaiterConfig

	// Shared layers consulted before the collector, executed from the first to the last
	Layers []Layer[TKey, TValue]

	// ValidKey filters the keys given to Resolve, by default the zero key is dropped
	ValidKey func(key TKey) bool

	// Array of extensions to be used
	Extensions []Extension
}

// Validate checks the configuration and fills the defaults for the unset values
func (c *Config[TKey, TValue]) Validate() error {
	if c.Collector == nil {
		return ErrNoCollector
	}
	if c.Batcher.MaxBatch < 0 {
		return errors.Wrapf(ErrInvalidConfig, "negative max batch %d", c.Batcher.MaxBatch)
	}
	if c.Batcher.Wait < 0 || c.Batcher.Timeout < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative batcher duration")
	}
	if c.Waiter.MaxAttempts < 0 {
		return errors.Wrapf(ErrInvalidConfig, "negative max attempts %d", c.Waiter.MaxAttempts)
	}
	if c.Waiter.AttemptDelay < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative attempt delay")
	}

	if c.Identifier == "" {
		c.Identifier = DefaultIdentifier
	}
	if c.Batcher.MaxBatch == 0 {
		c.Batcher.MaxBatch = DefaultMaxBatch
	}
	if c.Batcher.Wait == 0 {
		c.Batcher.Wait = DefaultBatchWait
	}
	if c.Waiter.MaxAttempts == 0 {
		c.Waiter.MaxAttempts = DefaultMaxAttempts
	}
	if c.Waiter.AttemptDelay == 0 {
		c.Waiter.AttemptDelay = DefaultAttemptDelay
	}
	if c.ValidKey == nil {
		c.ValidKey = notZero[TKey]
	}
	for i, layer := range c.Layers {
		if layer == nil {
			return errors.Wrapf(ErrInvalidConfig, "layer %d is nil", i)
		}
	}
	return nil
}

func notZero[TKey comparable](key TKey) bool {
	return key != zero[TKey]()
}
