package refcache

import (
	"context"
	"sync"
)

// Collector fetches the entities associated with a batch of keys. Keys without
// entities may be left out of the returned map, they resolve to an empty list.
type Collector[TKey comparable, TValue any] interface {
	Collect(ctx context.Context, keys []TKey) (map[TKey][]TValue, error)
}

// CollectorFunc adapts a function to the Collector interface
type CollectorFunc[TKey comparable, TValue any] func(ctx context.Context, keys []TKey) (map[TKey][]TValue, error)

func (f CollectorFunc[TKey, TValue]) Collect(ctx context.Context, keys []TKey) (map[TKey][]TValue, error) {
	return f(ctx, keys)
}

// Handler is any function that takes a single key and returns its entities
type Handler[TKey comparable, TValue any] func(ctx context.Context, key TKey) ([]TValue, error)

// Convert a handler into a collector, each keys will be handled in parallel.
// The batch fails with the first error returned by the handler.
func Batchify[TKey comparable, TValue any](f Handler[TKey, TValue]) CollectorFunc[TKey, TValue] {
	return func(ctx context.Context, keys []TKey) (map[TKey][]TValue, error) {
		values := make([][]TValue, len(keys))
		errs := make([]error, len(keys))
		wg := sync.WaitGroup{}
		for i := range keys {
			wg.Add(1)
			capturedIndex := i
			go func() {
				defer wg.Done()
				values[capturedIndex], errs[capturedIndex] = f(ctx, keys[capturedIndex])
			}()
		}
		wg.Wait()

		result := make(map[TKey][]TValue, len(keys))
		for i, key := range keys {
			if errs[i] != nil {
				return nil, errs[i]
			}
			if len(values[i]) > 0 {
				result[key] = values[i]
			}
		}
		return result, nil
	}
}

// Return the zero value of the given generic type
func zero[T any]() T {
	var zero T
	return zero
}
