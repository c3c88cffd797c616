package refcache

import (
	"context"
	"time"
)

// Resolve returns the entities of every valid key. Keys that are not cached are
// registered for the next batches and the caller waits for them, checking at most
// MaxAttempts times with AttemptDelay in between and waking early whenever the cache
// is written. Keys still missing once the attempts are exhausted resolve to an empty
// list, which is also cached.
//
// Collector failures never surface here. The only error is the context error when
// ctx is done before the keys are resolved, in that case the returned map still
// holds every key, with empty lists for the missing ones, and nothing is cached.
func (r *Resolver[TKey, TValue]) Resolve(ctx context.Context, keys []TKey) (map[TKey][]TValue, error) {
	keys = r.normalize(keys)
	if len(keys) == 0 {
		return map[TKey][]TValue{}, nil
	}

	traceID := r.getTraceID()

	r.mu.Lock()
	stats := r.request(keys)
	r.mu.Unlock()

	for _, hook := range r.resolveHooks {
		hook.ResolveHook(traceID, keys, stats)
	}

	if stats.Hits == len(keys) {
		r.mu.Lock()
		defer r.mu.Unlock()
		result, _ := r.assemble(keys)
		return result, nil
	}

	return r.wait(ctx, traceID, keys)
}

// ResolveOne returns the entities of a single key
func (r *Resolver[TKey, TValue]) ResolveOne(ctx context.Context, key TKey) ([]TValue, error) {
	result, err := r.Resolve(ctx, []TKey{key})
	if v, ok := result[key]; ok {
		return v, err
	}
	return []TValue{}, err
}

// wait blocks until every key is cached or the attempts are exhausted
func (r *Resolver[TKey, TValue]) wait(ctx context.Context, traceID uint64, keys []TKey) (map[TKey][]TValue, error) {
	ticker := time.NewTicker(r.attemptDelay)
	defer ticker.Stop()

	attempts := 0
	for {
		r.mu.Lock()
		result, missing := r.assemble(keys)
		if len(missing) == 0 {
			r.mu.Unlock()
			return result, nil
		}
		if attempts >= r.maxAttempts {
			// give up, mark the missing keys as empty so future callers don't wait again
			empty := make([][]TValue, len(missing))
			r.cache.set(missing, empty)
			r.mu.Unlock()

			for _, hook := range r.waitTimeoutHooks {
				hook.WaitTimeoutHook(traceID, missing)
			}
			return result, nil
		}
		changed := r.cache.changed()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			r.mu.Lock()
			result, _ = r.assemble(keys)
			r.mu.Unlock()
			return result, ctx.Err()
		case <-ticker.C:
			attempts++
		case <-changed:
		}
	}
}

// assemble builds the result from the cache, missing keys get an empty list.
// Must be called with r.mu held.
func (r *Resolver[TKey, TValue]) assemble(keys []TKey) (map[TKey][]TValue, []TKey) {
	result := make(map[TKey][]TValue, len(keys))
	var missing []TKey
	for _, key := range keys {
		if v, ok := r.cache.get(key); ok {
			result[key] = v
		} else {
			result[key] = []TValue{}
			missing = append(missing, key)
		}
	}
	return result, missing
}

// normalize drops invalid and duplicate keys, the first occurrence order is kept
func (r *Resolver[TKey, TValue]) normalize(keys []TKey) []TKey {
	seen := make(map[TKey]struct{}, len(keys))
	out := make([]TKey, 0, len(keys))
	for _, key := range keys {
		if !r.validKey(key) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
