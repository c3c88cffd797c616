package refcache

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// request registers the keys that are neither cached nor pending and starts the
// dispatcher. Must be called with r.mu held.
func (r *Resolver[TKey, TValue]) request(keys []TKey) RequestStats {
	var stats RequestStats
	for _, key := range keys {
		switch {
		case r.cache.has(key):
			stats.Hits++
		case r.pending.add(key):
			stats.Queued++
		default:
			stats.Shared++
		}
	}
	r.startDispatch()
	stats.Pending = r.pending.len()
	return stats
}

// startDispatch starts the dispatcher unless it is already running or there is
// nothing to send. Must be called with r.mu held.
func (r *Resolver[TKey, TValue]) startDispatch() {
	if r.dispatching || r.pending.queuedLen() == 0 {
		return
	}
	r.dispatching = true
	go r.dispatch()
}

// dispatch sends the queued keys in batches of at most maxBatch, pausing for wait
// after each one, until the queue is empty
func (r *Resolver[TKey, TValue]) dispatch() {
	for {
		r.mu.Lock()
		keys := r.pending.take(r.maxBatch)
		queued := r.pending.queuedLen()
		r.mu.Unlock()

		if len(keys) > 0 {
			r.resolveBatch(keys, queued)
			time.Sleep(r.batchWait)
		}

		r.mu.Lock()
		if r.pending.queuedLen() == 0 {
			r.dispatching = false
			r.idle.Broadcast()
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
	}
}

// resolveBatch resolves the keys of one batch from the layers, then from the collector
func (r *Resolver[TKey, TValue]) resolveBatch(keys []TKey, queued int) {
	traceID := r.getTraceID()

	// iterate over the layers from the first to the last, keys found in a layer
	// are not sent to the next one nor to the collector
	unresolved := keys
	for layerIndex, layer := range r.layers {
		if len(unresolved) == 0 {
			return
		}
		unresolved = r.loadLayer(traceID, layerIndex, layer, unresolved)
	}
	if len(unresolved) == 0 {
		return
	}

	for _, hook := range r.preCollectHooks {
		hook.PreCollectHook(traceID, unresolved, queued)
	}

	result, err := r.collect(unresolved)
	if err != nil {
		// the keys are dropped, callers fall back to empty lists once they give up
		r.mu.Lock()
		r.pending.finish(unresolved)
		r.mu.Unlock()

		cerr := newCollectError(unresolved, err)
		for _, hook := range r.postCollectHooks {
			hook.PostCollectHook(traceID, unresolved, nil, cerr)
		}
		return
	}

	// a key missing from the result has no entities
	values := make([][]TValue, len(unresolved))
	for i, key := range unresolved {
		if v := result[key]; v != nil {
			values[i] = v
		} else {
			values[i] = []TValue{}
		}
	}
	r.complete(unresolved, values)

	for _, hook := range r.postCollectHooks {
		hook.PostCollectHook(traceID, unresolved, values, nil)
	}

	// prime the layers with the collected values
	for layerIndex, layer := range r.layers {
		setErrors := layer.Set(unresolved, values)
		for _, hook := range r.layerPostSetHooks {
			hook.LayerPostSetHook(traceID, layerIndex, unresolved, values, setErrors)
		}
	}
}

// loadLayer writes the keys found in the layer into the cache and returns the others
func (r *Resolver[TKey, TValue]) loadLayer(traceID uint64, layerIndex int, layer Layer[TKey, TValue], keys []TKey) []TKey {
	for _, hook := range r.layerPreLoadHooks {
		hook.LayerPreLoadHook(traceID, layerIndex, keys)
	}

	values, errs := layer.Get(keys)

	for _, hook := range r.layerPostLoadHooks {
		hook.LayerPostLoadHook(traceID, layerIndex, keys, values, errs)
	}

	var foundKeys, missingKeys []TKey
	var foundValues [][]TValue
	for i, key := range keys {
		if (i >= len(errs) || errs[i] == nil) && i < len(values) {
			foundKeys = append(foundKeys, key)
			foundValues = append(foundValues, values[i])
		} else {
			missingKeys = append(missingKeys, key)
		}
	}
	r.complete(foundKeys, foundValues)
	return missingKeys
}

// collect calls the collector, a panic is turned into an error
func (r *Resolver[TKey, TValue]) collect(keys []TKey) (result map[TKey][]TValue, err error) {
	ctx := context.Background()
	if r.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.batchTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = errors.Errorf("collector panic: %v", p)
		}
	}()
	return r.collector.Collect(ctx, keys)
}

// complete writes the resolved lists into the cache and removes the keys from the
// pending set in one step
func (r *Resolver[TKey, TValue]) complete(keys []TKey, values [][]TValue) {
	if len(keys) == 0 {
		return
	}
	r.mu.Lock()
	r.cache.set(keys, values)
	r.pending.finish(keys)
	r.mu.Unlock()
}
