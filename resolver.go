package refcache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Resolver resolves keys into lists of entities. Requests for the same key are
// deduplicated, missing keys are sent to the collector in bounded batches and the
// results are kept for the lifetime of the resolver.
type Resolver[TKey comparable, TValue any] struct {
	identifier string

	// fetches the entities of a batch
	collector Collector[TKey, TValue]

	// shared layers consulted before the collector
	layers []Layer[TKey, TValue]

	// dispatcher settings
	maxBatch     int
	batchWait    time.Duration
	batchTimeout time.Duration

	// waiter settings
	maxAttempts  int
	attemptDelay time.Duration

	validKey func(key TKey) bool

	// mu guards the following variables
	mu          sync.Mutex
	cache       *resolutionCache[TKey, TValue]
	pending     *pendingRegistry[TKey]
	dispatching bool

	// signalled when the dispatcher exits
	idle *sync.Cond

	// trace counter for trace ID assignment
	traceCounter uint64

	// hooks
	initializationHooks []InitializationHookExtension[TKey, TValue]
	resolveHooks        []ResolveHookExtension[TKey]
	waitTimeoutHooks    []WaitTimeoutHookExtension[TKey]
	preCollectHooks     []PreCollectHookExtension[TKey]
	postCollectHooks    []PostCollectHookExtension[TKey, TValue]
	layerPreLoadHooks   []LayerPreLoadHookExtension[TKey]
	layerPostLoadHooks  []LayerPostLoadHookExtension[TKey, TValue]
	layerPostSetHooks   []LayerPostSetHookExtension[TKey, TValue]
}

func (r *Resolver[TKey, TValue]) getTraceID() uint64 {
	return atomic.AddUint64(&r.traceCounter, 1)
}

// Create a new resolver with the given configuration
func New[TKey comparable, TValue any](config Config[TKey, TValue]) (*Resolver[TKey, TValue], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := &Resolver[TKey, TValue]{
		identifier:   config.Identifier,
		collector:    config.Collector,
		layers:       config.Layers,
		maxBatch:     config.Batcher.MaxBatch,
		batchWait:    config.Batcher.Wait,
		batchTimeout: config.Batcher.Timeout,
		maxAttempts:  config.Waiter.MaxAttempts,
		attemptDelay: config.Waiter.AttemptDelay,
		validKey:     config.ValidKey,
		cache:        newResolutionCache[TKey, TValue](),
		pending:      newPendingRegistry[TKey](),
	}
	r.idle = sync.NewCond(&r.mu)

	r.registerExtensions(config.Extensions)

	// Execute initialization hooks
	for _, hook := range r.initializationHooks {
		err := hook.InitializationHook(r.identifier, r.layers)
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Must panics if err is not nil, otherwise it returns r
func Must[TKey comparable, TValue any](r *Resolver[TKey, TValue], err error) *Resolver[TKey, TValue] {
	if err != nil {
		panic(err)
	}
	return r
}

// Identifier of this resolver
func (r *Resolver[TKey, TValue]) Identifier() string {
	return r.identifier
}

func (r *Resolver[TKey, TValue]) registerExtensions(extensions []Extension) {
	for _, ext := range extensions {
		if ext, ok := ext.(InitializationHookExtension[TKey, TValue]); ok {
			r.initializationHooks = append(r.initializationHooks, ext)
		}
		if ext, ok := ext.(ResolveHookExtension[TKey]); ok {
			r.resolveHooks = append(r.resolveHooks, ext)
		}
		if ext, ok := ext.(WaitTimeoutHookExtension[TKey]); ok {
			r.waitTimeoutHooks = append(r.waitTimeoutHooks, ext)
		}
		if ext, ok := ext.(PreCollectHookExtension[TKey]); ok {
			r.preCollectHooks = append(r.preCollectHooks, ext)
		}
		if ext, ok := ext.(PostCollectHookExtension[TKey, TValue]); ok {
			r.postCollectHooks = append(r.postCollectHooks, ext)
		}
		if ext, ok := ext.(LayerPreLoadHookExtension[TKey]); ok {
			r.layerPreLoadHooks = append(r.layerPreLoadHooks, ext)
		}
		if ext, ok := ext.(LayerPostLoadHookExtension[TKey, TValue]); ok {
			r.layerPostLoadHooks = append(r.layerPostLoadHooks, ext)
		}
		if ext, ok := ext.(LayerPostSetHookExtension[TKey, TValue]); ok {
			r.layerPostSetHooks = append(r.layerPostSetHooks, ext)
		}
	}
}

// Reset clears the whole cache. A batch already sent to the collector is not
// cancelled and its results are still written.
func (r *Resolver[TKey, TValue]) Reset() {
	r.mu.Lock()
	r.cache.clear()
	r.mu.Unlock()
}

// Prime seeds the cache with the given list. If the key is already cached no change
// is made and false is returned. A key that is queued or in flight is still fetched and
// the batch result replaces the primed list once it completes.
func (r *Resolver[TKey, TValue]) Prime(key TKey, values []TValue) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.has(key) {
		return false
	}
	r.cache.set([]TKey{key}, [][]TValue{values})
	return true
}

// Forget drops a single key from the cache, the next Resolve will fetch it again
func (r *Resolver[TKey, TValue]) Forget(key TKey) {
	r.mu.Lock()
	r.cache.delete(key)
	r.mu.Unlock()
}

// Peek returns the cached list of the key without requesting it
func (r *Resolver[TKey, TValue]) Peek(key TKey) ([]TValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.get(key)
}

// Drain blocks until the dispatcher is idle, every batch requested so far has been
// written to the cache and to the layers
func (r *Resolver[TKey, TValue]) Drain() {
	r.mu.Lock()
	for r.dispatching {
		r.idle.Wait()
	}
	r.mu.Unlock()
}

// Pending returns the number of keys queued or in flight
func (r *Resolver[TKey, TValue]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.len()
}

// Len returns the number of cached keys
func (r *Resolver[TKey, TValue]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.len()
}
