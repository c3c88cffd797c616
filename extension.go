package refcache

// Extension interface is the base interface used for extensions
type Extension interface {
	Name() string // The extension name
}

// RequestStats describes how the keys of one Resolve call were handled
type RequestStats struct {
	Hits    int // keys already in the cache
	Queued  int // keys added to the pending set by this call
	Shared  int // keys already pending or in flight for another caller
	Pending int // size of the pending set after this call
}

// Extensions that hook on resolver initialization
type InitializationHookExtension[TKey comparable, TValue any] interface {
	InitializationHook(identifier string, layers []Layer[TKey, TValue]) error
}

// Extensions that hook after the keys of a Resolve call have been registered
type ResolveHookExtension[TKey comparable] interface {
	ResolveHook(traceID uint64, keys []TKey, stats RequestStats)
}

// Extensions that hook when a caller gives up on missing keys
type WaitTimeoutHookExtension[TKey comparable] interface {
	WaitTimeoutHook(traceID uint64, missing []TKey)
}

// Extensions that hook before a batch is sent to the collector
type PreCollectHookExtension[TKey comparable] interface {
	PreCollectHook(traceID uint64, keys []TKey, pending int)
}

// Extensions that hook after a collector call, err is a *CollectError on failure
type PostCollectHookExtension[TKey comparable, TValue any] interface {
	PostCollectHook(traceID uint64, keys []TKey, values [][]TValue, err error)
}

// Extensions that hook before a batch is loaded from a layer
type LayerPreLoadHookExtension[TKey comparable] interface {
	LayerPreLoadHook(traceID uint64, layerIndex int, keys []TKey)
}

// Extensions that hook after a batch is loaded from a layer
type LayerPostLoadHookExtension[TKey comparable, TValue any] interface {
	LayerPostLoadHook(traceID uint64, layerIndex int, keys []TKey, values [][]TValue, errors []error)
}

// Extensions that hook after collected values are written into a layer
type LayerPostSetHookExtension[TKey comparable, TValue any] interface {
	LayerPostSetHook(traceID uint64, layerIndex int, keys []TKey, values [][]TValue, errors []error)
}
