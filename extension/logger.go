package extension

import (
	"sync"
	"time"

	"github.com/hymnal/refcache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is an extension for refcache that logs requests, batches and layer access for
// debugging. Collector failures are logged at error level.
type Logger[TKey comparable, TValue any] struct {
	// Logger to write to, the global zerolog logger when nil
	Logger *zerolog.Logger

	identifier       string
	layerIdentifiers []string
	collectStartAt   map[uint64]time.Time
	layerLoadStartAt map[uint64]time.Time
	mu               sync.Mutex
}

func (e *Logger[TKey, TValue]) Name() string { return "Logger" }

func (e *Logger[TKey, TValue]) logger() *zerolog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return &log.Logger
}

func (e *Logger[TKey, TValue]) InitializationHook(identifier string, layers []refcache.Layer[TKey, TValue]) error {
	e.identifier = identifier
	e.collectStartAt = make(map[uint64]time.Time)
	e.layerLoadStartAt = make(map[uint64]time.Time)
	e.layerIdentifiers = make([]string, len(layers))
	for i, layer := range layers {
		e.layerIdentifiers[i] = layer.Identifier()
	}
	e.logger().Debug().Str("resolver", identifier).Strs("layers", e.layerIdentifiers).Msg("resolver initialized")
	return nil
}

func (e *Logger[TKey, TValue]) ResolveHook(traceID uint64, keys []TKey, stats refcache.RequestStats) {
	e.logger().Debug().
		Str("resolver", e.identifier).
		Uint64("trace", traceID).
		Int("hits", stats.Hits).
		Int("queued", stats.Queued).
		Int("shared", stats.Shared).
		Int("pending", stats.Pending).
		Msgf("resolve: %v", keys)
}

func (e *Logger[TKey, TValue]) WaitTimeoutHook(traceID uint64, missing []TKey) {
	e.logger().Warn().
		Str("resolver", e.identifier).
		Uint64("trace", traceID).
		Msgf("gave up waiting, resolved as empty: %v", missing)
}

func (e *Logger[TKey, TValue]) PreCollectHook(traceID uint64, keys []TKey, pending int) {
	e.mu.Lock()
	e.collectStartAt[traceID] = time.Now()
	e.mu.Unlock()
	e.logger().Debug().
		Str("resolver", e.identifier).
		Uint64("trace", traceID).
		Int("pending", pending).
		Msgf("collect start: %d keys", len(keys))
}

func (e *Logger[TKey, TValue]) PostCollectHook(traceID uint64, keys []TKey, values [][]TValue, err error) {
	e.mu.Lock()
	elapsed := time.Since(e.collectStartAt[traceID])
	delete(e.collectStartAt, traceID)
	e.mu.Unlock()

	if err != nil {
		e.logger().Error().Err(err).
			Str("resolver", e.identifier).
			Uint64("trace", traceID).
			Dur("time", elapsed).
			Msgf("collect failed: %v", keys)
		return
	}
	e.logger().Debug().
		Str("resolver", e.identifier).
		Uint64("trace", traceID).
		Dur("time", elapsed).
		Msgf("collect finish: %v", keys)
}

func (e *Logger[TKey, TValue]) LayerPreLoadHook(traceID uint64, layerIndex int, keys []TKey) {
	e.mu.Lock()
	e.layerLoadStartAt[traceID] = time.Now()
	e.mu.Unlock()
	e.logger().Debug().
		Str("resolver", e.identifier).
		Uint64("trace", traceID).
		Msgf("loading start at layer %v: %v", e.layerIdentifiers[layerIndex], keys)
}

func (e *Logger[TKey, TValue]) LayerPostLoadHook(traceID uint64, layerIndex int, keys []TKey, values [][]TValue, errors []error) {
	e.mu.Lock()
	elapsed := time.Since(e.layerLoadStartAt[traceID])
	delete(e.layerLoadStartAt, traceID)
	e.mu.Unlock()

	found := 0
	for i := range keys {
		if i >= len(errors) || errors[i] == nil {
			found++
		} else if !refcache.IsNotFound[TKey](errors[i]) {
			e.logger().Warn().Err(errors[i]).
				Str("resolver", e.identifier).
				Uint64("trace", traceID).
				Msgf("layer %v failed for %v", e.layerIdentifiers[layerIndex], keys[i])
		}
	}
	e.logger().Debug().
		Str("resolver", e.identifier).
		Uint64("trace", traceID).
		Int("found", found).
		Dur("time", elapsed).
		Msgf("loading finish from layer %v", e.layerIdentifiers[layerIndex])
}

func (e *Logger[TKey, TValue]) LayerPostSetHook(traceID uint64, layerIndex int, keys []TKey, values [][]TValue, errors []error) {
	failed := 0
	for _, err := range errors {
		if err != nil {
			failed++
		}
	}
	event := e.logger().Debug()
	if failed > 0 {
		event = e.logger().Warn()
	}
	event.
		Str("resolver", e.identifier).
		Uint64("trace", traceID).
		Int("failed", failed).
		Msgf("setting finish at layer %v: %d keys", e.layerIdentifiers[layerIndex], len(keys))
}
