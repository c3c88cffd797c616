package refcache

import "github.com/hymnal/refcache/collection/queue"

// pendingRegistry tracks the keys requested but not yet resolved. A key is queued
// until a batch takes it, then in flight until that batch completes. Guarded by the
// resolver mutex.
type pendingRegistry[TKey comparable] struct {
	inFlight map[TKey]struct{}
	queued   map[TKey]struct{}
	order    *queue.Queue[TKey]
}

func newPendingRegistry[TKey comparable]() *pendingRegistry[TKey] {
	return &pendingRegistry[TKey]{
		inFlight: make(map[TKey]struct{}),
		queued:   make(map[TKey]struct{}),
		order:    queue.NewQueue[TKey](16),
	}
}

// add queues the key, returns false if it is already queued or in flight
func (p *pendingRegistry[TKey]) add(key TKey) bool {
	if p.has(key) {
		return false
	}
	p.queued[key] = struct{}{}
	p.order.Enqueue(key)
	return true
}

func (p *pendingRegistry[TKey]) has(key TKey) bool {
	if _, ok := p.queued[key]; ok {
		return true
	}
	_, ok := p.inFlight[key]
	return ok
}

// take moves up to n of the earliest queued keys in flight
func (p *pendingRegistry[TKey]) take(n int) []TKey {
	keys := p.order.DequeueN(n)
	for _, key := range keys {
		delete(p.queued, key)
		p.inFlight[key] = struct{}{}
	}
	return keys
}

// finish removes keys whose batch completed, successfully or not
func (p *pendingRegistry[TKey]) finish(keys []TKey) {
	for _, key := range keys {
		delete(p.inFlight, key)
	}
}

// number of keys waiting for a batch
func (p *pendingRegistry[TKey]) queuedLen() int {
	return p.order.Len()
}

// number of keys queued or in flight
func (p *pendingRegistry[TKey]) len() int {
	return len(p.queued) + len(p.inFlight)
}
