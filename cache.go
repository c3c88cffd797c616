package refcache

// resolutionCache is the process-lifetime map of resolved keys. Entries are never
// evicted. Every write closes the current updated channel so waiters can re-check.
// It is guarded by the resolver mutex.
type resolutionCache[TKey comparable, TValue any] struct {
	data    map[TKey][]TValue
	updated chan struct{}
}

func newResolutionCache[TKey comparable, TValue any]() *resolutionCache[TKey, TValue] {
	return &resolutionCache[TKey, TValue]{
		data:    make(map[TKey][]TValue),
		updated: make(chan struct{}),
	}
}

func (c *resolutionCache[TKey, TValue]) get(key TKey) ([]TValue, bool) {
	v, ok := c.data[key]
	return v, ok
}

func (c *resolutionCache[TKey, TValue]) has(key TKey) bool {
	_, ok := c.data[key]
	return ok
}

// set writes the lists of the given keys, a nil list is stored as an empty one
func (c *resolutionCache[TKey, TValue]) set(keys []TKey, values [][]TValue) {
	if len(keys) == 0 {
		return
	}
	for i, k := range keys {
		v := values[i]
		if v == nil {
			v = []TValue{}
		}
		c.data[k] = v
	}
	c.signal()
}

func (c *resolutionCache[TKey, TValue]) delete(key TKey) {
	delete(c.data, key)
}

func (c *resolutionCache[TKey, TValue]) clear() {
	c.data = make(map[TKey][]TValue)
}

func (c *resolutionCache[TKey, TValue]) len() int {
	return len(c.data)
}

// changed returns a channel closed on the next write
func (c *resolutionCache[TKey, TValue]) changed() <-chan struct{} {
	return c.updated
}

func (c *resolutionCache[TKey, TValue]) signal() {
	close(c.updated)
	c.updated = make(chan struct{})
}
