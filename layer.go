package refcache

// Layer is a shared store for resolved lists, consulted by the dispatcher before the
// collector is called. A key the layer does not hold must have an ErrNotFound error,
// any other error is treated as a miss and reported to the layer hooks. Lists resolved
// by the collector are written back into every layer.
type Layer[TKey comparable, TValue any] interface {
	// Unique identifier for this layer used for logging and metric purposes
	Identifier() string

	// The function that will be called to load the lists of the given set of keys
	Get(keys []TKey) ([][]TValue, []error)

	// The function that will be called to store lists resolved by the collector
	Set(keys []TKey, values [][]TValue) []error
}
