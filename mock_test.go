package refcache_test

import (
	"context"
	"sync"
	"time"

	"github.com/hymnal/refcache"
	"github.com/pkg/errors"
)

var errBackend = errors.New("backend unavailable")

// SquareCollector resolves every key k into [k*k], keys divisible by 7 have no
// entities and are left out of the response. Every call is recorded.
type SquareCollector struct {
	fakeDelay time.Duration

	// fail reports whether the n-th call (starting at 0) fails
	fail func(call int) bool

	// gate, when set, blocks every call until it is closed
	gate chan struct{}

	// entered is signalled (without blocking) when a call starts
	entered chan struct{}

	mu      sync.Mutex
	batches [][]int
}

func (s *SquareCollector) Collect(ctx context.Context, keys []int) (map[int][]int, error) {
	s.mu.Lock()
	call := len(s.batches)
	s.batches = append(s.batches, append([]int(nil), keys...))
	s.mu.Unlock()

	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	time.Sleep(s.fakeDelay)

	if s.fail != nil && s.fail(call) {
		return nil, errBackend
	}
	result := make(map[int][]int, len(keys))
	for _, k := range keys {
		if k%7 == 0 {
			continue
		}
		result[k] = []int{k * k}
	}
	return result, nil
}

func (s *SquareCollector) Batches() [][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]int(nil), s.batches...)
}

// CollectedCount returns how many times each key was sent to the collector
func (s *SquareCollector) CollectedCount() map[int]int {
	counts := make(map[int]int)
	for _, batch := range s.Batches() {
		for _, k := range batch {
			counts[k]++
		}
	}
	return counts
}

// MapLayer is a shared layer backed by a map
type MapLayer struct {
	mu   sync.Mutex
	data map[int][]int
	gets int
}

func NewMapLayer() *MapLayer {
	return &MapLayer{data: make(map[int][]int)}
}

func (l *MapLayer) Identifier() string { return "map" }

func (l *MapLayer) Get(keys []int) ([][]int, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gets++
	values := make([][]int, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		if v, ok := l.data[k]; ok {
			values[i] = v
		} else {
			errs[i] = refcache.NewErrNotFound(k)
		}
	}
	return values, errs
}

func (l *MapLayer) Set(keys []int, values [][]int) []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, k := range keys {
		l.data[k] = values[i]
	}
	return nil
}

func (l *MapLayer) Stored(key int) ([]int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.data[key]
	return v, ok
}

// RecordingExtension keeps every hook call
type RecordingExtension struct {
	mu       sync.Mutex
	stats    []refcache.RequestStats
	timeouts [][]int
	errors   []error
	layerSet int
}

func (e *RecordingExtension) Name() string { return "Recording" }

func (e *RecordingExtension) ResolveHook(traceID uint64, keys []int, stats refcache.RequestStats) {
	e.mu.Lock()
	e.stats = append(e.stats, stats)
	e.mu.Unlock()
}

func (e *RecordingExtension) WaitTimeoutHook(traceID uint64, missing []int) {
	e.mu.Lock()
	e.timeouts = append(e.timeouts, missing)
	e.mu.Unlock()
}

func (e *RecordingExtension) PostCollectHook(traceID uint64, keys []int, values [][]int, err error) {
	e.mu.Lock()
	e.errors = append(e.errors, err)
	e.mu.Unlock()
}

func (e *RecordingExtension) LayerPostSetHook(traceID uint64, layerIndex int, keys []int, values [][]int, errors []error) {
	e.mu.Lock()
	e.layerSet++
	e.mu.Unlock()
}

func newSquareResolver(collector *SquareCollector, configure ...func(c *refcache.Config[int, int])) *refcache.Resolver[int, int] {
	config := refcache.Config[int, int]{
		Identifier: "squares",
		Collector:  collector,
		Batcher: refcache.BatcherConfig{
			MaxBatch: 15,
			Wait:     10 * time.Millisecond,
		},
		Waiter: refcache.WaiterConfig{
			MaxAttempts:  10,
			AttemptDelay: 50 * time.Millisecond,
		},
	}
	for _, fn := range configure {
		fn(&config)
	}
	return refcache.Must(refcache.New(config))
}

func sequence(from, to int) []int {
	keys := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		keys = append(keys, i)
	}
	return keys
}

func squares(key int) []int {
	if key%7 == 0 {
		return []int{}
	}
	return []int{key * key}
}
