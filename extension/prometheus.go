package extension

import (
	"sync"
	"time"

	"github.com/hymnal/refcache"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	Success  = "success"
	NotFound = "notfound"
	Error    = "error"

	Hit   = "hit"
	Miss  = "miss"
	Share = "share"
)

// Collection of prometheus metrics
type StoreMetrics struct {
	AdditionalLabels        []string
	CollectTimeHistogram    *prometheus.HistogramVec
	CollectBatchHistogram   *prometheus.HistogramVec
	CacheCounter            *prometheus.CounterVec
	PendingGauge            *prometheus.GaugeVec
	WaitTimeoutCounter      *prometheus.CounterVec
	LayerLoadTimeHistogram  *prometheus.HistogramVec
	LayerLoadBatchHistogram *prometheus.HistogramVec
}

// Create a new store metric collector
// additionalLabels is a list of additional labels used for metric partitioning
func NewStoreMetrics(additionalLabels ...string) *StoreMetrics {
	labels := func(names ...string) []string {
		return append(append([]string{}, additionalLabels...), names...)
	}

	c := &StoreMetrics{}
	c.AdditionalLabels = additionalLabels
	c.CollectTimeHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "refcache",
		Name:      "collect_time_seconds",
		Help:      "The time the collector takes to resolve a batch",
	}, labels("resolver", "status"))
	c.CollectBatchHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "refcache",
		Name:      "collect_batch",
		Help:      "The batch size for each collector call",
		Buckets:   []float64{1, 2, 5, 10, 15, 25, 50, 100},
	}, labels("resolver"))
	c.CacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refcache",
		Name:      "cache_total",
		Help:      "Requested keys by how they were handled",
	}, labels("resolver", "result"))
	c.PendingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "refcache",
		Name:      "pending_keys",
		Help:      "Keys queued or in flight",
	}, labels("resolver"))
	c.WaitTimeoutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "refcache",
		Name:      "wait_timeout_total",
		Help:      "Keys resolved as empty because the caller gave up waiting",
	}, labels("resolver"))
	c.LayerLoadTimeHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "refcache",
		Subsystem: "layer",
		Name:      "load_time_seconds",
		Help:      "The time a layer takes to resolve a load request",
	}, labels("resolver", "layer", "status"))
	c.LayerLoadBatchHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "refcache",
		Subsystem: "layer",
		Name:      "load_batch",
		Help:      "The batch size for each load on to a layer",
	}, labels("resolver", "layer"))
	return c
}

// Register all the metrics into the registerer
func (c *StoreMetrics) Register(registerer prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.CollectTimeHistogram,
		c.CollectBatchHistogram,
		c.CacheCounter,
		c.PendingGauge,
		c.WaitTimeoutCounter,
		c.LayerLoadTimeHistogram,
		c.LayerLoadBatchHistogram,
	} {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// PrometheusMetrics is an extension for resolver instrumentation
type PrometheusMetrics[TKey comparable, TValue any] struct {
	resolverName       string
	metrics            *StoreMetrics
	labelValues        []string
	layerIdentifiers   []string
	layerLoadStartTime []map[uint64]time.Time
	layerLoadMu        []sync.Mutex
	collectStartTime   map[uint64]time.Time
	collectMu          sync.Mutex
}

// Create a new prometheus metrics extension with the given metrics collector
// labelValues is an optional parameter to add the given labels into the metrics from this resolver
func NewPrometheusMetrics[TKey comparable, TValue any](metrics *StoreMetrics, labelValues ...string) *PrometheusMetrics[TKey, TValue] {
	return &PrometheusMetrics[TKey, TValue]{
		labelValues: labelValues,
		metrics:     metrics,
	}
}

func (e *PrometheusMetrics[TKey, TValue]) Name() string { return "PrometheusMetrics" }

func (e *PrometheusMetrics[TKey, TValue]) labels(values ...string) []string {
	return append(append([]string{}, e.labelValues...), values...)
}

func (e *PrometheusMetrics[TKey, TValue]) InitializationHook(identifier string, layers []refcache.Layer[TKey, TValue]) error {
	e.resolverName = identifier
	e.layerLoadStartTime = make([]map[uint64]time.Time, len(layers))
	e.layerLoadMu = make([]sync.Mutex, len(layers))
	e.layerIdentifiers = make([]string, len(layers))
	e.collectStartTime = make(map[uint64]time.Time)
	for i, layer := range layers {
		e.layerIdentifiers[i] = layer.Identifier()
		e.layerLoadStartTime[i] = make(map[uint64]time.Time)
	}
	return nil
}

func (e *PrometheusMetrics[TKey, TValue]) ResolveHook(traceID uint64, keys []TKey, stats refcache.RequestStats) {
	e.metrics.CacheCounter.WithLabelValues(e.labels(e.resolverName, Hit)...).Add(float64(stats.Hits))
	e.metrics.CacheCounter.WithLabelValues(e.labels(e.resolverName, Miss)...).Add(float64(stats.Queued))
	e.metrics.CacheCounter.WithLabelValues(e.labels(e.resolverName, Share)...).Add(float64(stats.Shared))
	e.metrics.PendingGauge.WithLabelValues(e.labels(e.resolverName)...).Set(float64(stats.Pending))
}

func (e *PrometheusMetrics[TKey, TValue]) WaitTimeoutHook(traceID uint64, missing []TKey) {
	e.metrics.WaitTimeoutCounter.WithLabelValues(e.labels(e.resolverName)...).Add(float64(len(missing)))
}

func (e *PrometheusMetrics[TKey, TValue]) PreCollectHook(traceID uint64, keys []TKey, pending int) {
	// record the batch size
	e.metrics.CollectBatchHistogram.WithLabelValues(e.labels(e.resolverName)...).Observe(float64(len(keys)))
	e.metrics.PendingGauge.WithLabelValues(e.labels(e.resolverName)...).Set(float64(pending))

	// record the start time for this trace
	e.collectMu.Lock()
	e.collectStartTime[traceID] = time.Now()
	e.collectMu.Unlock()
}

func (e *PrometheusMetrics[TKey, TValue]) PostCollectHook(traceID uint64, keys []TKey, values [][]TValue, err error) {
	// record the duration of the trace
	e.collectMu.Lock()
	traceTime := time.Since(e.collectStartTime[traceID]).Seconds()
	delete(e.collectStartTime, traceID)
	e.collectMu.Unlock()

	status := Success
	if err != nil {
		status = Error
	}
	e.metrics.CollectTimeHistogram.WithLabelValues(e.labels(e.resolverName, status)...).Observe(traceTime)
}

func (e *PrometheusMetrics[TKey, TValue]) LayerPreLoadHook(traceID uint64, layerIndex int, keys []TKey) {
	// record the batch size
	e.metrics.LayerLoadBatchHistogram.WithLabelValues(e.labels(e.resolverName, e.layerIdentifiers[layerIndex])...).Observe(float64(len(keys)))

	// record the start time for this trace
	e.layerLoadMu[layerIndex].Lock()
	e.layerLoadStartTime[layerIndex][traceID] = time.Now()
	e.layerLoadMu[layerIndex].Unlock()
}

func (e *PrometheusMetrics[TKey, TValue]) LayerPostLoadHook(traceID uint64, layerIndex int, keys []TKey, values [][]TValue, errors []error) {
	// record the duration of the trace
	e.layerLoadMu[layerIndex].Lock()
	traceTime := time.Since(e.layerLoadStartTime[layerIndex][traceID]).Seconds()
	delete(e.layerLoadStartTime[layerIndex], traceID)
	e.layerLoadMu[layerIndex].Unlock()

	// record the status and trace for each key
	var status string
	for i := 0; i < len(keys); i++ {
		if i >= len(errors) || errors[i] == nil {
			status = Success
		} else if refcache.IsNotFound[TKey](errors[i]) {
			status = NotFound
		} else {
			status = Error
		}
		e.metrics.LayerLoadTimeHistogram.WithLabelValues(e.labels(e.resolverName, e.layerIdentifiers[layerIndex], status)...).Observe(traceTime)
	}
}
