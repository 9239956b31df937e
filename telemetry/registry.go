// Package telemetry provides process-wide metrics emission for the
// optimization pipeline. The API follows progressive disclosure: the
// package-level helpers in api.go cover nearly all call sites; the Registry
// gives full control when needed.
//
// Every metric is recorded three ways from a single call: an OpenTelemetry
// instrument (for export), a Prometheus collector (for the text endpoint),
// and a local mirror that powers the JSON /metrics snapshot with percentile
// summaries. Counters use atomic updates; histograms serialize on a mutex.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Registry is the process-wide metric sink.
type Registry struct {
	serviceName string

	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// OTel instrument caches (double-checked locking on creation)
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	imu        sync.RWMutex

	// Prometheus mirror
	promRegistry *prometheus.Registry
	promCounters map[string]prometheus.Counter
	promGauges   map[string]prometheus.Gauge
	promHists    map[string]prometheus.Histogram
	pmu          sync.Mutex

	// Local mirror for the JSON snapshot endpoint
	localCounters sync.Map // name -> *counterCell
	localGauges   sync.Map // name -> *gaugeCell
	localHists    sync.Map // name -> *histCell
}

// counterCell holds an atomically-updated float64 (stored as bits).
type counterCell struct {
	bits uint64
}

func (c *counterCell) add(v float64) {
	for {
		old := atomic.LoadUint64(&c.bits)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&c.bits, old, next) {
			return
		}
	}
}

func (c *counterCell) value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.bits))
}

type gaugeCell struct {
	bits uint64
}

func (g *gaugeCell) set(v float64) {
	atomic.StoreUint64(&g.bits, math.Float64bits(v))
}

func (g *gaugeCell) value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

// histCell accumulates observations for percentile summaries.
// Observations are capped; once full the reservoir wraps, which is
// acceptable for operational percentiles.
type histCell struct {
	mu     sync.Mutex
	values []float64
	next   int
	count  int64
	sum    float64
	min    float64
	max    float64
}

const histReservoirSize = 2048

func (h *histCell) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		h.min, h.max = v, v
	} else {
		if v < h.min {
			h.min = v
		}
		if v > h.max {
			h.max = v
		}
	}
	h.count++
	h.sum += v
	if len(h.values) < histReservoirSize {
		h.values = append(h.values, v)
	} else {
		h.values[h.next] = v
		h.next = (h.next + 1) % histReservoirSize
	}
}

// NewRegistry creates a registry for the named service. When stdoutExporter
// is set, OTel metrics are periodically written to stdout; otherwise a
// manual-reader provider keeps instruments functional without export.
func NewRegistry(serviceName string, stdoutExporter bool) (*Registry, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	var provider *sdkmetric.MeterProvider
	if stdoutExporter {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		provider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		)
	} else {
		provider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewManualReader()),
		)
	}

	return &Registry{
		serviceName:  serviceName,
		meter:        provider.Meter(serviceName),
		provider:     provider,
		counters:     make(map[string]metric.Float64Counter),
		histograms:   make(map[string]metric.Float64Histogram),
		promRegistry: prometheus.NewRegistry(),
		promCounters: make(map[string]prometheus.Counter),
		promGauges:   make(map[string]prometheus.Gauge),
		promHists:    make(map[string]prometheus.Histogram),
	}, nil
}

// Add increments the named counter by value.
func (r *Registry) Add(ctx context.Context, name string, value float64, labels ...string) {
	cell, _ := r.localCounters.LoadOrStore(name, &counterCell{})
	cell.(*counterCell).add(value)

	counter := r.otelCounter(name)
	if counter != nil {
		counter.Add(ctx, value, metric.WithAttributes(toAttributes(labels)...))
	}
	r.promCounter(name).Add(value)
}

// Set records a gauge value.
func (r *Registry) Set(ctx context.Context, name string, value float64, labels ...string) {
	cell, _ := r.localGauges.LoadOrStore(name, &gaugeCell{})
	cell.(*gaugeCell).set(value)
	r.promGauge(name).Set(value)

	// OTel gauges need callbacks; a histogram record gives comparable
	// visibility without the registration complexity.
	hist := r.otelHistogram(name)
	if hist != nil {
		hist.Record(ctx, value, metric.WithAttributes(toAttributes(labels)...))
	}
}

// Observe records a histogram observation.
func (r *Registry) Observe(ctx context.Context, name string, value float64, labels ...string) {
	cell, _ := r.localHists.LoadOrStore(name, &histCell{})
	cell.(*histCell).observe(value)

	hist := r.otelHistogram(name)
	if hist != nil {
		hist.Record(ctx, value, metric.WithAttributes(toAttributes(labels)...))
	}
	r.promHistogram(name).Observe(value)
}

// CounterValue returns the local value of a counter (0 if never written).
func (r *Registry) CounterValue(name string) float64 {
	if cell, ok := r.localCounters.Load(name); ok {
		return cell.(*counterCell).value()
	}
	return 0
}

// PrometheusRegistry exposes the mirror for the text endpoint.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.promRegistry
}

// Shutdown flushes the OTel provider.
func (r *Registry) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

func (r *Registry) otelCounter(name string) metric.Float64Counter {
	r.imu.RLock()
	counter, exists := r.counters[name]
	r.imu.RUnlock()
	if exists {
		return counter
	}

	r.imu.Lock()
	defer r.imu.Unlock()
	// Double-check after acquiring write lock
	if counter, exists = r.counters[name]; exists {
		return counter
	}
	counter, err := r.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	r.counters[name] = counter
	return counter
}

func (r *Registry) otelHistogram(name string) metric.Float64Histogram {
	r.imu.RLock()
	hist, exists := r.histograms[name]
	r.imu.RUnlock()
	if exists {
		return hist
	}

	r.imu.Lock()
	defer r.imu.Unlock()
	if hist, exists = r.histograms[name]; exists {
		return hist
	}
	hist, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	r.histograms[name] = hist
	return hist
}

func (r *Registry) promCounter(name string) prometheus.Counter {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	if c, ok := r.promCounters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: promName(name),
		Help: name,
	})
	_ = r.promRegistry.Register(c)
	r.promCounters[name] = c
	return c
}

func (r *Registry) promGauge(name string) prometheus.Gauge {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	if g, ok := r.promGauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: promName(name),
		Help: name,
	})
	_ = r.promRegistry.Register(g)
	r.promGauges[name] = g
	return g
}

func (r *Registry) promHistogram(name string) prometheus.Histogram {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	if h, ok := r.promHists[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    promName(name),
		Help:    name,
		Buckets: prometheus.DefBuckets,
	})
	_ = r.promRegistry.Register(h)
	r.promHists[name] = h
	return h
}

// promName maps dotted metric names to the prometheus snake form.
func promName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func toAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
