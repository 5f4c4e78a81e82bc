package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

const defaultCardinalityLimit = 100

// PrometheusProvider implements Provider over a prometheus.Registry, with
// the same label-cardinality guard as the teacher's
// engine/telemetry/metrics.PrometheusProvider: once a metric's distinct
// label-value set exceeds the limit, further distinct label combinations
// are silently dropped rather than left to grow the registry unbounded.
type PrometheusProvider struct {
	reg     *prom.Registry
	handler http.Handler

	mu         sync.RWMutex
	counters   map[string]*prom.CounterVec
	gauges     map[string]*prom.GaugeVec
	histograms map[string]*prom.HistogramVec

	cardinality map[string]map[string]struct{}
	cardLimit   int
	warnCounter *prom.CounterVec
}

type PrometheusOptions struct {
	Registry         *prom.Registry
	CardinalityLimit int
}

func NewPrometheusProvider(opts PrometheusOptions) *PrometheusProvider {
	reg := opts.Registry
	if reg == nil {
		reg = prom.NewRegistry()
	}
	limit := opts.CardinalityLimit
	if limit <= 0 {
		limit = defaultCardinalityLimit
	}
	warn := prom.NewCounterVec(prom.CounterOpts{
		Name: "seismo_internal_cardinality_exceeded_total",
		Help: "count of metrics whose label cardinality exceeded the configured limit",
	}, []string{"metric"})
	_ = reg.Register(warn)

	return &PrometheusProvider{
		reg:         reg,
		handler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		counters:    make(map[string]*prom.CounterVec),
		gauges:      make(map[string]*prom.GaugeVec),
		histograms:  make(map[string]*prom.HistogramVec),
		cardinality: make(map[string]map[string]struct{}),
		cardLimit:   limit,
		warnCounter: warn,
	}
}

// MetricsHandler exposes /metrics (spec §4.14).
func (p *PrometheusProvider) MetricsHandler() http.Handler { return p.handler }

func (p *PrometheusProvider) buildFQName(c CommonOpts) (string, error) {
	if c.Name == "" {
		return "", errors.New("metric name required")
	}
	fq := c.Name
	if c.Subsystem != "" {
		fq = c.Subsystem + "_" + fq
	}
	if c.Namespace != "" {
		fq = c.Namespace + "_" + fq
	}
	if !metricNameRE.MatchString(fq) {
		return "", fmt.Errorf("invalid metric name: %s", fq)
	}
	return fq, nil
}

func (p *PrometheusProvider) NewCounter(opts CounterOpts) Counter {
	fq, err := p.buildFQName(opts.CommonOpts)
	if err != nil {
		return noopCounter{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.counters[fq]
	if !ok {
		vec = prom.NewCounterVec(prom.CounterOpts{Name: fq, Help: opts.Help}, opts.Labels)
		if regErr := p.reg.Register(vec); regErr != nil {
			if are, ok := regErr.(prom.AlreadyRegisteredError); ok {
				vec = are.ExistingCollector.(*prom.CounterVec)
			} else {
				return noopCounter{}
			}
		}
		p.counters[fq] = vec
	}
	return &promCounter{provider: p, name: fq, vec: vec}
}

func (p *PrometheusProvider) NewGauge(opts GaugeOpts) Gauge {
	fq, err := p.buildFQName(opts.CommonOpts)
	if err != nil {
		return noopGauge{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.gauges[fq]
	if !ok {
		vec = prom.NewGaugeVec(prom.GaugeOpts{Name: fq, Help: opts.Help}, opts.Labels)
		if regErr := p.reg.Register(vec); regErr != nil {
			if are, ok := regErr.(prom.AlreadyRegisteredError); ok {
				vec = are.ExistingCollector.(*prom.GaugeVec)
			} else {
				return noopGauge{}
			}
		}
		p.gauges[fq] = vec
	}
	return &promGauge{provider: p, name: fq, vec: vec}
}

func (p *PrometheusProvider) NewHistogram(opts HistogramOpts) Histogram {
	fq, err := p.buildFQName(opts.CommonOpts)
	if err != nil {
		return noopHistogram{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.histograms[fq]
	if !ok {
		buckets := opts.Buckets
		if buckets == nil {
			buckets = prom.DefBuckets
		}
		vec = prom.NewHistogramVec(prom.HistogramOpts{Name: fq, Help: opts.Help, Buckets: buckets}, opts.Labels)
		if regErr := p.reg.Register(vec); regErr != nil {
			if are, ok := regErr.(prom.AlreadyRegisteredError); ok {
				vec = are.ExistingCollector.(*prom.HistogramVec)
			} else {
				return noopHistogram{}
			}
		}
		p.histograms[fq] = vec
	}
	return &promHistogram{provider: p, name: fq, vec: vec}
}

func (p *PrometheusProvider) Health(ctx context.Context) error { return ctx.Err() }

// guardCardinality returns false for every new label-value key once a
// metric's distinct key set has reached the limit, bumping the warn counter
// each time; the caller should skip the Prometheus write but must not panic
// or error.
func (p *PrometheusProvider) guardCardinality(name, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.cardinality[name]
	if !ok {
		set = make(map[string]struct{})
		p.cardinality[name] = set
	}
	if _, seen := set[key]; seen {
		return true
	}
	if len(set) >= p.cardLimit {
		p.warnCounter.WithLabelValues(name).Inc()
		return false
	}
	set[key] = struct{}{}
	return true
}

func labelKey(labels []string) string {
	key := ""
	for _, l := range labels {
		key += l + "\x1f"
	}
	return key
}

type promCounter struct {
	provider *PrometheusProvider
	name     string
	vec      *prom.CounterVec
}

func (c *promCounter) Inc(delta float64, labels ...string) {
	if !c.provider.guardCardinality(c.name, labelKey(labels)) {
		return
	}
	c.vec.WithLabelValues(labels...).Add(delta)
}

type promGauge struct {
	provider *PrometheusProvider
	name     string
	vec      *prom.GaugeVec
}

func (g *promGauge) Set(v float64, labels ...string) {
	if !g.provider.guardCardinality(g.name, labelKey(labels)) {
		return
	}
	g.vec.WithLabelValues(labels...).Set(v)
}

func (g *promGauge) Add(delta float64, labels ...string) {
	if !g.provider.guardCardinality(g.name, labelKey(labels)) {
		return
	}
	g.vec.WithLabelValues(labels...).Add(delta)
}

type promHistogram struct {
	provider *PrometheusProvider
	name     string
	vec      *prom.HistogramVec
}

func (h *promHistogram) Observe(v float64, labels ...string) {
	if !h.provider.guardCardinality(h.name, labelKey(labels)) {
		return
	}
	h.vec.WithLabelValues(labels...).Observe(v)
}
