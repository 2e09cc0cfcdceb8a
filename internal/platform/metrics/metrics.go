// Package metrics is a small Prometheus text-format registry for the counters
// and viewer gauges the livescore services export. It has no client library
// dependency.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	writePrometheus(*strings.Builder)
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: map[string]collector{}}
}

// MustRegister panics on a duplicate name; registration happens in package init.
func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		if _, exists := r.collectors[item.name()]; exists {
			panic("metrics collector already registered: " + item.name())
		}
		r.collectors[item.name()] = item
	}
}

// Handler serves every collector in name order.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		r.mu.RLock()
		names := make([]string, 0, len(r.collectors))
		for name := range r.collectors {
			names = append(names, name)
		}
		sort.Strings(names)
		var sb strings.Builder
		for _, name := range names {
			r.collectors[name].writePrometheus(&sb)
		}
		r.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(sb.String()))
	})
}

var Default = NewRegistry()

func DefaultHandler() http.Handler {
	return Default.Handler()
}

// Gauge counts things that come and go, such as open viewer streams.
type Gauge struct {
	opts  Opts
	value atomic.Int64
}

func NewGauge(opts Opts) *Gauge {
	return &Gauge{opts: opts}
}

func (g *Gauge) name() string { return g.opts.Name }

func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }

func (g *Gauge) Value() float64 {
	return float64(g.value.Load())
}

func (g *Gauge) writePrometheus(sb *strings.Builder) {
	writeSample(sb, g.opts, "gauge", g.Value())
}

// CounterVec is a monotonic counter partitioned by label values.
type CounterVec struct {
	opts       Opts
	labelNames []string

	mu     sync.RWMutex
	values map[string]float64
}

func NewCounterVec(opts Opts, labelNames []string) *CounterVec {
	return &CounterVec{
		opts:       opts,
		labelNames: append([]string(nil), labelNames...),
		values:     map[string]float64{},
	}
}

func (c *CounterVec) name() string { return c.opts.Name }

// WithLabelValues binds one label combination. A call with the wrong number of
// values yields a counter whose increments are dropped.
func (c *CounterVec) WithLabelValues(values ...string) *Counter {
	if len(values) != len(c.labelNames) {
		return nil
	}
	return &Counter{parent: c, key: labelKey(values)}
}

// Value returns the current count for one label combination.
func (c *CounterVec) Value(labelValues ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[labelKey(labelValues)]
}

func (c *CounterVec) writePrometheus(sb *strings.Builder) {
	c.mu.RLock()
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	counts := make([]float64, len(keys))
	for i, key := range keys {
		counts[i] = c.values[key]
	}
	c.mu.RUnlock()

	writeHead(sb, c.opts, "counter")
	for i, key := range keys {
		sb.WriteString(c.opts.Name)
		if len(c.labelNames) > 0 {
			pairs := make([]string, len(c.labelNames))
			for j, value := range strings.Split(key, "\xff") {
				pairs[j] = c.labelNames[j] + `="` + escapeLabelValue(value) + `"`
			}
			sb.WriteString("{" + strings.Join(pairs, ",") + "}")
		}
		sb.WriteString(" " + formatFloat(counts[i]) + "\n")
	}
}

type Counter struct {
	parent *CounterVec
	key    string
}

// Add ignores negative deltas; counters only go up.
func (c *Counter) Add(v float64) {
	if c == nil || v < 0 {
		return
	}
	c.parent.mu.Lock()
	c.parent.values[c.key] += v
	c.parent.mu.Unlock()
}

func (c *Counter) Inc() { c.Add(1) }

func labelKey(values []string) string {
	return strings.Join(values, "\xff")
}

func writeHead(sb *strings.Builder, opts Opts, metricType string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", opts.Name, opts.Help, opts.Name, metricType)
}

func writeSample(sb *strings.Builder, opts Opts, metricType string, v float64) {
	writeHead(sb, opts, metricType)
	fmt.Fprintf(sb, "%s %s\n", opts.Name, formatFloat(v))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`).Replace(v)
}

// processCollector reports uptime and goroutine count at scrape time.
type processCollector struct {
	started time.Time
}

func (processCollector) name() string { return "process" }

func (p processCollector) writePrometheus(sb *strings.Builder) {
	writeSample(sb, Opts{Name: "process_uptime_seconds", Help: "Seconds since process start."},
		"gauge", time.Since(p.started).Seconds())
	writeSample(sb, Opts{Name: "go_goroutines", Help: "Number of goroutines."},
		"gauge", float64(runtime.NumGoroutine()))
}

func init() {
	Default.MustRegister(processCollector{started: time.Now()})
}
