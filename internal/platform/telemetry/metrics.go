// Package telemetry records HTTP server metrics and serves them in the
// Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type histogram struct {
	boundaries []float64
	counts     []int64 // len(boundaries)+1, last is +Inf
	count      int64
	sumBits    uint64
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries: boundaries,
		counts:     make([]int64, len(boundaries)+1),
	}
}

func (h *histogram) observe(v float64) {
	idx := sort.SearchFloat64s(h.boundaries, v)
	atomic.AddInt64(&h.counts[idx], 1)
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sumBits)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sumBits, old, next) {
			return
		}
	}
}

func (h *histogram) sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sumBits))
}

// cumulative returns bucket counts in Prometheus "le" order.
func (h *histogram) cumulative() []int64 {
	out := make([]int64, len(h.counts))
	var running int64
	for i := range h.counts {
		running += atomic.LoadInt64(&h.counts[i])
		out[i] = running
	}
	return out
}

type requestKey struct {
	method string
	route  string
	status int
}

type routeKey struct {
	method string
	route  string
}

// GaugeFunc reads a point-in-time value when metrics are scraped.
type GaugeFunc func() float64

type gauge struct {
	name string
	help string
	read GaugeFunc
}

// Registry holds the process's HTTP metrics.
type Registry struct {
	mu        sync.RWMutex
	requests  map[requestKey]int64
	durations map[routeKey]*histogram
	gauges    []gauge
	inFlight  int64
	startedAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		requests:  make(map[requestKey]int64),
		durations: make(map[routeKey]*histogram),
		startedAt: time.Now(),
	}
}

// RegisterGauge adds a gauge read at scrape time. Names should already be in
// Prometheus form (snake_case with a unit suffix where one applies).
func (r *Registry) RegisterGauge(name, help string, fn GaugeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges = append(r.gauges, gauge{name: name, help: help, read: fn})
}

func (r *Registry) record(method, route string, status int, elapsed time.Duration) {
	rk := routeKey{method: method, route: route}

	r.mu.Lock()
	r.requests[requestKey{method: method, route: route, status: status}]++
	h, ok := r.durations[rk]
	if !ok {
		h = newHistogram(defaultDurationBuckets)
		r.durations[rk] = h
	}
	r.mu.Unlock()

	h.observe(elapsed.Seconds())
}

// RequestCount returns how many requests completed for the route and status.
func (r *Registry) RequestCount(method, route string, status int) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requests[requestKey{method: method, route: route, status: status}]
}

// InFlight returns the number of requests currently being served.
func (r *Registry) InFlight() int64 {
	return atomic.LoadInt64(&r.inFlight)
}

// Begin marks a request as in flight and returns the func that records its
// outcome. route should be the matched pattern so path parameters do not
// explode label cardinality.
func (r *Registry) Begin(method string) func(route string, status int) {
	atomic.AddInt64(&r.inFlight, 1)
	start := time.Now()
	return func(route string, status int) {
		atomic.AddInt64(&r.inFlight, -1)
		if route == "" {
			route = "unmatched"
		}
		r.record(method, route, status, time.Since(start))
	}
}

// Handler serves the registry at /metrics.
func (r *Registry) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
		return c.String(http.StatusOK, r.expose())
	}
}

func (r *Registry) expose() string {
	r.mu.RLock()
	requests := make(map[requestKey]int64, len(r.requests))
	for k, v := range r.requests {
		requests[k] = v
	}
	durations := make(map[routeKey]*histogram, len(r.durations))
	for k, v := range r.durations {
		durations[k] = v
	}
	gauges := append([]gauge(nil), r.gauges...)
	r.mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP http_requests_total Completed HTTP requests.\n")
	b.WriteString("# TYPE http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(requests))
	for k := range requests {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		x, y := reqKeys[i], reqKeys[j]
		if x.route != y.route {
			return x.route < y.route
		}
		if x.method != y.method {
			return x.method < y.method
		}
		return x.status < y.status
	})
	for _, k := range reqKeys {
		fmt.Fprintf(&b, "http_requests_total{method=%q,route=%q,status=\"%d\"} %d\n",
			k.method, k.route, k.status, requests[k])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_request_duration_seconds Time spent serving HTTP requests.\n")
	b.WriteString("# TYPE http_request_duration_seconds histogram\n")
	routeKeys := make([]routeKey, 0, len(durations))
	for k := range durations {
		routeKeys = append(routeKeys, k)
	}
	sort.Slice(routeKeys, func(i, j int) bool {
		if routeKeys[i].route != routeKeys[j].route {
			return routeKeys[i].route < routeKeys[j].route
		}
		return routeKeys[i].method < routeKeys[j].method
	})
	for _, k := range routeKeys {
		h := durations[k]
		labels := fmt.Sprintf("method=%q,route=%q", k.method, k.route)
		cum := h.cumulative()
		for i, le := range h.boundaries {
			fmt.Fprintf(&b, "http_request_duration_seconds_bucket{%s,le=%q} %d\n",
				labels, strconv.FormatFloat(le, 'g', -1, 64), cum[i])
		}
		fmt.Fprintf(&b, "http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, cum[len(cum)-1])
		fmt.Fprintf(&b, "http_request_duration_seconds_sum{%s} %g\n", labels, h.sum())
		fmt.Fprintf(&b, "http_request_duration_seconds_count{%s} %d\n", labels, atomic.LoadInt64(&h.count))
	}
	b.WriteByte('\n')

	writeGauge(&b, "http_requests_in_flight", "HTTP requests currently being served.", float64(r.InFlight()))
	writeGauge(&b, "process_uptime_seconds", "Seconds since the server started.", time.Since(r.startedAt).Seconds())
	for _, g := range gauges {
		writeGauge(&b, g.name, g.help, g.read())
	}
	return b.String()
}

func writeGauge(b *strings.Builder, name, help string, v float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, v)
}
