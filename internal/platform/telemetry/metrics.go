// Package telemetry keeps in-process HTTP and pipeline metrics and serves
// them in the Prometheus text exposition format.
package telemetry

import (
	"errors"
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

// Pipeline counter names.
const (
	DocumentsAnalyzed = "cda_documents_analyzed_total"
	BatchRuns         = "cda_batch_runs_total"
	BatchDocuments    = "cda_batch_documents_total"
	BatchFailures     = "cda_batch_failures_total"
)

var counterHelp = map[string]string{
	DocumentsAnalyzed: "Documents run through the semantic analyzer.",
	BatchRuns:         "Completed batch runs.",
	BatchDocuments:    "Documents extracted by batch runs.",
	BatchFailures:     "Documents batch runs could not process.",
}

var defaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// histogram stores non-cumulative bucket counts; the exporter accumulates.
type histogram struct {
	mu      sync.Mutex
	buckets []int64
	count   int64
	sum     float64
}

func (h *histogram) observe(bounds []float64, v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.buckets == nil {
		h.buckets = make([]int64, len(bounds))
	}
	h.count++
	h.sum += v
	for i, b := range bounds {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

func (h *histogram) snapshot() (cum []int64, count int64, sum float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum = make([]int64, len(h.buckets))
	var running int64
	for i, c := range h.buckets {
		running += c
		cum[i] = running
	}
	return cum, h.count, h.sum
}

type requestKey struct {
	method string
	route  string
	status string
}

// Metrics is safe for concurrent use.
type Metrics struct {
	bounds []float64
	active int64

	mu       sync.RWMutex
	requests map[requestKey]*histogram
	counters map[string]int64
}

func New() *Metrics {
	return &Metrics{
		bounds:   defaultDurationBuckets,
		requests: map[requestKey]*histogram{},
		counters: map[string]int64{},
	}
}

// Add increments a pipeline counter.
func (m *Metrics) Add(name string, delta int64) {
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Counter(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

// Requests returns how many requests matched method, route and status.
func (m *Metrics) Requests(method, route string, status int) int64 {
	m.mu.RLock()
	h := m.requests[requestKey{method, route, strconv.Itoa(status)}]
	m.mu.RUnlock()
	if h == nil {
		return 0
	}
	_, count, _ := h.snapshot()
	return count
}

func (m *Metrics) observe(key requestKey, seconds float64) {
	m.mu.RLock()
	h := m.requests[key]
	m.mu.RUnlock()
	if h == nil {
		m.mu.Lock()
		if h = m.requests[key]; h == nil {
			h = &histogram{}
			m.requests[key] = h
		}
		m.mu.Unlock()
	}
	h.observe(m.bounds, seconds)
}

// Middleware records request durations labelled by the route pattern, so
// /documents/:id stays one series however many ids are requested.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&m.active, -1)
			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.observe(requestKey{c.Request().Method, route, strconv.Itoa(status)}, time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves GET /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
		return c.String(http.StatusOK, m.Render())
	}
}

// Render writes every series in a stable order.
func (m *Metrics) Render() string {
	var b strings.Builder

	b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
	m.mu.RLock()
	keys := make([]requestKey, 0, len(m.requests))
	for k := range m.requests {
		keys = append(keys, k)
	}
	hists := make(map[requestKey]*histogram, len(keys))
	for _, k := range keys {
		hists[k] = m.requests[k]
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].status < keys[j].status
	})
	for _, k := range keys {
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", k.method, k.route, k.status)
		cum, count, sum := hists[k].snapshot()
		for i, bound := range m.bounds {
			var n int64
			if i < len(cum) {
				n = cum[i]
			}
			fmt.Fprintf(&b, "http_server_request_duration_seconds_bucket{%s,le=%q} %d\n", labels, formatFloat(bound), n)
		}
		fmt.Fprintf(&b, "http_server_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, count)
		fmt.Fprintf(&b, "http_server_request_duration_seconds_sum{%s} %s\n", labels, formatFloat(sum))
		fmt.Fprintf(&b, "http_server_request_duration_seconds_count{%s} %d\n", labels, count)
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	names := make([]string, 0, len(counterHelp))
	for name := range counterHelp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "# HELP %s %s\n", name, counterHelp[name])
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		fmt.Fprintf(&b, "%s %d\n", name, m.Counter(name))
	}
	return b.String()
}

func formatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
