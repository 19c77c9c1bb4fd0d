// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wirepass/internal/proxy"
)

// Default histogram buckets for proxied request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	TunnelsOpen  prometheus.Gauge
	TunnelsTotal prometheus.Counter

	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirepass_http_requests_total",
			Help: "Total proxied HTTP requests by method and upstream status.",
		}, []string{"method", "status_code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wirepass_http_request_duration_seconds",
			Help:    "Proxied HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		TunnelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wirepass_ws_tunnels_open",
			Help: "Number of websocket tunnels currently spliced.",
		}),

		TunnelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wirepass_ws_tunnels_total",
			Help: "Total websocket tunnels established.",
		}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirepass_errors_total",
			Help: "Total proxy errors by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.TunnelsOpen,
		m.TunnelsTotal,
		m.ErrorsTotal,
	)

	return m
}

// Observe subscribes the collectors to a proxy server's event hooks. Request
// latency is measured from the start event to the end of the relay.
func (m *Metrics) Observe(s *proxy.Server) {
	var mu sync.Mutex
	started := make(map[*http.Request]time.Time)

	s.OnStart(func(req *http.Request, _ http.ResponseWriter, _ *proxy.Target) {
		mu.Lock()
		started[req] = time.Now()
		mu.Unlock()
		// Client disconnects tear the dispatch down without any event; the
		// request context going away is the backstop that keeps the table
		// from accumulating those entries.
		context.AfterFunc(req.Context(), func() {
			mu.Lock()
			delete(started, req)
			mu.Unlock()
		})
	})

	s.OnEnd(func(req *http.Request, _ http.ResponseWriter, upstream *http.Response) {
		mu.Lock()
		t0, ok := started[req]
		delete(started, req)
		mu.Unlock()

		method := NormalizeMethod(req.Method)
		m.RequestsTotal.WithLabelValues(method, strconv.Itoa(upstream.StatusCode)).Inc()
		if ok {
			m.RequestDuration.WithLabelValues(method).Observe(time.Since(t0).Seconds())
		}
	})

	s.OnError(func(err error, req *http.Request, _ io.Writer, _ *proxy.Target) {
		mu.Lock()
		delete(started, req)
		mu.Unlock()
		m.ErrorsTotal.WithLabelValues(errorKind(err)).Inc()
	})

	s.OnEconnreset(func(err error, req *http.Request, _ io.Writer, _ *proxy.Target) {
		mu.Lock()
		delete(started, req)
		mu.Unlock()
		m.ErrorsTotal.WithLabelValues(errorKind(err)).Inc()
	})

	s.OnOpen(func(net.Conn) {
		m.TunnelsOpen.Inc()
		m.TunnelsTotal.Inc()
	})

	s.OnClose(func(*http.Response, net.Conn, []byte) {
		m.TunnelsOpen.Dec()
	})
}

// errorKind returns a bounded label for the error taxonomy.
func errorKind(err error) string {
	var pe *proxy.Error
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	return "other"
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}
