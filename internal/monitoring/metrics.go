package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the auth service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	sessionsCreated   prometheus.Counter
	transitions       *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	rpcDuration       *prometheus.HistogramVec
	eventPublishFails prometheus.Counter
}

// NewMetrics creates the collectors on a private registry
func NewMetrics(serviceName string) *Metrics {
	prefix := strings.ReplaceAll(serviceName, "-", "_")
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_sessions_created_total",
			Help: "Authentication sessions created",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_session_transitions_total",
			Help: "Session status transitions by target status",
		}, []string{"status"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_verifications_total",
			Help: "Callback verifications by outcome code",
		}, []string{"code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_rpc_duration_seconds",
			Help:    "Chain RPC latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
		eventPublishFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_event_publish_failures_total",
			Help: "Lifecycle events that could not be forwarded",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.sessionsCreated,
		m.transitions,
		m.verifications,
		m.rpcDuration,
		m.eventPublishFails,
	)
	return m
}

// Registry exposes the registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Verification records a callback outcome; code is "ok" on success.
func (m *Metrics) Verification(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.verifications.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveRPC(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.rpcDuration.WithLabelValues(method, status).Observe(d.Seconds())
}

func (m *Metrics) EventPublishFailed() {
	if m == nil {
		return
	}
	m.eventPublishFails.Inc()
}

// Middleware returns gin middleware that collects HTTP metrics
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Status(404) }
	}
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
