package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const respCodeLabel = "resp_code"

type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// newMetrics registers on a private registry so several servers can live in
// one process.
func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pegd",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by path and response code",
		}, []string{"path", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pegd",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency by path",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"path"}),
	}
}

func (m *metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" || path == "/metrics" {
			return
		}

		code := c.Writer.Status()
		if v, ok := c.Get(respCodeLabel); ok {
			code = v.(int)
		}

		m.requests.WithLabelValues(path, strconv.Itoa(code)).Inc()
		m.latency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
