package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedRoute is the path label for requests no route matched.
const unmatchedRoute = "unmatched"

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "petmail",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})

	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "petmail",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "path"})

	requestsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "petmail",
		Subsystem: "http",
		Name:      "requests_inflight",
		Help:      "HTTP requests currently being served.",
	})

	// Webhook bodies carry attachments: 1KiB..64MiB.
	requestBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "petmail",
		Subsystem: "http",
		Name:      "request_size_bytes",
		Help:      "HTTP request body sizes by method and route.",
		Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 9),
	}, []string{"method", "path"})
)

// Metrics records request counts, latency and body size labelled by route
// pattern, so raw URLs never become label values.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestsInflight.Inc()
		defer requestsInflight.Dec()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m := c.Request.Method
		requestsTotal.WithLabelValues(m, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestSeconds.WithLabelValues(m, route).Observe(time.Since(start).Seconds())
		if n := c.Request.ContentLength; n >= 0 {
			requestBytes.WithLabelValues(m, route).Observe(float64(n))
		}
	}
}
