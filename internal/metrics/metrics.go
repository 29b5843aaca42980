package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ciphare",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ciphare",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	sharesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ciphare",
		Name:      "shares_stored_total",
		Help:      "Shares created.",
	})

	storedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ciphare",
		Name:      "stored_bytes_total",
		Help:      "Ciphertext bytes written to the blob store.",
	})

	retrievals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ciphare",
		Name:      "retrievals_total",
		Help:      "Retrieve attempts by outcome.",
	}, []string{"outcome"})

	compensations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ciphare",
		Name:      "compensating_deletes_total",
		Help:      "Compensating blob deletes after a failed store, by result.",
	}, []string{"result"})

	orphans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ciphare",
		Name:      "orphaned_blobs_total",
		Help:      "Blobs left behind by a failed compensating delete.",
	})

	janitorDeletes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ciphare",
		Name:      "janitor_deletes_total",
		Help:      "Records swept and orphan blobs collected.",
	}, []string{"worker"})
)

// InitMetrics registers the collectors with the default registry. It is
// safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sharesStored,
			storedBytes,
			retrievals,
			compensations,
			orphans,
			janitorDeletes,
		)
	})
}

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}
