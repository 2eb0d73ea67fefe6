// Package metrics holds the Prometheus collectors exported on the service port.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

// Transition outcomes.
const (
	OutcomeSkipped  = "skipped"
	OutcomeNotFound = "not_found"
	OutcomeMoved    = "moved"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
)

var (
	// Registry is what /metrics serves.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	JSONAPICalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jsonapi_calls_total",
		Help:      "JSON API method calls by method and result.",
	}, []string{"method", "result"})

	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_transitions_total",
		Help:      "Request to project transitions by outcome.",
	}, []string{"outcome", "mode"})

	TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_processed_total",
		Help:      "Background tasks handled by type and result.",
	}, []string{"type", "result"})

	WizardSubmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wizard_submissions_total",
		Help:      "Request form wizards submitted.",
	})

	RealtimeSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_subscribers",
		Help:      "Open message stream subscriptions.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests, HTTPDuration, JSONAPICalls, Transitions,
		TasksProcessed, WizardSubmissions, RealtimeSubscribers,
	)
}

// Handler serves the registry in the text exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware records count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// TaskResult maps a handler error to the result label.
func TaskResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
