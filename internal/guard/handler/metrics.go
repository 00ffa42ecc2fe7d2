package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cgProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cg_proposals_total",
		Help: "Total action proposals by outcome (accepted, rejected, duplicate, rate_limited, oversize).",
	}, []string{"outcome"})

	cgViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cg_policy_violations_total",
		Help: "Total policy violations by rule name.",
	}, []string{"rule"})

	cgEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cg_events_appended_total",
		Help: "Total events appended to the causal log.",
	})

	cgCollectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cg_signature_collections_total",
		Help: "Total signature collection attempts by result.",
	}, []string{"result"})

	cgValidatorProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cg_validator_probes_total",
		Help: "Total validator health probes by result.",
	}, []string{"result"})

	cgRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cg_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	cgRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cg_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		cgRequestsTotal.WithLabelValues(method, path, status).Inc()
		cgRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordProposal records one proposal outcome.
func RecordProposal(outcome string) {
	cgProposalsTotal.WithLabelValues(outcome).Inc()
}

// RecordViolation records a policy violation by rule name.
func RecordViolation(rule string) {
	cgViolationsTotal.WithLabelValues(rule).Inc()
}

// RecordEventAppend records one causal log append.
func RecordEventAppend() {
	cgEventsTotal.Inc()
}

// RecordCollection records a signature collection attempt.
func RecordCollection(success bool) {
	if success {
		cgCollectionsTotal.WithLabelValues("success").Inc()
	} else {
		cgCollectionsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordValidatorProbe records a validator health probe result.
func RecordValidatorProbe(success bool) {
	if success {
		cgValidatorProbesTotal.WithLabelValues("success").Inc()
	} else {
		cgValidatorProbesTotal.WithLabelValues("failure").Inc()
	}
}
