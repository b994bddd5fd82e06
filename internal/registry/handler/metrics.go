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
	certRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certchain_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	certRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "certchain_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	certIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certchain_certificates_issued_total",
		Help: "Total certificates appended to the ledger.",
	})

	certVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certchain_verifications_total",
		Help: "Total verifications by outcome status.",
	}, []string{"status"})

	certTamperFlagsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certchain_tamper_flags_total",
		Help: "Total records newly flagged as tampered.",
	})

	certWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certchain_webhook_deliveries_total",
		Help: "Total webhook deliveries by final result.",
	}, []string{"result"})

	certHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certchain_health_checks_total",
		Help: "Total dependency health checks by dependency and result.",
	}, []string{"dependency", "result"})

	certLedgerRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "certchain_ledger_records",
		Help: "Number of records in the ledger at the last overview or audit.",
	})
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
			path = "unmatched"
		}

		certRequestsTotal.WithLabelValues(method, path, status).Inc()
		certRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordIssuance records a successful certificate issuance.
func RecordIssuance() {
	certIssuedTotal.Inc()
}

// RecordVerification records a verification outcome.
func RecordVerification(status string) {
	certVerificationsTotal.WithLabelValues(status).Inc()
}

// RecordTamperFlag records a record newly flagged as tampered.
func RecordTamperFlag() {
	certTamperFlagsTotal.Inc()
}

// RecordWebhookDelivery records the final result of a webhook delivery.
func RecordWebhookDelivery(success bool) {
	if success {
		certWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		certWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordHealthCheck records a dependency check result.
func RecordHealthCheck(dependency string, success bool) {
	if success {
		certHealthChecksTotal.WithLabelValues(dependency, "success").Inc()
	} else {
		certHealthChecksTotal.WithLabelValues(dependency, "failure").Inc()
	}
}

// SetLedgerRecords sets the ledger record gauge.
func SetLedgerRecords(n float64) {
	certLedgerRecords.Set(n)
}
