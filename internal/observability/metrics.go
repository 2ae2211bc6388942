package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// webhookEvents is the failure side channel for the provider webhook,
	// which always answers 200.
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicedesk_webhook_events_total",
			Help: "Provider webhook events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	digestTenants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicedesk_digest_tenants_total",
			Help: "Tenants visited by digest runs, by result (sent, skipped, error).",
		},
		[]string{"window", "result"},
	)

	digestRunLat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicedesk_digest_run_duration_seconds",
			Help:    "Duration of digest runs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, webhookEvents, digestTenants, digestRunLat)
}

// Metrics instruments requests. The path label is the registered route,
// falling back to the raw path when nothing matched.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Recorder exposes the domain counters to the packages that produce them.
type Recorder struct{}

func (Recorder) WebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// DigestRun records one scheduler run.
func (Recorder) DigestRun(window string, sent, skipped, failed int, took time.Duration) {
	digestTenants.WithLabelValues(window, "sent").Add(float64(sent))
	digestTenants.WithLabelValues(window, "skipped").Add(float64(skipped))
	digestTenants.WithLabelValues(window, "error").Add(float64(failed))
	digestRunLat.Observe(took.Seconds())
}
