package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Dispatch
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_messages_sent_total",
			Help: "Messages accepted by the gateway, by acknowledgment status.",
		},
		[]string{"status"},
	)
	sendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_send_failures_total",
			Help: "Gateway send failures by kind (transient or fatal).",
		},
		[]string{"kind"},
	)
	suppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_recipients_suppressed_total",
			Help: "Recipients skipped because they opted out.",
		},
	)
	rateDeferrals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_rate_limit_deferrals_total",
			Help: "Queue passes deferred because a send cap was reached.",
		},
	)
	gatewayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campaign_gateway_request_duration_seconds",
			Help:    "Gateway send call duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	queueRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_queue_passes_total",
			Help: "Dispatcher passes by resulting queue status.",
		},
		[]string{"status"},
	)

	// Callbacks
	webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_webhooks_total",
			Help: "Gateway callbacks received, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	optOuts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_opt_outs_total",
			Help: "Opt-outs recorded from inbound keywords.",
		},
	)
	insightsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_insights_created_total",
			Help: "Insights generated, by metric.",
		},
		[]string{"metric"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			messagesSent,
			sendFailures,
			suppressed,
			rateDeferrals,
			gatewayLatency,
			queueRuns,

			webhooks,
			optOuts,
			insightsCreated,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ObserveHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// --- HTTP ---
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// --- Dispatch ---
func IncSent(status string)          { messagesSent.WithLabelValues(status).Inc() }
func IncSendFailure(kind string)     { sendFailures.WithLabelValues(kind).Inc() }
func IncSuppressed()                 { suppressed.Inc() }
func IncRateDeferral()               { rateDeferrals.Inc() }
func ObserveGateway(d time.Duration) { gatewayLatency.Observe(d.Seconds()) }
func IncQueuePass(status string)     { queueRuns.WithLabelValues(status).Inc() }

// --- Callbacks ---
func IncWebhook(kind, outcome string) { webhooks.WithLabelValues(kind, outcome).Inc() }
func IncOptOut()                      { optOuts.Inc() }
func IncInsight(metric string)        { insightsCreated.WithLabelValues(metric).Inc() }
