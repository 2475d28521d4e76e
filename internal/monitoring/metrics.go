package monitoring

import (
	"context"
	"strconv"
	"time"

	"flowdesk/backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowdesk"

// Metrics owns a private registry so tests can build as many as they like.
// It implements the observer interfaces of the worker, outbox, notify and
// realtime packages.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	activeRequests  prometheus.Gauge
	responseSize    *prometheus.HistogramVec

	effects     *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	emails      *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec

	startTime time.Time
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		activeRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Requests currently being served",
		}),
		responseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "Size of HTTP responses in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path"}),
		effects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_total",
			Help:      "Lifecycle side effects by kind and outcome",
		}, []string{"kind", "outcome"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Reminder job attempts by type and outcome",
		}, []string{"type", "outcome"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Reminder job handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		emails: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Emails by template and outcome",
		}, []string{"template", "outcome"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_deliveries_total",
			Help:      "Realtime event deliveries by outcome",
		}, []string{"outcome"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_depth",
			Help:      "Jobs waiting in each reminder queue",
		}, []string{"queue"}),
		startTime: time.Now(),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Middleware records request metrics labelled by route template, so path
// parameters do not explode the label space.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.activeRequests.Inc()

		c.Next()

		m.activeRequests.Dec()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		m.requestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		m.requestTotal.WithLabelValues(method, path, status).Inc()
		if size := c.Writer.Size(); size > 0 {
			m.responseSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return gin.WrapH(h)
}

func (m *Metrics) ObserveEffect(kind, outcome string) {
	m.effects.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveJob(jobType, outcome string, took time.Duration) {
	m.jobs.WithLabelValues(jobType, outcome).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(took.Seconds())
}

func (m *Metrics) ObserveEmail(template, outcome string) {
	m.emails.WithLabelValues(template, outcome).Inc()
}

func (m *Metrics) ObserveDelivery(outcome string) {
	m.deliveries.WithLabelValues(outcome).Inc()
}

type QueueSizer interface {
	Sizes(ctx context.Context) (worker.QueueSizes, error)
}

// WatchQueue samples queue depths every interval until ctx is done.
func (m *Metrics) WatchQueue(ctx context.Context, q QueueSizer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.sampleQueue(ctx, q)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Metrics) sampleQueue(ctx context.Context, q QueueSizer) {
	sizes, err := q.Sizes(ctx)
	if err != nil {
		return
	}
	m.queueDepth.WithLabelValues("scheduled").Set(float64(sizes.Scheduled))
	m.queueDepth.WithLabelValues("ready").Set(float64(sizes.Ready))
	m.queueDepth.WithLabelValues("processing").Set(float64(sizes.Processing))
	m.queueDepth.WithLabelValues("dead").Set(float64(sizes.Dead))
}
