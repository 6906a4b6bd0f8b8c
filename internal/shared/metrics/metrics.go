package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Worker groups the pipeline's Prometheus series. A nil *Worker is a valid no-op.
type Worker struct {
	registry prometheus.Gatherer

	ocrDuration    *prometheus.HistogramVec
	jobsProcessed  *prometheus.CounterVec
	pagesProcessed *prometheus.CounterVec
	ledgerFailures *prometheus.CounterVec
	jobsSwept      prometheus.Counter
	queueMessages  *prometheus.CounterVec
}

// NewWorker registers the worker series with reg. Pass a fresh
// prometheus.NewRegistry() per process (or per test).
func NewWorker(reg *prometheus.Registry) *Worker {
	factory := promauto.With(reg)
	return &Worker{
		registry: reg,
		ocrDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worker_ocr_duration_seconds",
				Help:    "OCR step duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 180},
			},
			[]string{"mime"},
		),
		jobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_jobs_processed_total",
				Help: "Jobs that reached a terminal state",
			},
			[]string{"status"},
		),
		pagesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_pages_processed_total",
				Help: "Pages that went through OCR",
			},
			[]string{"mime"},
		),
		ledgerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_ledger_failures_total",
				Help: "Credit ledger operations that failed",
			},
			[]string{"op"},
		),
		jobsSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "worker_jobs_swept_total",
				Help: "Running jobs failed by the stale-job sweeper",
			},
		),
		queueMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_queue_messages_total",
				Help: "Queue deliveries by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveOCR records how long the OCR step took for a MIME type.
func (m *Worker) ObserveOCR(mime string, d time.Duration) {
	if m == nil {
		return
	}
	m.ocrDuration.WithLabelValues(mime).Observe(d.Seconds())
}

// JobFinished counts a job reaching status.
func (m *Worker) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(status).Inc()
}

// PagesProcessed adds n pages for mime.
func (m *Worker) PagesProcessed(mime string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pagesProcessed.WithLabelValues(mime).Add(float64(n))
}

// LedgerFailure counts a failed ledger operation ("settle", "refund").
func (m *Worker) LedgerFailure(op string) {
	if m == nil {
		return
	}
	m.ledgerFailures.WithLabelValues(op).Inc()
}

// JobSwept counts a stale job failed by the sweeper.
func (m *Worker) JobSwept() {
	if m == nil {
		return
	}
	m.jobsSwept.Inc()
}

// QueueMessage counts a delivery outcome ("received", "completed", "failed", "dropped").
func (m *Worker) QueueMessage(outcome string) {
	if m == nil {
		return
	}
	m.queueMessages.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in Prometheus text format.
func (m *Worker) Handler() gin.HandlerFunc {
	if m == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
