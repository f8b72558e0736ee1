package monitoring

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
)

// Metrics records delivery activity as Prometheus metrics. When a push
// gateway is configured, Flush pushes the registry to it.
type Metrics struct {
	AttemptFailures *prometheus.CounterVec
	Shutdowns       prometheus.Counter
	Errors          prometheus.Counter

	BatchesLoaded  prometheus.Counter
	StreamsLoaded  prometheus.Counter
	RecordsLoaded  prometheus.Counter
	RecordsFailed  prometheus.Counter
	UploadAttempts prometheus.Counter

	BatchBytes   prometheus.Histogram
	BatchLatency prometheus.Histogram

	registry *prometheus.Registry
	pusher   *push.Pusher
	now      func() time.Time
}

// NewMetrics registers the collectors on reg.
func NewMetrics(cfg config.MetricsConfig, reg *prometheus.Registry) *Metrics {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "s3_loader"
	}
	factory := promauto.With(reg)

	m := &Metrics{
		AttemptFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_write_failures_total",
				Help:      "Total number of failed upload attempts",
			},
			[]string{"bucket", "kind"},
		),
		Shutdowns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shutdowns_total",
				Help:      "Fatal shutdowns after the maximum connection time was exceeded",
			},
		),
		Errors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors captured outside the delivery loop",
			},
		),
		BatchesLoaded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_loaded_total",
				Help:      "Total number of batches loaded",
			},
		),
		StreamsLoaded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_loaded_total",
				Help:      "Total number of objects written",
			},
		),
		RecordsLoaded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_loaded_total",
				Help:      "Total number of records delivered to storage",
			},
		),
		RecordsFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_failed_total",
				Help:      "Total number of records routed to the dead-letter sink",
			},
		),
		UploadAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_attempts_total",
				Help:      "Total number of upload attempts, successful or not",
			},
		),
		BatchBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_bytes",
				Help:      "Size of loaded batches in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 15), // 1KB to ~32MB
			},
		),
		BatchLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_latency_seconds",
				Help:      "Time from the earliest record in a batch to its delivery",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27m
			},
		),
		registry: reg,
		now:      time.Now,
	}

	if cfg.Pushgateway != "" {
		job := cfg.Job
		if job == "" {
			job = "s3-loader"
		}
		m.pusher = push.New(cfg.Pushgateway, job).Gatherer(reg)
	}

	return m
}

func (m *Metrics) ReportAttemptFailure(f AttemptFailure) {
	m.AttemptFailures.WithLabelValues(f.Bucket, f.Kind).Inc()
}

func (m *Metrics) ReportShutdown(Shutdown) {
	m.Shutdowns.Inc()
}

func (m *Metrics) ReportBatchMetrics(b BatchMetrics) {
	m.BatchesLoaded.Inc()
	m.StreamsLoaded.Add(float64(b.Streams))
	m.RecordsLoaded.Add(float64(b.Records))
	m.RecordsFailed.Add(float64(b.Failed))
	m.UploadAttempts.Add(float64(b.Attempts))
	m.BatchBytes.Observe(float64(b.Bytes))
	if !b.Earliest.IsZero() {
		m.BatchLatency.Observe(m.now().Sub(b.Earliest).Seconds())
	}
}

func (m *Metrics) CaptureError(error) {
	m.Errors.Inc()
}

// Flush pushes to the gateway if one is configured.
func (m *Metrics) Flush(timeout time.Duration) bool {
	if m.pusher == nil {
		return true
	}

	done := make(chan error, 1)
	go func() { done <- m.pusher.Push() }()

	select {
	case err := <-done:
		if err != nil {
			slog.Warn("push to gateway failed", "component", "metrics", "error", err)
			return false
		}
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *Metrics) Close() error {
	return nil
}

// StartServer serves /metrics from gatherer plus a /health probe.
// Blocks until the server exits.
func StartServer(address string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}
