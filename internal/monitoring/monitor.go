// Package monitoring reports delivery lifecycle events to optional
// observability backends. Every call is best-effort and returns immediately;
// only Flush blocks, and only for the timeout it is given.
package monitoring

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
)

// AttemptFailure describes one failed upload attempt.
type AttemptFailure struct {
	Bucket  string
	Key     string
	Attempt int
	Elapsed time.Duration
	Kind    string // storage.ErrorKind string
	Err     error
}

// Shutdown describes a fatal shutdown caused by an unreachable store.
type Shutdown struct {
	Bucket   string
	Key      string
	Attempts int
	Elapsed  time.Duration
	Reason   string
}

// BatchMetrics summarizes one loaded batch.
type BatchMetrics struct {
	Streams  int
	Records  int
	Failed   int
	Bytes    int64
	Attempts int
	Earliest time.Time // earliest record timestamp, zero if unknown
}

// Monitor is implemented by every backend.
type Monitor interface {
	ReportAttemptFailure(f AttemptFailure)
	ReportShutdown(s Shutdown)
	ReportBatchMetrics(m BatchMetrics)
	CaptureError(err error)

	// Flush waits up to timeout for queued reports to be delivered and
	// reports whether everything was sent.
	Flush(timeout time.Duration) bool
	Close() error
}

// Noop discards everything.
type Noop struct{}

func (Noop) ReportAttemptFailure(AttemptFailure) {}
func (Noop) ReportShutdown(Shutdown)             {}
func (Noop) ReportBatchMetrics(BatchMetrics)     {}
func (Noop) CaptureError(error)                  {}
func (Noop) Flush(time.Duration) bool            { return true }
func (Noop) Close() error                        { return nil }

// Multi fans every call out to a list of enabled backends.
type Multi []Monitor

func (m Multi) ReportAttemptFailure(f AttemptFailure) {
	for _, b := range m {
		b.ReportAttemptFailure(f)
	}
}

func (m Multi) ReportShutdown(s Shutdown) {
	for _, b := range m {
		b.ReportShutdown(s)
	}
}

func (m Multi) ReportBatchMetrics(bm BatchMetrics) {
	for _, b := range m {
		b.ReportBatchMetrics(bm)
	}
}

func (m Multi) CaptureError(err error) {
	for _, b := range m {
		b.CaptureError(err)
	}
}

// Flush flushes all backends concurrently against a shared deadline.
func (m Multi) Flush(timeout time.Duration) bool {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok = true
	)
	for _, b := range m {
		wg.Add(1)
		go func(b Monitor) {
			defer wg.Done()
			if !b.Flush(timeout) {
				mu.Lock()
				ok = false
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()
	return ok
}

func (m Multi) Close() error {
	var errs []error
	for _, b := range m {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds a Monitor from whichever backends are configured. A backend
// without configuration is simply left out; with none the result is Noop.
// reg receives the Prometheus collectors and may be nil when metrics are off.
func New(cfg config.MonitoringConfig, reg *prometheus.Registry) (Monitor, error) {
	var backends Multi

	if cfg.Tracker.Endpoint != "" || cfg.Tracker.BackupDir != "" {
		t, err := NewTracker(cfg.Tracker)
		if err != nil {
			return nil, fmt.Errorf("create tracker: %w", err)
		}
		slog.Info("tracker monitoring enabled", "endpoint", cfg.Tracker.Endpoint, "backup_dir", cfg.Tracker.BackupDir)
		backends = append(backends, t)
	}

	if reg != nil && (cfg.Metrics.Address != "" || cfg.Metrics.Pushgateway != "") {
		backends = append(backends, NewMetrics(cfg.Metrics, reg))
		slog.Info("metrics monitoring enabled", "address", cfg.Metrics.Address, "pushgateway", cfg.Metrics.Pushgateway)
	}

	if cfg.Sentry.DSN != "" {
		s, err := NewSentry(cfg.Sentry)
		if err != nil {
			return nil, fmt.Errorf("create sentry: %w", err)
		}
		slog.Info("sentry monitoring enabled", "environment", cfg.Sentry.Environment)
		backends = append(backends, s)
	}

	if len(backends) == 0 {
		return Noop{}, nil
	}
	return backends, nil
}
