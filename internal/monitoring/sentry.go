package monitoring

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
)

// Sentry sends failures and shutdowns to Sentry.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry creates a Sentry backend with its own hub.
func NewSentry(cfg config.SentryConfig) (*Sentry, error) {
	return newSentry(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
}

func newSentry(opts sentry.ClientOptions) (*Sentry, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create sentry client: %w", err)
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) ReportAttemptFailure(f AttemptFailure) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("bucket", f.Bucket)
		scope.SetTag("kind", f.Kind)
		scope.SetExtra("key", f.Key)
		scope.SetExtra("attempt", f.Attempt)
		scope.SetExtra("elapsed_ms", f.Elapsed.Milliseconds())
		err := f.Err
		if err == nil {
			err = fmt.Errorf("upload attempt %d failed", f.Attempt)
		}
		s.hub.CaptureException(err)
	})
}

func (s *Sentry) ReportShutdown(sd Shutdown) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("bucket", sd.Bucket)
		scope.SetExtra("key", sd.Key)
		scope.SetExtra("attempts", sd.Attempts)
		scope.SetExtra("elapsed_ms", sd.Elapsed.Milliseconds())
		s.hub.CaptureMessage(sd.Reason)
	})
}

// ReportBatchMetrics only leaves a breadcrumb.
func (s *Sentry) ReportBatchMetrics(m BatchMetrics) {
	s.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: "batch",
		Message:  fmt.Sprintf("loaded %d records in %d objects", m.Records, m.Streams),
		Level:    sentry.LevelInfo,
	}, nil)
}

func (s *Sentry) CaptureError(err error) {
	if err != nil {
		s.hub.CaptureException(err)
	}
}

func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

func (s *Sentry) Close() error {
	s.hub.Flush(2 * time.Second)
	return nil
}
