// Package deadletter implements the sinks failed records are written to.
package deadletter

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/failure"
)

// Sink is a failure.Sink that owns resources.
type Sink interface {
	failure.Sink
	Close() error
}

// New creates the sink selected by cfg.Backend.
func New(ctx context.Context, cfg config.DeadLetterConfig) (Sink, error) {
	switch cfg.Backend {
	case "", "log":
		return NewWriterSink(os.Stderr), nil
	case "blob":
		return NewBlobSink(ctx, cfg.URL, cfg.Prefix)
	case "postgres":
		return NewPostgresSink(ctx, cfg.DSN, cfg.Table)
	default:
		return nil, fmt.Errorf("unknown dead letter backend: %s", cfg.Backend)
	}
}

// WriterSink writes one payload per line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Store(_ context.Context, payload, _ string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, payload+"\n"); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func (s *WriterSink) Close() error {
	return nil
}
