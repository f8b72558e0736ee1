// Package loader hands one batch to storage: failed records go to the
// dead-letter sink, serialized streams go through the delivery loop.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/emitter"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/failure"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/logging"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/monitoring"
)

// Deliverer is satisfied by *emitter.Emitter.
type Deliverer interface {
	Deliver(ctx context.Context, stream emitter.NamedStream) emitter.Delivery
}

// Batch is one unit of work: the serialized streams to store and the
// per-record inputs they were built from.
type Batch struct {
	Streams []emitter.NamedStream
	Inputs  []failure.EmitterInput
}

// Result summarizes a loaded batch.
type Result struct {
	Deliveries []emitter.Delivery
	Routed     int
}

// Loader processes batches.
type Loader struct {
	emitter     Deliverer
	router      *failure.Router
	monitor     monitoring.Monitor
	maxInFlight int
	log         *slog.Logger
}

// New creates a loader. maxInFlight bounds concurrent deliveries per batch.
func New(d Deliverer, router *failure.Router, monitor monitoring.Monitor, maxInFlight int) *Loader {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if monitor == nil {
		monitor = monitoring.Noop{}
	}
	return &Loader{
		emitter:     d,
		router:      router,
		monitor:     monitor,
		maxInFlight: maxInFlight,
		log:         logging.Component("loader"),
	}
}

// Load routes the batch's failures, then delivers its streams. Streams are
// delivered even when the dead-letter sink fails; that error is returned
// alongside the deliveries. Delivery itself cannot fail: it returns once
// every stream is stored or the process exits.
func (l *Loader) Load(ctx context.Context, batch Batch) (Result, error) {
	var res Result

	routed, routeErr := l.router.Route(ctx, batch.Inputs)
	res.Routed = routed
	if routeErr != nil {
		l.monitor.CaptureError(routeErr)
	}

	res.Deliveries = make([]emitter.Delivery, len(batch.Streams))

	g := new(errgroup.Group)
	g.SetLimit(l.maxInFlight)
	for i, stream := range batch.Streams {
		g.Go(func() error {
			sctx := logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
			logging.WorkerLogger(i).Debug("delivering stream",
				"correlation_id", logging.CorrelationID(sctx),
				"name", stream.Name,
				"bytes", len(stream.Data))
			res.Deliveries[i] = l.emitter.Deliver(sctx, stream)
			return nil
		})
	}
	// Deliver never returns an error.
	_ = g.Wait()

	metrics := summarize(batch, res)
	l.monitor.ReportBatchMetrics(metrics)
	l.log.Info("batch loaded",
		"streams", metrics.Streams,
		"records", metrics.Records,
		"failed", metrics.Failed,
		"bytes", metrics.Bytes,
		"attempts", metrics.Attempts)

	if routeErr != nil {
		return res, fmt.Errorf("route failed records: %w", routeErr)
	}
	return res, nil
}

func summarize(batch Batch, res Result) monitoring.BatchMetrics {
	m := monitoring.BatchMetrics{
		Streams: len(res.Deliveries),
		Failed:  res.Routed,
	}

	var earliest time.Time
	for _, in := range batch.Inputs {
		if in.Processed == nil {
			continue
		}
		m.Records++
		ts := in.Processed.Timestamp
		if !ts.IsZero() && (earliest.IsZero() || ts.Before(earliest)) {
			earliest = ts
		}
	}
	m.Earliest = earliest

	for _, d := range res.Deliveries {
		m.Bytes += d.Bytes
		m.Attempts += d.Attempts
	}
	return m
}
