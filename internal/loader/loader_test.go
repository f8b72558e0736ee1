package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/emitter"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/failure"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/logging"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/monitoring"
)

type fakeDeliverer struct {
	mu       sync.Mutex
	streams  []string
	ids      map[string]bool
	inFlight atomic.Int32
	peak     atomic.Int32
	hold     time.Duration
}

func (d *fakeDeliverer) Deliver(ctx context.Context, s emitter.NamedStream) emitter.Delivery {
	n := d.inFlight.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(d.hold)
	d.inFlight.Add(-1)

	d.mu.Lock()
	d.streams = append(d.streams, s.Name)
	if d.ids == nil {
		d.ids = map[string]bool{}
	}
	d.ids[logging.CorrelationID(ctx)] = true
	d.mu.Unlock()

	return emitter.Delivery{Key: "k/" + s.Name, Attempts: 2, Bytes: int64(len(s.Data))}
}

type fakeSink struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (s *fakeSink) Store(_ context.Context, payload, _ string, _ bool) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

type batchMonitor struct {
	monitoring.Noop
	mu      sync.Mutex
	batches []monitoring.BatchMetrics
	errs    []error
}

func (m *batchMonitor) ReportBatchMetrics(b monitoring.BatchMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, b)
}

func (m *batchMonitor) CaptureError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

func TestLoad(t *testing.T) {
	d := &fakeDeliverer{hold: 10 * time.Millisecond}
	sink := &fakeSink{}
	mon := &batchMonitor{}
	l := New(d, failure.NewRouter(sink), mon, 2)

	early := time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)
	batch := Batch{
		Streams: []emitter.NamedStream{
			{Name: "a", Data: []byte("aaaa")},
			{Name: "b", Data: []byte("bb")},
			{Name: "c", Data: []byte("c")},
			{Name: "d", Data: []byte("dd")},
		},
		Inputs: []failure.EmitterInput{
			failure.Succeeded([]byte("1"), early.Add(time.Minute)),
			failure.Failed("bad", "not json"),
			failure.Succeeded([]byte("2"), early),
			failure.Succeeded([]byte("3"), time.Time{}),
		},
	}

	res, err := l.Load(context.Background(), batch)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if res.Routed != 1 || len(sink.payloads) != 1 {
		t.Errorf("routed=%d stored=%d, want 1", res.Routed, len(sink.payloads))
	}
	if len(res.Deliveries) != 4 {
		t.Fatalf("got %d deliveries, want 4", len(res.Deliveries))
	}
	for i, name := range []string{"a", "b", "c", "d"} {
		if res.Deliveries[i].Key != "k/"+name {
			t.Errorf("delivery %d key = %q, want k/%s", i, res.Deliveries[i].Key, name)
		}
	}
	if peak := d.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
	if len(d.ids) != 4 {
		t.Errorf("got %d distinct correlation ids, want 4", len(d.ids))
	}

	if len(mon.batches) != 1 {
		t.Fatalf("reported %d batches, want 1", len(mon.batches))
	}
	got := mon.batches[0]
	want := monitoring.BatchMetrics{Streams: 4, Records: 3, Failed: 1, Bytes: 9, Attempts: 8, Earliest: early}
	if got != want {
		t.Errorf("batch metrics = %+v, want %+v", got, want)
	}
}

func TestLoadSinkFailureStillDelivers(t *testing.T) {
	d := &fakeDeliverer{}
	sinkErr := errors.New("bucket gone")
	mon := &batchMonitor{}
	l := New(d, failure.NewRouter(&fakeSink{err: sinkErr}), mon, 1)

	res, err := l.Load(context.Background(), Batch{
		Streams: []emitter.NamedStream{{Name: "a"}, {Name: "b"}},
		Inputs: []failure.EmitterInput{
			failure.Succeeded([]byte("ok"), time.Time{}),
			failure.Failed("bad", "e"),
		},
	})
	if !errors.Is(err, failure.ErrSink) || !errors.Is(err, sinkErr) {
		t.Fatalf("Load() error = %v, want sink error", err)
	}
	if len(d.streams) != 2 {
		t.Errorf("delivered %d streams after a sink failure, want 2", len(d.streams))
	}
	if len(res.Deliveries) != 2 || res.Deliveries[0].Key != "k/a" || res.Deliveries[1].Key != "k/b" {
		t.Errorf("deliveries = %+v", res.Deliveries)
	}
	if res.Routed != 0 {
		t.Errorf("Routed = %d, want 0", res.Routed)
	}
	if len(mon.errs) != 1 {
		t.Errorf("captured %d errors, want 1", len(mon.errs))
	}
	if len(mon.batches) != 1 {
		t.Errorf("reported %d batch metrics, want 1", len(mon.batches))
	}
}

func TestLoadEmptyBatch(t *testing.T) {
	mon := &batchMonitor{}
	l := New(&fakeDeliverer{}, failure.NewRouter(&fakeSink{}), mon, 0)

	res, err := l.Load(context.Background(), Batch{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(res.Deliveries) != 0 || res.Routed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(mon.batches) != 1 || mon.batches[0] != (monitoring.BatchMetrics{}) {
		t.Errorf("batch metrics = %+v", mon.batches)
	}
}
