package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
)

// Tracker event types.
const (
	EventStorageWriteFailed = "storage_write_failed"
	EventAppShutdown        = "app_shutdown"
	EventBatchLoaded        = "batch_loaded"
)

// Event is the JSON document posted to the tracking endpoint.
type Event struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	AppID     string         `json:"app_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Tracker posts lifecycle events to an HTTP endpoint and, when a backup
// directory is configured, keeps a local JSON copy of each. Sends happen in
// the background; Flush waits for them.
type Tracker struct {
	endpoint string
	appID    string
	client   *http.Client
	backup   *FileBackup
	retries  int
	delay    time.Duration
	now      func() time.Time
	logger   *slog.Logger

	pending sync.WaitGroup
}

// NewTracker creates a tracker. Either the endpoint or the backup
// directory may be empty, not both.
func NewTracker(cfg config.TrackerConfig) (*Tracker, error) {
	if cfg.Endpoint == "" && cfg.BackupDir == "" {
		return nil, fmt.Errorf("tracker needs an endpoint or a backup dir")
	}

	t := &Tracker{
		endpoint: cfg.Endpoint,
		appID:    cfg.AppID,
		client:   &http.Client{Timeout: 30 * time.Second},
		retries:  3,
		delay:    time.Second,
		now:      time.Now,
		logger:   slog.With("component", "tracker"),
	}

	if cfg.BackupDir != "" {
		backup, err := NewFileBackup(cfg.BackupDir)
		if err != nil {
			return nil, fmt.Errorf("create file backup: %w", err)
		}
		t.backup = backup
	}

	return t, nil
}

func (t *Tracker) ReportAttemptFailure(f AttemptFailure) {
	data := map[string]any{
		"bucket":     f.Bucket,
		"key":        f.Key,
		"attempt":    f.Attempt,
		"elapsed_ms": f.Elapsed.Milliseconds(),
		"kind":       f.Kind,
	}
	if f.Err != nil {
		data["error"] = f.Err.Error()
	}
	t.emit(EventStorageWriteFailed, data)
}

func (t *Tracker) ReportShutdown(s Shutdown) {
	t.emit(EventAppShutdown, map[string]any{
		"bucket":     s.Bucket,
		"key":        s.Key,
		"attempts":   s.Attempts,
		"elapsed_ms": s.Elapsed.Milliseconds(),
		"reason":     s.Reason,
	})
}

func (t *Tracker) ReportBatchMetrics(m BatchMetrics) {
	data := map[string]any{
		"streams":  m.Streams,
		"records":  m.Records,
		"failed":   m.Failed,
		"bytes":    m.Bytes,
		"attempts": m.Attempts,
	}
	if !m.Earliest.IsZero() {
		data["latency_ms"] = t.now().Sub(m.Earliest).Milliseconds()
	}
	t.emit(EventBatchLoaded, data)
}

// CaptureError is not tracked as an event.
func (t *Tracker) CaptureError(error) {}

// Flush waits for in-flight events.
func (t *Tracker) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		t.logger.Warn("flush timed out with events still pending", "timeout", timeout)
		return false
	}
}

// Close releases resources.
func (t *Tracker) Close() error {
	return nil
}

func (t *Tracker) emit(eventType string, data map[string]any) {
	evt := &Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		AppID:     t.appID,
		Timestamp: t.now().UTC(),
		Data:      data,
	}

	t.pending.Add(1)
	go func() {
		defer t.pending.Done()

		if t.backup != nil {
			if err := t.backup.Save(evt); err != nil {
				t.logger.Warn("backup failed", "event_type", evt.EventType, "error", err)
			}
		}
		if t.endpoint == "" {
			return
		}
		if err := t.postWithRetry(context.Background(), evt); err != nil {
			t.logger.Warn("event not delivered", "event_type", evt.EventType, "error", err)
		}
	}()
}

// postWithRetry sends the event to the endpoint with retries.
func (t *Tracker) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := t.delay

	for attempt := 1; attempt <= t.retries; attempt++ {
		err := t.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < t.retries {
			t.logger.Debug("post failed, retrying", "attempt", attempt, "retries", t.retries, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", t.retries, lastErr)
}

// post sends a single POST request to the endpoint.
func (t *Tracker) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.logger.Debug("event posted", "event_type", evt.EventType, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// FileBackup saves tracker events to local files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates the backup directory if needed.
func NewFileBackup(dir string) (*FileBackup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Save writes an event to {timestamp}_{event_type}_{event_id}.json.
func (f *FileBackup) Save(evt *Event) error {
	filename := fmt.Sprintf("%s_%s_%s.json",
		evt.Timestamp.Format("20060102T150405.000Z"),
		evt.EventType,
		evt.EventID,
	)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(filepath.Join(f.dir, filename), data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
