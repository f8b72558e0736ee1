// Package emitter uploads one serialized batch to object storage, retrying
// with a fixed backoff until it succeeds or the store has been unreachable
// for longer than the maximum connection time, at which point the process
// exits.
package emitter

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/withObsrvr/obsrvr-s3-loader/internal/config"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/logging"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/monitoring"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/pathtmpl"
	"github.com/withObsrvr/obsrvr-s3-loader/internal/storage"
)

const defaultContentType = "application/octet-stream"

// NamedStream is one complete batch ready for a single key.
type NamedStream struct {
	Name      string // file name, without directories
	Directory string // optional directory template, may hold {pattern} placeholders
	Data      []byte
}

// Config holds the settings of the delivery loop.
type Config struct {
	Bucket            string
	OutputDirectory   string
	DateFormat        string
	FilenamePrefix    string
	Compression       string
	ContentType       string
	MaxConnectionTime time.Duration
	BackoffPeriod     time.Duration
	RequestTimeout    time.Duration // per attempt, zero for none
	ShutdownPause     time.Duration
}

// ConfigFrom extracts the emitter settings from the loader configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Bucket:            cfg.Storage.Bucket,
		OutputDirectory:   cfg.Output.Directory,
		DateFormat:        cfg.Output.DateFormat,
		FilenamePrefix:    cfg.Output.FilenamePrefix,
		Compression:       cfg.Output.Compression,
		MaxConnectionTime: cfg.Delivery.MaxConnectionTime,
		BackoffPeriod:     cfg.Delivery.BackoffPeriod,
		RequestTimeout:    cfg.Delivery.RequestTimeout,
		ShutdownPause:     cfg.Delivery.ShutdownPause,
	}
}

// Delivery describes a completed upload.
type Delivery struct {
	Key      string
	URI      string
	Attempts int
	Elapsed  time.Duration
	Bytes    int64
	SHA256   string // hex
}

// Emitter runs the delivery loop. One Emitter may serve many concurrent
// Deliver calls; each call owns its own attempt state.
type Emitter struct {
	cfg     Config
	store   storage.ObjectStore
	monitor monitoring.Monitor
	codec   *Codec

	now   func() time.Time
	sleep func(time.Duration)
	exit  func(code int)
}

// New creates an emitter. A nil monitor reports nothing.
func New(cfg Config, store storage.ObjectStore, monitor monitoring.Monitor) (*Emitter, error) {
	if cfg.BackoffPeriod <= 0 {
		return nil, fmt.Errorf("backoff period must be positive")
	}
	if cfg.MaxConnectionTime <= 0 {
		return nil, fmt.Errorf("max connection time must be positive")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if monitor == nil {
		monitor = monitoring.Noop{}
	}

	codec, err := NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	return &Emitter{
		cfg:     cfg,
		store:   store,
		monitor: monitor,
		codec:   codec,
		now:     time.Now,
		sleep:   time.Sleep,
		exit:    os.Exit,
	}, nil
}

// Close releases the codec.
func (e *Emitter) Close() {
	e.codec.Close()
}

// attemptState is threaded through the loop by value.
type attemptState struct {
	count int
	start time.Time
}

func (s attemptState) next() attemptState {
	return attemptState{count: s.count + 1, start: s.start}
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetry
	outcomeFatal
)

type outcome struct {
	kind   outcomeKind
	reason error
}

// Deliver uploads stream and returns once it is stored. It never returns
// a failure: if the store stays unreachable past MaxConnectionTime the
// process exits with status 1. ctx supplies values only; cancelling it
// does not stop the loop.
func (e *Emitter) Deliver(ctx context.Context, stream NamedStream) Delivery {
	correlationID := logging.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.GenerateCorrelationID()
	}
	fileName := stream.Name + e.codec.Extension
	log := logging.DeliveryLogger(correlationID, e.cfg.Bucket, fileName)

	body := stream.Data
	encoding := e.codec.Encoding
	if encoded, err := e.codec.Encode(stream.Data); err != nil {
		log.Warn("compression failed, uploading uncompressed", "codec", e.codec.Name, "error", err)
		fileName = stream.Name
		encoding = ""
	} else {
		body = encoded
	}

	sum := sha256.Sum256(body)
	dirTemplate := joinTemplates(stream.Directory, e.cfg.DateFormat)

	state := attemptState{count: 1, start: e.now()}
	for {
		// Keyed on the first attempt's start so retries land on the same key.
		key := pathtmpl.DecoratePath(e.cfg.OutputDirectory, fileName, state.start, dirTemplate, e.cfg.FilenamePrefix)

		out := e.attempt(ctx, storage.PutRequest{
			Bucket:          e.cfg.Bucket,
			Key:             key,
			Data:            body,
			ContentLength:   int64(len(body)),
			ContentType:     e.cfg.ContentType,
			ContentEncoding: encoding,
			SHA256:          base64.StdEncoding.EncodeToString(sum[:]),
		})
		elapsed := e.now().Sub(state.start)

		switch out.kind {
		case outcomeSuccess:
			d := Delivery{
				Key:      key,
				URI:      e.store.URI(e.cfg.Bucket, key),
				Attempts: state.count,
				Elapsed:  elapsed,
				Bytes:    int64(len(body)),
				SHA256:   hex.EncodeToString(sum[:]),
			}
			log.Info("stream delivered",
				"key", d.Key,
				"attempts", d.Attempts,
				"bytes", d.Bytes,
				"sha256", d.SHA256,
				"elapsed_ms", d.Elapsed.Milliseconds())
			return d

		case outcomeFatal:
			e.shutdown(log, state, key, elapsed, out.reason)
			return Delivery{Key: key, Attempts: state.count, Elapsed: elapsed}
		}

		kind := storage.Classify(out.reason)
		log.Error("upload failed",
			"key", key,
			"attempt", state.count,
			"elapsed_ms", elapsed.Milliseconds(),
			"kind", kind.String(),
			"code", storage.ErrorCode(out.reason),
			"error", out.reason)
		e.monitor.ReportAttemptFailure(monitoring.AttemptFailure{
			Bucket:  e.cfg.Bucket,
			Key:     key,
			Attempt: state.count,
			Elapsed: elapsed,
			Kind:    kind.String(),
			Err:     out.reason,
		})

		// The first attempt always gets a retry; after that the elapsed
		// time is checked before sleeping, not after.
		if state.count > 1 && elapsed > e.cfg.MaxConnectionTime {
			e.shutdown(log, state, key, elapsed,
				fmt.Errorf("storage unreachable for %s (max %s): %w", elapsed, e.cfg.MaxConnectionTime, out.reason))
			return Delivery{Key: key, Attempts: state.count, Elapsed: elapsed}
		}

		e.sleep(e.cfg.BackoffPeriod)
		state = state.next()
	}
}

// attempt performs a single upload. A panic in the store client is the only
// fatal outcome; every returned error is retried.
func (e *Emitter) attempt(ctx context.Context, req storage.PutRequest) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{kind: outcomeFatal, reason: fmt.Errorf("store client panic: %v", r)}
		}
	}()

	reqCtx := context.WithoutCancel(ctx)
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, e.cfg.RequestTimeout)
		defer cancel()
	}

	if err := e.store.PutObject(reqCtx, req); err != nil {
		return outcome{kind: outcomeRetry, reason: err}
	}
	return outcome{kind: outcomeSuccess}
}

// shutdown reports, waits at most ShutdownPause for monitoring to flush and
// exits without running deferred cleanup.
func (e *Emitter) shutdown(log *slog.Logger, state attemptState, key string, elapsed time.Duration, reason error) {
	log.Error("shutting down: storage delivery cannot continue",
		"key", key,
		"attempts", state.count,
		"elapsed_ms", elapsed.Milliseconds(),
		"error", reason)

	e.monitor.ReportShutdown(monitoring.Shutdown{
		Bucket:   e.cfg.Bucket,
		Key:      key,
		Attempts: state.count,
		Elapsed:  elapsed,
		Reason:   reason.Error(),
	})
	if !e.monitor.Flush(e.cfg.ShutdownPause) {
		log.Warn("monitoring not flushed before shutdown", "pause", e.cfg.ShutdownPause)
	}

	e.exit(1)
}

// joinTemplates puts the stream directory ahead of the configured date format.
func joinTemplates(directory, dateFormat string) string {
	switch {
	case directory == "":
		return dateFormat
	case dateFormat == "":
		return directory
	default:
		return directory + "/" + dateFormat
	}
}
