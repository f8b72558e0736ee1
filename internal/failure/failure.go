// Package failure routes records that failed upstream processing to a
// dead-letter sink.
package failure

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrSink wraps every error returned by a dead-letter sink.
var ErrSink = errors.New("dead-letter sink")

// TimestampLayout is the failure_tstamp format: millisecond UTC ISO-8601.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const unspecifiedError = "unspecified processing failure"

// Processed is a record that made it through upstream processing.
type Processed struct {
	Data      []byte
	Timestamp time.Time // collector timestamp, zero if unknown
}

// Failure is a record that did not, with the reasons why.
type Failure struct {
	Line   string   `json:"line"`
	Errors []string `json:"errors"`
}

// EmitterInput is either a processed record or a failure; exactly one of
// the two fields is set.
type EmitterInput struct {
	Processed *Processed
	Failure   *Failure
}

// Succeeded wraps a processed record.
func Succeeded(data []byte, ts time.Time) EmitterInput {
	return EmitterInput{Processed: &Processed{Data: data, Timestamp: ts}}
}

// Failed wraps a raw line and its error descriptions.
func Failed(line string, errs ...string) EmitterInput {
	return EmitterInput{Failure: &Failure{Line: line, Errors: errs}}
}

// IsFailure reports whether the input carries a failure.
func (in EmitterInput) IsFailure() bool {
	return in.Failure != nil
}

// Record is the JSON document written to the dead-letter sink.
type Record struct {
	Line          string   `json:"line"`
	Errors        []string `json:"errors"`
	FailureTstamp string   `json:"failure_tstamp"`
}

// NewRecord stamps a failure with t in UTC.
func NewRecord(f Failure, t time.Time) Record {
	errs := f.Errors
	if len(errs) == 0 {
		errs = []string{unspecifiedError}
	}
	return Record{
		Line:          f.Line,
		Errors:        errs,
		FailureTstamp: t.UTC().Format(TimestampLayout),
	}
}

// Sink stores serialized failure records.
type Sink interface {
	Store(ctx context.Context, payload string, partitionKey string, isRetry bool) error
}

// Router forwards failed inputs to a Sink.
type Router struct {
	sink   Sink
	now    func() time.Time
	newKey func() string
	logger *slog.Logger
}

// NewRouter creates a router writing to sink.
func NewRouter(sink Sink) *Router {
	return &Router{
		sink:   sink,
		now:    time.Now,
		newKey: uuid.NewString,
		logger: slog.With("component", "failure-router"),
	}
}

// Route sends every failed input to the sink, in order, and returns how
// many were stored. Processed inputs are skipped. The first sink error
// stops routing and is returned wrapped in ErrSink; nothing is retried here.
func (r *Router) Route(ctx context.Context, inputs []EmitterInput) (int, error) {
	routed := 0
	for _, in := range inputs {
		if !in.IsFailure() {
			continue
		}

		rec := NewRecord(*in.Failure, r.now())
		payload, err := json.Marshal(rec)
		if err != nil {
			return routed, fmt.Errorf("marshal failure record: %w", err)
		}

		if err := r.sink.Store(ctx, string(payload), r.newKey(), false); err != nil {
			r.logger.Error("dead-letter write failed", "routed", routed, "error", err)
			return routed, fmt.Errorf("%w: %w", ErrSink, err)
		}
		routed++
	}

	if routed > 0 {
		r.logger.Debug("routed failed records", "count", routed)
	}
	return routed, nil
}

// ReadFailures parses JSON lines of {"line": ..., "errors": [...]} into
// failed inputs. Blank lines are skipped.
func ReadFailures(r io.Reader) ([]EmitterInput, error) {
	var inputs []EmitterInput

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var f Failure
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		inputs = append(inputs, EmitterInput{Failure: &f})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read failures: %w", err)
	}
	return inputs, nil
}
