// Package relay consumes change signals and hands the watched file's
// contents to the automation runner, one run at a time.
package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"watchpaste/internal/automation"
	"watchpaste/internal/logging"
	"watchpaste/internal/watcher"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSettleDelay = 100 * time.Millisecond

	instrumentationName = "watchpaste/internal/relay"

	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeReadError = "read_error"
)

var ErrNotUTF8 = errors.New("file is not valid UTF-8")

// ReadFunc loads the watched file as text.
type ReadFunc func(path string) (string, error)

type Options struct {
	Path    string
	Signals <-chan watcher.Event
	Runner  automation.Runner
	Logger  *logging.Logger
	Read    ReadFunc

	// Settle is the pause between a signal and the read. Negative values
	// disable it; zero selects DefaultSettleDelay.
	Settle time.Duration

	// TracerProvider and MeterProvider default to the global providers.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Stats counts handled changes by outcome.
type Stats struct {
	Changes      uint64
	ReadFailures uint64
	Succeeded    uint64
	Failed       uint64
}

type Relay struct {
	path    string
	signals <-chan watcher.Event
	runner  automation.Runner
	logger  *logging.Logger
	settle  time.Duration
	read    ReadFunc
	tracer  trace.Tracer
	runs    metric.Int64Counter

	changes      atomic.Uint64
	readFailures atomic.Uint64
	succeeded    atomic.Uint64
	failed       atomic.Uint64
}

func New(options Options) (*Relay, error) {
	if options.Signals == nil {
		return nil, errors.New("signal channel is required")
	}
	if options.Runner == nil {
		return nil, errors.New("automation runner is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	settle := options.Settle
	if settle == 0 {
		settle = DefaultSettleDelay
	}
	if settle < 0 {
		settle = 0
	}
	read := options.Read
	if read == nil {
		read = ReadText
	}

	tracerProvider := options.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otelapi.GetTracerProvider()
	}
	meterProvider := options.MeterProvider
	if meterProvider == nil {
		meterProvider = otelapi.GetMeterProvider()
	}

	runs, err := meterProvider.Meter(instrumentationName).Int64Counter(
		"watchpaste.automation.runs",
		metric.WithDescription("Handled file changes by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create run counter: %w", err)
	}

	return &Relay{
		path:    options.Path,
		signals: options.Signals,
		runner:  options.Runner,
		logger:  logger.With(map[string]string{"path": options.Path}),
		settle:  settle,
		read:    read,
		tracer:  tracerProvider.Tracer(instrumentationName),
		runs:    runs,
	}, nil
}

// Run handles signals until the channel closes (nil) or ctx is canceled
// (ctx.Err()). Per-change failures are logged and never end the loop.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-r.signals:
			if !ok {
				return nil
			}
			r.handle(ctx, event)
		}
	}
}

func (r *Relay) handle(ctx context.Context, event watcher.Event) {
	r.changes.Add(1)
	ctx, span := r.tracer.Start(ctx, "watchpaste.relay.change", trace.WithAttributes(
		attribute.String("file.path", r.path),
		attribute.String("fs.op", event.Op.String()),
	))
	defer span.End()

	r.logger.Info("file change detected", map[string]string{"op": event.Op.String()})

	if !r.wait(ctx) {
		span.SetStatus(codes.Error, "canceled during settle delay")
		return
	}

	contents, err := r.read(r.path)
	if err != nil {
		r.readFailures.Add(1)
		r.record(ctx, outcomeReadError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		r.logger.Error("failed to read file", map[string]string{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("file.bytes", len(contents)))
	r.logger.Info("running browser automation", map[string]string{
		"bytes": strconv.Itoa(len(contents)),
	})

	err = r.invoke(ctx, contents)
	if errors.Is(err, errAbandoned) {
		span.SetStatus(codes.Error, "canceled during automation")
		r.logger.Warn("automation abandoned on shutdown", nil)
		return
	}
	if err != nil {
		r.failed.Add(1)
		r.record(ctx, outcomeFailure)
		span.RecordError(err)
		span.SetStatus(codes.Error, "automation failed")
		fields := map[string]string{"error": err.Error()}
		var stepErr *automation.StepError
		if errors.As(err, &stepErr) {
			fields["step"] = string(stepErr.Step)
		}
		r.logger.Error("automation failed", fields)
		return
	}
	r.succeeded.Add(1)
	r.record(ctx, outcomeSuccess)
	r.logger.Info("automation completed", nil)
}

var errAbandoned = errors.New("automation abandoned")

// invoke runs the automation without letting a call that ignores ctx hold up
// shutdown. On cancel the runner goroutine is left to finish on its own.
func (r *Relay) invoke(ctx context.Context, contents string) error {
	result := make(chan error, 1)
	go func() {
		result <- r.runner.Run(ctx, contents)
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errAbandoned
	}
}

func (r *Relay) wait(ctx context.Context) bool {
	if r.settle <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(r.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Relay) record(ctx context.Context, outcome string) {
	r.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Relay) Stats() Stats {
	return Stats{
		Changes:      r.changes.Load(),
		ReadFailures: r.readFailures.Load(),
		Succeeded:    r.succeeded.Load(),
		Failed:       r.failed.Load(),
	}
}

// ReadText reads path and rejects contents that are not valid UTF-8.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: %w", path, ErrNotUTF8)
	}
	return string(data), nil
}
