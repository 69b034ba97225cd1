package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"watchpaste/internal/automation"
	"watchpaste/internal/logging"
	"watchpaste/internal/watcher"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeRunner struct {
	mu       sync.Mutex
	payloads []string
	results  []error
	calls    chan string
}

func newFakeRunner(results ...error) *fakeRunner {
	return &fakeRunner{results: results, calls: make(chan string, 16)}
}

func (r *fakeRunner) Run(_ context.Context, text string) error {
	r.mu.Lock()
	r.payloads = append(r.payloads, text)
	var err error
	if len(r.results) > 0 {
		err = r.results[0]
		r.results = r.results[1:]
	}
	r.mu.Unlock()
	r.calls <- text
	return err
}

func (r *fakeRunner) waitCall(t *testing.T) string {
	t.Helper()
	select {
	case text := <-r.calls:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for automation run")
		return ""
	}
}

func (r *fakeRunner) expectNoCall(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case text := <-r.calls:
		t.Fatalf("expected no automation run, got %q", text)
	case <-time.After(wait):
	}
}

type harness struct {
	relay   *Relay
	signals chan watcher.Event
	logger  *logging.Logger
	cancel  context.CancelFunc
	done    chan error
}

func startRelay(t *testing.T, path string, runner automation.Runner, settle time.Duration) *harness {
	t.Helper()
	signals := make(chan watcher.Event, 1)
	logger := logging.Discard()
	relay, err := New(Options{
		Path:    path,
		Signals: signals,
		Runner:  runner,
		Logger:  logger,
		Settle:  settle,
	})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(ctx)
	}()
	h := &harness{relay: relay, signals: signals, logger: logger, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) signal() {
	h.signals <- watcher.Event{Op: fsnotify.Write, Timestamp: time.Now().UTC()}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestSignalTriggersOneRunWithFileContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.txt")
	writeFile(t, path, "/ip4/10.0.0.1/tcp/4001/p2p/QmPeer")
	runner := newFakeRunner()
	h := startRelay(t, path, runner, -1)

	h.signal()

	if got := runner.waitCall(t); got != "/ip4/10.0.0.1/tcp/4001/p2p/QmPeer" {
		t.Fatalf("expected file contents, got %q", got)
	}
	runner.expectNoCall(t, 100*time.Millisecond)
	if len(h.logger.Buffer().Find("automation completed")) != 1 {
		t.Fatalf("expected completion to be logged")
	}
}

func TestFailedRunDoesNotStopLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.txt")
	writeFile(t, path, "first")
	failure := &automation.StepError{
		Step:   automation.StepConnect,
		Detail: "failed to connect to webdriver at http://localhost:9515",
		Err:    errors.New("connection refused"),
	}
	runner := newFakeRunner(failure)
	h := startRelay(t, path, runner, -1)

	h.signal()
	runner.waitCall(t)

	writeFile(t, path, "second")
	h.signal()
	if got := runner.waitCall(t); got != "second" {
		t.Fatalf("expected second run with updated contents, got %q", got)
	}

	entries := h.logger.Buffer().Find("automation failed")
	if len(entries) != 1 {
		t.Fatalf("expected one logged failure, got %d", len(entries))
	}
	if entries[0].Level != logging.LevelError {
		t.Fatalf("expected error level, got %q", entries[0].Level)
	}
	if entries[0].Context["step"] != string(automation.StepConnect) {
		t.Fatalf("expected step field, got %v", entries[0].Context)
	}
	waitForStats(t, h.relay, func(stats Stats) bool {
		return stats.Failed == 1 && stats.Succeeded == 1
	})
}

func TestReadAfterSettleDelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.txt")
	writeFile(t, path, "partial")
	runner := newFakeRunner()
	h := startRelay(t, path, runner, 200*time.Millisecond)

	h.signal()
	writeFile(t, path, "complete")

	if got := runner.waitCall(t); got != "complete" {
		t.Fatalf("expected contents after settle delay, got %q", got)
	}
}

func TestUnreadableFileKeepsLoopRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.txt")
	runner := newFakeRunner()
	h := startRelay(t, path, runner, -1)

	h.signal()
	waitForStats(t, h.relay, func(stats Stats) bool { return stats.ReadFailures == 1 })
	runner.expectNoCall(t, 50*time.Millisecond)

	entries := h.logger.Buffer().Find("failed to read file")
	if len(entries) != 1 || entries[0].Context["path"] != path {
		t.Fatalf("expected read failure logged with path, got %v", entries)
	}

	writeFile(t, path, "recovered")
	h.signal()
	if got := runner.waitCall(t); got != "recovered" {
		t.Fatalf("expected run after recovery, got %q", got)
	}
}

func TestRunReturnsWhenSignalsClose(t *testing.T) {
	signals := make(chan watcher.Event)
	relay, err := New(Options{Path: "peer.txt", Signals: signals, Runner: newFakeRunner()})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	close(signals)

	if err := relay.Run(context.Background()); err != nil {
		t.Fatalf("expected nil on closed signals, got %v", err)
	}
}

func TestRunReturnsContextError(t *testing.T) {
	relay, err := New(Options{Path: "peer.txt", Signals: make(chan watcher.Event), Runner: newFakeRunner()})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := relay.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

type stuckRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *stuckRunner) Run(context.Context, string) error {
	close(r.started)
	<-r.release
	return nil
}

func TestCancelDuringStuckRunStopsLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.txt")
	writeFile(t, path, "peer")
	runner := &stuckRunner{started: make(chan struct{}), release: make(chan struct{})}
	defer close(runner.release)
	h := startRelay(t, path, runner, -1)

	h.signal()
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for automation to start")
	}

	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("relay did not stop while automation was stuck")
	}

	stats := h.relay.Stats()
	if stats.Failed != 0 || stats.Succeeded != 0 {
		t.Fatalf("expected abandoned run to be neither failed nor succeeded, got %+v", stats)
	}
	if len(h.logger.Buffer().Find("automation abandoned on shutdown")) != 1 {
		t.Fatalf("expected abandoned run to be logged")
	}
}

func TestNewRequiresSignalsAndRunner(t *testing.T) {
	if _, err := New(Options{Runner: newFakeRunner()}); err == nil {
		t.Fatal("expected error without signals")
	}
	if _, err := New(Options{Signals: make(chan watcher.Event)}); err == nil {
		t.Fatal("expected error without runner")
	}
}

func TestNewDefaultsSettleDelay(t *testing.T) {
	relay, err := New(Options{Signals: make(chan watcher.Event), Runner: newFakeRunner()})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	if relay.settle != DefaultSettleDelay {
		t.Fatalf("expected default settle %v, got %v", DefaultSettleDelay, relay.settle)
	}
	if DefaultSettleDelay != 100*time.Millisecond {
		t.Fatalf("expected 100ms settle delay, got %v", DefaultSettleDelay)
	}
}

func TestReadTextRejectsInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary.bin")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00}, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := ReadText(path); !errors.Is(err, ErrNotUTF8) {
		t.Fatalf("expected ErrNotUTF8, got %v", err)
	}
}

func TestReadTextMissingFile(t *testing.T) {
	_, err := ReadText(filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestChangesAreTracedAndCounted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.txt")
	writeFile(t, path, "payload")

	spans := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tracerProvider.Shutdown(context.Background())
		_ = meterProvider.Shutdown(context.Background())
	})

	signals := make(chan watcher.Event, 1)
	runner := newFakeRunner(errors.New("no such element"))
	relay, err := New(Options{
		Path:           path,
		Signals:        signals,
		Runner:         runner,
		Settle:         -1,
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
	})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	relay.handle(context.Background(), watcher.Event{Op: fsnotify.Write})
	relay.handle(context.Background(), watcher.Event{Op: fsnotify.Write})

	ended := spans.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "watchpaste.relay.change" {
		t.Fatalf("unexpected span name %q", ended[0].Name())
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("expected failed run span to carry error status")
	}
	if ended[1].Status().Code == codes.Error {
		t.Fatalf("expected successful run span without error status")
	}

	var collected metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &collected); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	outcomes := make(map[string]int64)
	for _, scope := range collected.ScopeMetrics {
		for _, instrument := range scope.Metrics {
			if instrument.Name != "watchpaste.automation.runs" {
				continue
			}
			sum, ok := instrument.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("expected int64 sum, got %T", instrument.Data)
			}
			for _, point := range sum.DataPoints {
				outcome, _ := point.Attributes.Value("outcome")
				outcomes[outcome.AsString()] += point.Value
			}
		}
	}
	if outcomes[outcomeFailure] != 1 || outcomes[outcomeSuccess] != 1 {
		t.Fatalf("expected one failure and one success, got %v", outcomes)
	}
}

func waitForStats(t *testing.T, relay *Relay, done func(Stats) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if done(relay.Stats()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for stats, last %+v", relay.Stats())
}
