package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"watchpaste/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher is the fsnotify-backed change notifier for one file.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	signals chan Event
	done    chan struct{}
	stopped chan struct{}
	logger  *logging.Logger
	onError func(error)

	closeOnce sync.Once
	closeErr  error

	eventsDelivered uint64
	eventsDropped   uint64
	eventsIgnored   uint64
	errorCount      uint64
}

// New starts watching path. Setup failures, such as a missing path or
// insufficient permissions, are returned to the caller.
func New(path string, options Options) (*Watcher, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path %s: %w", path, err)
	}
	if _, err := os.Stat(absolute); err != nil {
		return nil, fmt.Errorf("stat watch path %s: %w", absolute, err)
	}

	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := source.Add(absolute); err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to start watching file %s: %w", absolute, err)
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	instance := &Watcher{
		path:    absolute,
		watcher: source,
		signals: make(chan Event, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
		onError: options.ErrorHandler,
	}
	go instance.run()
	return instance, nil
}

// Path returns the absolute path being watched.
func (watcher *Watcher) Path() string {
	if watcher == nil {
		return ""
	}
	return watcher.path
}

// Signals delivers coalesced modification events. The channel is closed
// once the watcher stops.
func (watcher *Watcher) Signals() <-chan Event {
	return watcher.signals
}

// Close shuts down the watcher and stops event processing.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.closeOnce.Do(func() {
		close(watcher.done)
		watcher.closeErr = watcher.watcher.Close()
		<-watcher.stopped
		close(watcher.signals)
	})
	return watcher.closeErr
}

func (watcher *Watcher) run() {
	defer close(watcher.stopped)
	for {
		select {
		case event, ok := <-watcher.watcher.Events:
			if !ok {
				return
			}
			watcher.forward(event)
		case err, ok := <-watcher.watcher.Errors:
			if !ok {
				return
			}
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

// forward offers a modification to the signal channel without blocking.
func (watcher *Watcher) forward(event fsnotify.Event) {
	if !IsModification(event.Op) {
		atomic.AddUint64(&watcher.eventsIgnored, 1)
		return
	}
	signal := Event{
		Path:      event.Name,
		Op:        event.Op,
		Timestamp: time.Now().UTC(),
	}
	select {
	case watcher.signals <- signal:
		atomic.AddUint64(&watcher.eventsDelivered, 1)
	default:
		atomic.AddUint64(&watcher.eventsDropped, 1)
	}
}

func (watcher *Watcher) handleError(err error) {
	if err == nil {
		return
	}
	atomic.AddUint64(&watcher.errorCount, 1)
	watcher.logger.Warn("watch error", map[string]string{
		"path":  watcher.path,
		"error": err.Error(),
	})
	if watcher.onError != nil {
		watcher.onError(err)
	}
}

// IsModification reports whether op changes the watched file in place:
// content writes, metadata changes and renames. Creation and removal are
// not modifications.
func IsModification(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Chmod) || op.Has(fsnotify.Rename)
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	return Metrics{
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		EventsDropped:   atomic.LoadUint64(&watcher.eventsDropped),
		EventsIgnored:   atomic.LoadUint64(&watcher.eventsIgnored),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
	}
}
