package watcher

import (
	"time"

	"watchpaste/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single coalesced modification.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Options controls watcher behavior.
type Options struct {
	Logger *logging.Logger
	// ErrorHandler receives backend errors after they are logged.
	ErrorHandler func(error)
}

// Metrics reports signal delivery counters.
type Metrics struct {
	EventsDelivered uint64
	EventsDropped   uint64
	EventsIgnored   uint64
	Errors          uint64
}
