// Package watcher turns filesystem notifications for a single file into
// coalesced change signals.
//
// Signals are delivered on a channel with capacity one. A modification that
// arrives while a previous signal is still unconsumed is dropped, so a burst
// of writes produces at most one pending signal and the consumer always
// re-reads the latest contents.
package watcher
