package main

import (
	"context"
	"os"
	"sync/atomic"

	"watchpaste/internal/logging"
)

// watchShutdownSignals cancels the run on the first signal. Any later signal
// is handed to force, which is expected to end the process.
func watchShutdownSignals(logger *logging.Logger, cancel context.CancelFunc, signalCh <-chan os.Signal, force func(os.Signal)) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var shutdownStarted atomic.Bool

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				if shutdownStarted.CompareAndSwap(false, true) {
					logger.Info("shutdown signal received", fields)
					if cancel != nil {
						cancel()
					}
					continue
				}
				logger.Warn("second shutdown signal received; exiting now", fields)
				if force != nil {
					force(sig)
				}
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}
