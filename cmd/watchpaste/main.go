package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"watchpaste/internal/automation"
	"watchpaste/internal/logging"
	"watchpaste/internal/otel"
	"watchpaste/internal/relay"
	"watchpaste/internal/version"
	"watchpaste/internal/watcher"
)

const telemetryShutdownTimeout = 5 * time.Second

type changeSource interface {
	Signals() <-chan watcher.Event
	Metrics() watcher.Metrics
	Close() error
}

type dependencies struct {
	newWatcher     func(path string, options watcher.Options) (changeSource, error)
	newRunner      func(config automation.Config, logger *logging.Logger) automation.Runner
	setupTelemetry func(ctx context.Context) (otel.ShutdownFunc, error)
	signals        <-chan os.Signal
	exit           func(code int)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	return runWithDeps(args, out, errOut, dependencies{
		newWatcher: func(path string, options watcher.Options) (changeSource, error) {
			return watcher.New(path, options)
		},
		newRunner: func(config automation.Config, logger *logging.Logger) automation.Runner {
			return automation.NewWebDriverRunner(automation.WebDriverOptions{
				Config: config,
				Logger: logger,
			})
		},
		setupTelemetry: func(ctx context.Context) (otel.ShutdownFunc, error) {
			options := otel.SDKOptionsFromEnv()
			options.ServiceVersion = version.Version
			return otel.SetupSDK(ctx, options)
		},
		signals: signalCh,
		exit:    os.Exit,
	})
}

func runWithDeps(args []string, out io.Writer, errOut io.Writer, deps dependencies) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		var argErr *usageError
		if errors.As(err, &argErr) {
			fmt.Fprintln(errOut, argErr.message)
		}
		return exitCodeUsage
	}
	if cfg.ShowVersion {
		fmt.Fprintln(out, version.Banner("watchpaste"))
		return exitCodeSuccess
	}

	logger := logging.NewLoggerWithOutput(nil, cfg.LogLevel, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if deps.setupTelemetry != nil {
		shutdownTelemetry, err := deps.setupTelemetry(ctx)
		if err != nil {
			logger.Error("telemetry setup failed", map[string]string{"error": err.Error()})
			return exitCodeTelemetry
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
			defer shutdownCancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", map[string]string{"error": err.Error()})
			}
		}()
	}

	logger.Info("watching file", map[string]string{"path": cfg.Path})
	source, err := deps.newWatcher(cfg.Path, watcher.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to start watching file", map[string]string{
			"path":  cfg.Path,
			"error": err.Error(),
		})
		return exitCodeWatch
	}
	defer source.Close()

	settle := cfg.Settle
	if settle == 0 {
		settle = -1
	}
	loop, err := relay.New(relay.Options{
		Path:    cfg.Path,
		Signals: source.Signals(),
		Runner:  deps.newRunner(cfg.Automation, logger),
		Logger:  logger,
		Settle:  settle,
	})
	if err != nil {
		logger.Error("relay setup failed", map[string]string{"error": err.Error()})
		return exitCodeUsage
	}

	forceExit := func(os.Signal) {
		logStopSummary(logger, loop, source)
		if deps.exit != nil {
			deps.exit(exitCodeInterrupted)
		}
	}
	stopSignals := watchShutdownSignals(logger, cancel, deps.signals, forceExit)
	defer stopSignals()

	logger.Info("watcher started; waiting for file changes (press Ctrl+C to exit)", map[string]string{
		"webdriver_url":    cfg.Automation.WebDriverURL,
		"debugger_address": cfg.Automation.DebuggerAddress,
		"page_url":         cfg.Automation.PageURL,
	})
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped", map[string]string{"error": err.Error()})
	}

	logStopSummary(logger, loop, source)
	return exitCodeSuccess
}

func logStopSummary(logger *logging.Logger, loop *relay.Relay, source changeSource) {
	stats := loop.Stats()
	metrics := source.Metrics()
	logger.Info("watcher stopped", map[string]string{
		"changes":        strconv.FormatUint(stats.Changes, 10),
		"succeeded":      strconv.FormatUint(stats.Succeeded, 10),
		"failed":         strconv.FormatUint(stats.Failed, 10),
		"read_failures":  strconv.FormatUint(stats.ReadFailures, 10),
		"events_dropped": strconv.FormatUint(metrics.EventsDropped, 10),
	})
}
