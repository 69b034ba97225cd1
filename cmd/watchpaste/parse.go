package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"watchpaste/internal/automation"
	"watchpaste/internal/cli"
	"watchpaste/internal/logging"
	"watchpaste/internal/relay"
)

type Config struct {
	Path        string
	Automation  automation.Config
	Settle      time.Duration
	LogLevel    logging.Level
	ShowVersion bool
}

// usageError is an argument problem found after flag parsing. Errors from
// fs.Parse are already printed by the flag set and are not wrapped.
type usageError struct {
	message string
}

func (e *usageError) Error() string {
	return e.message
}

func usageErr(format string, args ...any) error {
	return &usageError{message: fmt.Sprintf(format, args...)}
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("watchpaste", flag.ContinueOnError)
	fs.SetOutput(errOut)
	webDriverFlag := fs.String("webdriver-url", "", "WebDriver server URL (env: WATCHPASTE_WEBDRIVER_URL, default: "+automation.DefaultWebDriverURL+")")
	debuggerFlag := fs.String("debugger-address", "", "Browser remote debugging address (env: WATCHPASTE_DEBUGGER_ADDRESS, default: "+automation.DefaultDebuggerAddress+")")
	pageFlag := fs.String("page-url", "", "Page holding the form (env: WATCHPASTE_PAGE_URL, default: "+automation.DefaultPageURL+")")
	inputFlag := fs.String("input-id", automation.DefaultInputID, "Id of the input field receiving the file contents")
	buttonFlag := fs.String("button-id", automation.DefaultButtonID, "Id of the button clicked after typing")
	settleFlag := fs.Duration("settle", relay.DefaultSettleDelay, "Delay between a change and reading the file")
	logLevelFlag := fs.String("log-level", "", "Log level: debug, info, warning, error (env: WATCHPASTE_LOG_LEVEL, default: info)")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "Print version and exit")
	fs.Usage = func() {
		printHelp(fs.Output(), fs)
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if helpVersion.Help {
		fs.Usage()
		return Config{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return Config{ShowVersion: true}, nil
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return Config{}, usageErr("usage: please provide a file path as a command-line argument")
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return Config{}, usageErr("expected exactly one file path, got %d arguments", fs.NArg())
	}

	if *settleFlag < 0 {
		return Config{}, usageErr("settle delay must not be negative: %s", *settleFlag)
	}

	rawLevel := cli.Resolve(*logLevelFlag, "WATCHPASTE_LOG_LEVEL", string(logging.LevelInfo))
	level, ok := logging.ParseLevel(rawLevel)
	if !ok {
		return Config{}, usageErr("invalid log level %q", rawLevel)
	}

	automationConfig := automation.Config{
		DebuggerAddress: cli.Resolve(*debuggerFlag, "WATCHPASTE_DEBUGGER_ADDRESS", automation.DefaultDebuggerAddress),
		WebDriverURL:    cli.Resolve(*webDriverFlag, "WATCHPASTE_WEBDRIVER_URL", automation.DefaultWebDriverURL),
		PageURL:         cli.Resolve(*pageFlag, "WATCHPASTE_PAGE_URL", automation.DefaultPageURL),
		InputID:         cli.Resolve(*inputFlag, "", automation.DefaultInputID),
		ButtonID:        cli.Resolve(*buttonFlag, "", automation.DefaultButtonID),
	}
	if err := automationConfig.Validate(); err != nil {
		return Config{}, usageErr("%v", err)
	}

	return Config{
		Path:       fs.Arg(0),
		Automation: automationConfig,
		Settle:     *settleFlag,
		LogLevel:   level,
	}, nil
}

func printHelp(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(out, "Usage: watchpaste [flags] <file>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Watch <file> and, on every modification, paste its contents into the")
	fmt.Fprintln(out, "page's input field through a WebDriver session and press the button.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Requires a browser started with --remote-debugging-port=9222 and a")
	fmt.Fprintln(out, "chromedriver listening on port 9515.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	fs.PrintDefaults()
}
