package automation

import (
	"context"
	"strconv"

	"watchpaste/internal/logging"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
)

// Runner performs one automation pass with the given text.
type Runner interface {
	Run(ctx context.Context, text string) error
}

// Dialer opens a WebDriver session. selenium.NewRemote satisfies it.
type Dialer func(capabilities selenium.Capabilities, urlPrefix string) (selenium.WebDriver, error)

// WebDriverRunner opens a fresh session for every run and attaches it to
// the browser listening on the debugger address.
type WebDriverRunner struct {
	config Config
	dial   Dialer
	logger *logging.Logger
}

type WebDriverOptions struct {
	Config Config
	Logger *logging.Logger
	Dial   Dialer
}

func NewWebDriverRunner(options WebDriverOptions) *WebDriverRunner {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	dial := options.Dial
	if dial == nil {
		dial = selenium.NewRemote
	}
	return &WebDriverRunner{
		config: options.Config,
		dial:   dial,
		logger: logger.With(map[string]string{"component": "automation"}),
	}
}

// Capabilities requests chrome attached to the configured debugger address.
func (r *WebDriverRunner) Capabilities() selenium.Capabilities {
	capabilities := selenium.Capabilities{"browserName": "chrome"}
	capabilities.AddChrome(chrome.Capabilities{
		DebuggerAddr: r.config.DebuggerAddress,
		W3C:          true,
	})
	return capabilities
}

func (r *WebDriverRunner) Run(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	driver, err := r.dial(r.Capabilities(), r.config.WebDriverURL)
	if err != nil {
		return stepErr(StepConnect, err, "failed to connect to webdriver at %s", r.config.WebDriverURL)
	}
	defer func() {
		if quitErr := driver.Quit(); quitErr != nil {
			r.logger.Debug("webdriver session quit failed", map[string]string{
				"error": quitErr.Error(),
			})
		}
	}()

	r.logger.Info("navigating", map[string]string{"url": r.config.PageURL})
	if err := driver.Get(r.config.PageURL); err != nil {
		return stepErr(StepNavigate, err, "failed to navigate to url %s", r.config.PageURL)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.logger.Info("looking for input field", map[string]string{"id": r.config.InputID})
	input, err := driver.FindElement(selenium.ByID, r.config.InputID)
	if err != nil {
		return stepErr(StepFindInput, err, "could not find input field with id %q", r.config.InputID)
	}
	if err := input.Clear(); err != nil {
		return stepErr(StepClear, err, "failed to clear input field %q", r.config.InputID)
	}
	if err := input.SendKeys(text); err != nil {
		return stepErr(StepType, err, "failed to send keys to input field %q", r.config.InputID)
	}
	r.logger.Info("entered content into input field", map[string]string{
		"id":    r.config.InputID,
		"bytes": strconv.Itoa(len(text)),
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	r.logger.Info("looking for button", map[string]string{"id": r.config.ButtonID})
	button, err := driver.FindElement(selenium.ByID, r.config.ButtonID)
	if err != nil {
		return stepErr(StepFindButton, err, "could not find button with id %q", r.config.ButtonID)
	}
	if err := button.Click(); err != nil {
		return stepErr(StepClick, err, "failed to click button %q", r.config.ButtonID)
	}
	r.logger.Info("clicked button", map[string]string{"id": r.config.ButtonID})
	return nil
}
