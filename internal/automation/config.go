package automation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	DefaultDebuggerAddress = "localhost:9222"
	DefaultWebDriverURL    = "http://localhost:9515"
	DefaultPageURL         = "http://localhost:8082"
	DefaultInputID         = "peerAddress"
	DefaultButtonID        = "runDemo"
)

// Config names the endpoints and element ids a run talks to.
type Config struct {
	DebuggerAddress string
	WebDriverURL    string
	PageURL         string
	InputID         string
	ButtonID        string
}

func DefaultConfig() Config {
	return Config{
		DebuggerAddress: DefaultDebuggerAddress,
		WebDriverURL:    DefaultWebDriverURL,
		PageURL:         DefaultPageURL,
		InputID:         DefaultInputID,
		ButtonID:        DefaultButtonID,
	}
}

func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(c.DebuggerAddress)); err != nil {
		return fmt.Errorf("invalid debugger address %q: %w", c.DebuggerAddress, err)
	}
	if err := validateURL("webdriver url", c.WebDriverURL); err != nil {
		return err
	}
	if err := validateURL("page url", c.PageURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.InputID) == "" {
		return fmt.Errorf("input id is required")
	}
	if strings.TrimSpace(c.ButtonID) == "" {
		return fmt.Errorf("button id is required")
	}
	return nil
}

func validateURL(name, raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s %q: scheme and host required", name, raw)
	}
	return nil
}
