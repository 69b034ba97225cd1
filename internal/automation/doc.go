// Package automation pastes text into a web form through a WebDriver session
// attached to an already running browser.
package automation
