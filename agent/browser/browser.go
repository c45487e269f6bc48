// Package browser drives a headless browser for browser_use steps.
package browser

import (
	"context"
	"time"
)

// Action represents a browser action type.
type Action string

const (
	ActionNavigate   Action = "navigate"
	ActionClick      Action = "click"
	ActionType       Action = "type"
	ActionWait       Action = "wait"
	ActionExtract    Action = "extract"
	ActionScreenshot Action = "screenshot"
	ActionRead       Action = "read"
	ActionBack       Action = "back"
	ActionReload     Action = "reload"
)

// BrowserCommand represents a command to execute in the browser.
type BrowserCommand struct {
	Action   Action `json:"action"`
	Selector string `json:"selector,omitempty"` // CSS selector
	Value    string `json:"value,omitempty"`    // For type, navigate actions
}

// BrowserResult represents the result of a browser command.
type BrowserResult struct {
	Success    bool          `json:"success"`
	Action     Action        `json:"action"`
	Text       string        `json:"text,omitempty"`
	HTML       string        `json:"html,omitempty"`
	Screenshot []byte        `json:"screenshot,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	URL        string        `json:"url,omitempty"`
	Title      string        `json:"title,omitempty"`
}

// BrowserConfig configures the browser automation.
type BrowserConfig struct {
	Headless        bool          `yaml:"headless" json:"headless"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth   int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight  int           `yaml:"viewport_height" json:"viewport_height"`
	UserAgent       string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	ProxyURL        string        `yaml:"proxy_url,omitempty" json:"proxy_url,omitempty"`
	ScreenshotDir   string        `yaml:"screenshot_dir" json:"screenshot_dir"`
	MaxContentChars int           `yaml:"max_content_chars" json:"max_content_chars"`
}

// DefaultBrowserConfig returns sensible defaults.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:        true,
		Timeout:         30 * time.Second,
		ViewportWidth:   1920,
		ViewportHeight:  1080,
		ScreenshotDir:   "screenshots",
		MaxContentChars: 50000,
	}
}

// Browser defines the interface for browser automation.
type Browser interface {
	// Execute runs a browser command.
	Execute(ctx context.Context, cmd BrowserCommand) (*BrowserResult, error)
	// Close closes the browser.
	Close() error
}

// BrowserFactory creates browser instances.
type BrowserFactory interface {
	Create(config BrowserConfig) (Browser, error)
}

// BrowserFactoryFunc adapts a function to BrowserFactory.
type BrowserFactoryFunc func(config BrowserConfig) (Browser, error)

func (f BrowserFactoryFunc) Create(config BrowserConfig) (Browser, error) { return f(config) }
