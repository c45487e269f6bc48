package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ChromeAutomation serves browser_use steps. It starts one browser on first use
// and serializes commands on it, so consecutive steps share page state.
type ChromeAutomation struct {
	factory BrowserFactory
	config  BrowserConfig
	logger  *zap.Logger

	mu      sync.Mutex
	browser Browser
	history []BrowserCommand
	now     func() time.Time
}

// NewChromeAutomation creates an automation backed by headless Chrome.
func NewChromeAutomation(config BrowserConfig, logger *zap.Logger) *ChromeAutomation {
	return NewAutomation(ChromeDPBrowserFactory(logger), config, logger)
}

// NewAutomation creates an automation over any browser factory.
func NewAutomation(factory BrowserFactory, config BrowserConfig, logger *zap.Logger) *ChromeAutomation {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ScreenshotDir == "" {
		config.ScreenshotDir = DefaultBrowserConfig().ScreenshotDir
	}
	return &ChromeAutomation{
		factory: factory,
		config:  config,
		logger:  logger.With(zap.String("component", "browser_automation")),
		now:     time.Now,
	}
}

// Navigate loads url in the shared page.
func (a *ChromeAutomation) Navigate(ctx context.Context, url string) error {
	_, err := a.execute(ctx, BrowserCommand{Action: ActionNavigate, Value: url})
	return err
}

// Act performs one task on the current page and returns a textual result.
// screenshot returns the absolute path of the written PNG.
func (a *ChromeAutomation) Act(ctx context.Context, task string) (string, error) {
	cmd, err := ParseTask(task)
	if err != nil {
		return "", err
	}

	result, err := a.execute(ctx, cmd)
	if err != nil {
		return "", err
	}

	switch cmd.Action {
	case ActionScreenshot:
		return a.saveScreenshot(result.Screenshot)
	case ActionRead:
		return ExtractArticle(result.HTML, result.URL, a.config.MaxContentChars)
	case ActionExtract:
		return result.Text, nil
	case ActionType:
		return fmt.Sprintf("typed into %s on %s", cmd.Selector, result.URL), nil
	case ActionClick, ActionWait:
		return fmt.Sprintf("%s %s on %s", cmd.Action, cmd.Selector, result.URL), nil
	default:
		return fmt.Sprintf("%s: %s", cmd.Action, result.URL), nil
	}
}

// History returns every command sent to the browser.
func (a *ChromeAutomation) History() []BrowserCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]BrowserCommand{}, a.history...)
}

// Close shuts the browser down if it was started.
func (a *ChromeAutomation) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browser == nil {
		return nil
	}
	err := a.browser.Close()
	a.browser = nil
	return err
}

func (a *ChromeAutomation) execute(ctx context.Context, cmd BrowserCommand) (*BrowserResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.browser == nil {
		b, err := a.factory.Create(a.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create browser: %w", err)
		}
		a.browser = b
	}
	a.history = append(a.history, cmd)

	a.logger.Debug("executing browser command",
		zap.String("action", string(cmd.Action)),
		zap.String("selector", cmd.Selector))

	result, err := a.browser.Execute(ctx, cmd)
	if err != nil {
		a.logger.Warn("browser command failed",
			zap.String("action", string(cmd.Action)),
			zap.Error(err))
		return nil, fmt.Errorf("browser %s: %w", cmd.Action, err)
	}
	return result, nil
}

func (a *ChromeAutomation) saveScreenshot(png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("browser returned an empty screenshot")
	}
	dir, err := filepath.Abs(a.config.ScreenshotDir)
	if err != nil {
		return "", fmt.Errorf("resolve screenshot dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("screenshot-%d.png", a.now().UnixNano()))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
