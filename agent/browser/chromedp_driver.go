package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeDPDriver 基于 chromedp 的浏览器驱动，持有一个标签页
type ChromeDPDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      BrowserConfig
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewChromeDPDriver 创建 chromedp 驱动并启动浏览器
func NewChromeDPDriver(config BrowserConfig, logger *zap.Logger) (*ChromeDPDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(config.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	driver := &ChromeDPDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		config:      config,
		logger:      logger.With(zap.String("component", "chromedp_driver")),
	}

	// 启动浏览器
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Info("chromedp browser started",
		zap.Bool("headless", config.Headless),
		zap.Int("viewport_w", config.ViewportWidth),
		zap.Int("viewport_h", config.ViewportHeight))

	return driver, nil
}

// run executes actions on the tab, bounded by ctx and the configured timeout.
func (d *ChromeDPDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		tabCtx context.Context
		cancel context.CancelFunc
	)
	if d.config.Timeout > 0 {
		tabCtx, cancel = context.WithTimeout(d.ctx, d.config.Timeout)
	} else {
		tabCtx, cancel = context.WithCancel(d.ctx)
	}
	defer cancel()

	// 调用方取消时只中止当前动作，不关闭标签页
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(tabCtx, actions...)
}

// Navigate 导航到 URL
func (d *ChromeDPDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("navigating", zap.String("url", url))
	return d.run(ctx, chromedp.Navigate(url))
}

// Screenshot 截取当前视口的 PNG
func (d *ChromeDPDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// HTML 获取页面完整 HTML
func (d *ChromeDPDriver) HTML(ctx context.Context) (string, error) {
	var content string
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		content, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	return content, nil
}

// Location 获取当前 URL 和标题
func (d *ChromeDPDriver) Location(ctx context.Context) (url, title string, err error) {
	if err = d.run(ctx, chromedp.Location(&url), chromedp.Title(&title)); err != nil {
		return "", "", fmt.Errorf("failed to get location: %w", err)
	}
	return url, title, nil
}

// Close 关闭浏览器
func (d *ChromeDPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("closing chromedp browser")
	d.cancel()
	d.allocCancel()
	return nil
}

// ChromeDPBrowser 实现 Browser 接口
type ChromeDPBrowser struct {
	driver *ChromeDPDriver
	logger *zap.Logger
}

// NewChromeDPBrowser 创建 ChromeDPBrowser
func NewChromeDPBrowser(config BrowserConfig, logger *zap.Logger) (*ChromeDPBrowser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := NewChromeDPDriver(config, logger)
	if err != nil {
		return nil, err
	}
	return &ChromeDPBrowser{driver: driver, logger: logger}, nil
}

// ChromeDPBrowserFactory 创建 chromedp 浏览器
func ChromeDPBrowserFactory(logger *zap.Logger) BrowserFactory {
	return BrowserFactoryFunc(func(config BrowserConfig) (Browser, error) {
		return NewChromeDPBrowser(config, logger)
	})
}

// Execute 执行浏览器命令
func (b *ChromeDPBrowser) Execute(ctx context.Context, cmd BrowserCommand) (*BrowserResult, error) {
	start := time.Now()
	result := &BrowserResult{Action: cmd.Action}

	var err error
	switch cmd.Action {
	case ActionNavigate:
		err = b.driver.Navigate(ctx, cmd.Value)
	case ActionClick:
		err = b.driver.run(ctx, chromedp.Click(cmd.Selector, chromedp.ByQuery))
	case ActionType:
		err = b.driver.run(ctx,
			chromedp.Clear(cmd.Selector, chromedp.ByQuery),
			chromedp.SendKeys(cmd.Selector, cmd.Value, chromedp.ByQuery),
		)
	case ActionWait:
		err = b.driver.run(ctx, chromedp.WaitVisible(cmd.Selector, chromedp.ByQuery))
	case ActionExtract:
		var text string
		err = b.driver.run(ctx, chromedp.Text(cmd.Selector, &text, chromedp.ByQuery))
		result.Text = text
	case ActionScreenshot:
		result.Screenshot, err = b.driver.Screenshot(ctx)
	case ActionRead:
		result.HTML, err = b.driver.HTML(ctx)
	case ActionBack:
		err = b.driver.run(ctx, chromedp.NavigateBack())
	case ActionReload:
		err = b.driver.run(ctx, chromedp.Reload())
	default:
		err = fmt.Errorf("unsupported action: %s", cmd.Action)
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	result.Success = true
	if url, title, locErr := b.driver.Location(ctx); locErr == nil {
		result.URL = url
		result.Title = title
	}
	return result, nil
}

// Close 关闭浏览器
func (b *ChromeDPBrowser) Close() error {
	return b.driver.Close()
}
