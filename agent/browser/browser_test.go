package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrowser 按动作返回预设结果
type fakeBrowser struct {
	url      string
	html     string
	texts    map[string]string
	failOn   Action
	closed   bool
	commands []BrowserCommand
}

func (f *fakeBrowser) Execute(_ context.Context, cmd BrowserCommand) (*BrowserResult, error) {
	f.commands = append(f.commands, cmd)
	if cmd.Action == f.failOn {
		return nil, errors.New("element not found")
	}
	result := &BrowserResult{Success: true, Action: cmd.Action, URL: f.url}
	switch cmd.Action {
	case ActionNavigate:
		f.url = cmd.Value
		result.URL = cmd.Value
	case ActionExtract:
		result.Text = f.texts[cmd.Selector]
	case ActionScreenshot:
		result.Screenshot = []byte("\x89PNG fake")
	case ActionRead:
		result.HTML = f.html
	}
	return result, nil
}

func (f *fakeBrowser) Close() error {
	f.closed = true
	return nil
}

func newFakeAutomation(t *testing.T, fb *fakeBrowser) (*ChromeAutomation, *int) {
	t.Helper()
	created := 0
	cfg := DefaultBrowserConfig()
	cfg.ScreenshotDir = filepath.Join(t.TempDir(), "shots")
	a := NewAutomation(BrowserFactoryFunc(func(BrowserConfig) (Browser, error) {
		created++
		return fb, nil
	}), cfg, nil)
	return a, &created
}

const articleHTML = `<!DOCTYPE html>
<html><head><title>Release Notes</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Release Notes</h1>
<p>The scheduler now groups independent steps into waves and runs every wave concurrently.
Each wave waits for the previous one, so a step never starts before all of its dependencies have finished.
Retries use exponential backoff and stop as soon as the caller cancels the run.</p>
<p>Failed steps no longer abort the whole run in parallel mode. Dependents of a failed step are skipped
and reported, while unrelated branches keep going, which makes partial results far more useful in practice.</p>
<script>alert("x")</script>
</article>
</body></html>`

func TestParseTask(t *testing.T) {
	tests := []struct {
		task    string
		want    BrowserCommand
		wantErr bool
	}{
		{task: "click #submit", want: BrowserCommand{Action: ActionClick, Selector: "#submit"}},
		{task: "  CLICK   .btn  ", want: BrowserCommand{Action: ActionClick, Selector: ".btn"}},
		{task: "type #q hello   world", want: BrowserCommand{Action: ActionType, Selector: "#q", Value: "hello   world"}},
		{task: "wait .loaded", want: BrowserCommand{Action: ActionWait, Selector: ".loaded"}},
		{task: "extract h1", want: BrowserCommand{Action: ActionExtract, Selector: "h1"}},
		{task: "screenshot", want: BrowserCommand{Action: ActionScreenshot}},
		{task: "read", want: BrowserCommand{Action: ActionRead}},
		{task: "back", want: BrowserCommand{Action: ActionBack}},
		{task: "reload", want: BrowserCommand{Action: ActionReload}},
		{task: "summarize the pricing page", want: BrowserCommand{Action: ActionRead, Value: "summarize the pricing page"}},
		{task: "click", wantErr: true},
		{task: "type #q", wantErr: true},
		{task: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			got, err := ParseTask(tt.task)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractArticle(t *testing.T) {
	text, err := ExtractArticle(articleHTML, "https://example.com/notes", 0)
	require.NoError(t, err)

	assert.Contains(t, text, "TITLE: Release Notes")
	assert.Contains(t, text, "groups independent steps into waves")
	assert.NotContains(t, text, "<p>")
	assert.NotContains(t, text, "alert(")

	short, err := ExtractArticle(articleHTML, "https://example.com/notes", 20)
	require.NoError(t, err)
	assert.Contains(t, short, "(content truncated)")

	_, err = ExtractArticle("<html><body></body></html>", "https://example.com", 0)
	assert.Error(t, err)

	_, err = ExtractArticle(articleHTML, "://bad", 0)
	assert.Error(t, err)
}

func TestChromeAutomation_NavigateAndRead(t *testing.T) {
	fb := &fakeBrowser{html: articleHTML}
	a, created := newFakeAutomation(t, fb)
	ctx := context.Background()

	require.NoError(t, a.Navigate(ctx, "https://example.com/notes"))

	out, err := a.Act(ctx, "read")
	require.NoError(t, err)
	assert.Contains(t, out, "runs every wave concurrently")

	out, err = a.Act(ctx, "what changed in this release?")
	require.NoError(t, err, "未知任务按 read 处理")
	assert.Contains(t, out, "Release Notes")

	assert.Equal(t, 1, *created, "浏览器只创建一次")
	assert.Equal(t, []Action{ActionNavigate, ActionRead, ActionRead}, actions(a.History()))
}

func TestChromeAutomation_Screenshot(t *testing.T) {
	fb := &fakeBrowser{url: "https://example.com"}
	a, _ := newFakeAutomation(t, fb)
	a.now = func() time.Time { return time.Unix(0, 42) }

	path, err := a.Act(context.Background(), "screenshot")
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(path))
	assert.True(t, strings.HasSuffix(path, "screenshot-42.png"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(data))
}

func TestChromeAutomation_ExtractAndInteract(t *testing.T) {
	fb := &fakeBrowser{url: "https://example.com", texts: map[string]string{"h1": "Welcome"}}
	a, _ := newFakeAutomation(t, fb)
	ctx := context.Background()

	out, err := a.Act(ctx, "extract h1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", out)

	out, err = a.Act(ctx, "click #go")
	require.NoError(t, err)
	assert.Equal(t, "click #go on https://example.com", out)

	out, err = a.Act(ctx, "type #q waveflow")
	require.NoError(t, err)
	assert.Contains(t, out, "typed into #q")

	out, err = a.Act(ctx, "reload")
	require.NoError(t, err)
	assert.Equal(t, "reload: https://example.com", out)
}

func TestChromeAutomation_Errors(t *testing.T) {
	fb := &fakeBrowser{failOn: ActionClick}
	a, _ := newFakeAutomation(t, fb)

	_, err := a.Act(context.Background(), "click #missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element not found")

	_, err = a.Act(context.Background(), "type #only-selector")
	assert.Error(t, err)

	broken := NewAutomation(BrowserFactoryFunc(func(BrowserConfig) (Browser, error) {
		return nil, errors.New("chrome not installed")
	}), DefaultBrowserConfig(), nil)
	err = broken.Navigate(context.Background(), "https://example.com")
	assert.ErrorContains(t, err, "chrome not installed")
}

func TestChromeAutomation_Close(t *testing.T) {
	fb := &fakeBrowser{}
	a, _ := newFakeAutomation(t, fb)
	require.NoError(t, a.Close(), "未启动时关闭是空操作")

	require.NoError(t, a.Navigate(context.Background(), "https://example.com"))
	require.NoError(t, a.Close())
	assert.True(t, fb.closed)
}

func actions(cmds []BrowserCommand) []Action {
	out := make([]Action, len(cmds))
	for i, c := range cmds {
		out[i] = c.Action
	}
	return out
}
