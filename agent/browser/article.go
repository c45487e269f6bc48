package browser

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// ExtractArticle pulls the main readable text out of a page and strips any
// markup left in it. maxChars <= 0 disables truncation.
func ExtractArticle(pageHTML, pageURL string, maxChars int) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	p := bluemonday.StrictPolicy()

	var title, excerpt, content string
	article, err := readability.FromReader(strings.NewReader(pageHTML), parsedURL)
	if err == nil {
		title = article.Title
		excerpt = article.Excerpt
		content = article.TextContent
	}
	if strings.TrimSpace(content) == "" {
		// readability 无法识别正文时退回整页文本
		content = pageHTML
	}
	content = strings.TrimSpace(html.UnescapeString(p.Sanitize(content)))
	if content == "" {
		return "", fmt.Errorf("page has no readable content")
	}

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "TITLE: %s\n", title)
	}
	if excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", html.UnescapeString(p.Sanitize(excerpt)))
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}

	if maxChars > 0 && len(content) > maxChars {
		content = content[:maxChars] + "\n... (content truncated) ..."
	}
	b.WriteString(content)
	return b.String(), nil
}
