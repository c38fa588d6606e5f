package fetch

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
)

// Fetcher renders a page in headless Chrome and extracts the readable article
// text. Used to enrich search results whose snippets are too thin to analyze.
type Fetcher struct {
	timeout  time.Duration
	maxChars int
	logger   *log.Logger
}

func New(timeout time.Duration, maxChars int) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{
		timeout:  timeout,
		maxChars: maxChars,
		logger:   log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
	}
}

// Fetch returns the readable text of the page at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("invalid url")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	html, err := fetchHTML(ctx, rawURL)
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(strings.NewReader(html), parseURL(rawURL))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	if f.maxChars > 0 && len(text) > f.maxChars {
		text = text[:f.maxChars]
	}
	return text, nil
}

func fetchHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("DeepResearcher/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
