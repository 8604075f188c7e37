// Package preload implements the research preload pipeline: SSRF-checked
// fetching, readability extraction, markdown conversion, and shortlist
// candidate collection for context assembly before a turn starts.
package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"

	"github.com/evrenesat/askygo/internal/net/ssrf"
)

// HTTPFetcher fetches a URL with SSRF validation, extracts the main article
// via readability, and converts it to markdown. It implements
// researchcache.Fetcher.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher returns a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: 10 << 20,
	}
}

// Fetch implements researchcache.Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("preload: invalid url %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", fmt.Errorf("preload: unsupported scheme %q", parsed.Scheme)
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return "", "", fmt.Errorf("preload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("preload: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; askygo/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("preload: fetch %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("preload: fetch %q: http %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", "", fmt.Errorf("preload: read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", "", fmt.Errorf("preload: unsupported content type %q", contentType)
	}

	if strings.Contains(contentType, "text/plain") {
		return "", string(body), nil
	}

	return f.extractArticle(body, parsed)
}

func (f *HTTPFetcher) extractArticle(body []byte, base *url.URL) (string, string, error) {
	article, err := readability.FromReader(strings.NewReader(string(body)), base)
	htmlContent := string(body)
	title := ""
	if err == nil && strings.TrimSpace(article.Content) != "" {
		htmlContent = article.Content
		title = strings.TrimSpace(article.Title)
	}

	md, err := htmltomarkdown.ConvertString(htmlContent, converter.WithDomain(base.Scheme+"://"+base.Host))
	if err != nil {
		return title, htmlContent, nil
	}
	return title, strings.TrimSpace(md), nil
}
