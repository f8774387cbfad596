// Package web provides a tool subtree for fetching and reading web pages.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	relay "github.com/nevindra/relay"
)

// maxContent bounds the extracted text returned to the sandbox.
const maxContent = 8000

// Fetcher fetches URLs and extracts readable content.
type Fetcher struct {
	client *http.Client
}

// New creates a Fetcher with a 15-second timeout.
func New() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Tree returns the "web" subtree: fetch runs without approval.
func (f *Fetcher) Tree() *relay.Tree {
	web := relay.NewTree()
	web.Set("fetch", relay.Define(
		"Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		relay.ApprovalAuto,
		json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
		json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"content":{"type":"string"},"url":{"type":"string"}}}`),
		f.fetch,
	))

	root := relay.NewTree()
	root.Set("web", web)
	return root
}

func (f *Fetcher) fetch(ctx context.Context, input map[string]any) (any, error) {
	rawURL, _ := input["url"].(string)
	title, content, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if len(content) > maxContent {
		content = content[:maxContent] + "\n... (truncated)"
	}
	return map[string]any{
		"title":   title,
		"content": content,
		"url":     rawURL,
	}, nil
}

// Fetch downloads a URL and extracts readable text. Exported for use by
// other tools.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (title, content string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RelayBot/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", "", fmt.Errorf("read error: %w", err)
	}

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return "", "", fmt.Errorf("extract error: %w", err)
	}
	return article.Title, strings.TrimSpace(article.TextContent), nil
}
