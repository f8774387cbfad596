// Package doc provides a tool subtree for extracting text from documents.
//
// It uses ledongthuc/pdf (BSD-3, pure Go, no CGO) for text extraction.
// This is a separate subpackage so that the dependency is only pulled in
// by users who need PDF support.
package doc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	relay "github.com/nevindra/relay"
)

// maxDocument bounds the downloaded document size.
const maxDocument = 20 << 20 // 20MB

// maxText bounds the extracted text returned to the sandbox.
const maxText = 16000

// Extractor downloads documents and extracts their text.
type Extractor struct {
	client *http.Client
}

// New creates an Extractor with a 30-second timeout.
func New() *Extractor {
	return &Extractor{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Tree returns the "doc" subtree: extraction runs without approval.
func (e *Extractor) Tree() *relay.Tree {
	doc := relay.NewTree()
	doc.Set("extract_pdf", relay.Define(
		"Download a PDF and extract its plain text, page by page. Use for reading papers, reports, manuals.",
		relay.ApprovalAuto,
		json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL of the PDF"}},"required":["url"]}`),
		json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"},"pages":{"type":"number"}}}`),
		e.extractPDF,
	))

	root := relay.NewTree()
	root.Set("doc", doc)
	return root
}

func (e *Extractor) extractPDF(ctx context.Context, input map[string]any) (any, error) {
	rawURL, _ := input["url"].(string)
	content, err := e.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	text, pages, err := ExtractText(content)
	if err != nil {
		return nil, err
	}
	if len(text) > maxText {
		text = text[:maxText] + "\n... (truncated)"
	}
	return map[string]any{
		"text":  text,
		"pages": pages,
	}, nil
}

func (e *Extractor) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocument))
}

// ExtractText extracts plain text from PDF bytes. Unreadable pages are
// skipped.
func ExtractText(content []byte) (string, int, error) {
	if len(content) == 0 {
		return "", 0, fmt.Errorf("empty PDF content")
	}

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return strings.TrimSpace(text.String()), r.NumPage(), nil
}
