// Package document turns uploaded files into the source document a run starts from.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"
)

// MaxSize is the largest document accepted for extraction.
const MaxSize = 10 * 1024 * 1024

var (
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrEmptyDocument       = errors.New("document has no text content")
	ErrDocumentTooLarge    = errors.New("document too large")
)

// Extract sniffs the media type of data and returns its text with metadata describing the file.
func Extract(data []byte, filename string) (*models.SourceDocument, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDocumentTooLarge, len(data), MaxSize)
	}

	mtype := mimetype.Detect(data)
	docType := documentType(mtype, filename)

	var (
		content string
		err     error
	)

	switch docType {
	case "txt", "markdown":
		content, err = plainText(data)
	case "json":
		content, err = jsonText(data)
	case "html":
		content, err = htmlText(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDocument, mtype.String())
	}

	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyDocument
	}

	return &models.SourceDocument{
		Content: content,
		Metadata: map[string]any{
			"filename":      filepath.Base(filename),
			"file_size":     len(data),
			"mime_type":     mtype.String(),
			"document_type": docType,
			"language":      "en",
			"encoding":      "utf-8",
		},
	}, nil
}

func documentType(mtype *mimetype.MIME, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case mtype.Is("text/html"):
		return "html"
	case mtype.Is("application/json"):
		return "json"
	case mtype.Is("text/plain") && (ext == ".md" || ext == ".markdown"):
		return "markdown"
	case mtype.Is("text/plain"):
		return "txt"
	default:
		return mtype.Extension()
	}
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedDocument)
	}

	return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
}

// jsonText flattens every string value; object members are visited in key order.
func jsonText(data []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("invalid JSON document: %w", err)
	}

	var lines []string

	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				lines = append(lines, s)
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			for _, key := range slices.Sorted(maps.Keys(t)) {
				walk(t[key])
			}
		}
	}

	walk(doc)

	return strings.Join(lines, "\n"), nil
}

func htmlText(data []byte) (string, error) {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))

	var (
		b    strings.Builder
		skip int
	)

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("invalid HTML document: %w", err)
			}

			return collapseBlankLines(b.String()), nil
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isHidden(name) {
				skip++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isHidden(name) && skip > 0 {
				skip--
			}

			if isBlock(name) {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isHidden(tag []byte) bool {
	switch string(tag) {
	case "script", "style", "head", "noscript":
		return true
	}

	return false
}

func isBlock(tag []byte) bool {
	switch string(tag) {
	case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "br", "section", "article":
		return true
	}

	return false
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}

	return strings.Join(out, "\n")
}
