package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/afsalb/deep-researcher/internal/research"
)

// UnsupportedFormatError is returned for file types the parser cannot read.
// Surfaced to the user for the offending file without aborting the session.
type UnsupportedFormatError struct {
	Filename string
	MimeType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q for %s", e.MimeType, e.Filename)
}

// Parser extracts plain text from uploaded documents. Plain text, Markdown
// and HTML are handled here; binary formats are rejected.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

var markdownSyntax = regexp.MustCompile("(!?\\[[^\\]]*\\]\\([^)]*\\))|(^#{1,6}\\s+)|(\\*{1,2})|(`{1,3})|(^>\\s?)|(^[-*+]\\s+)|(^\\d+\\.\\s+)")

// Parse returns the text content of data. The format is chosen by mime type
// first, file extension second.
func (p *Parser) Parse(filename string, data []byte, mimeType string) (string, error) {
	kind := normalizeKind(filename, mimeType)
	switch kind {
	case "text":
		return strings.TrimSpace(string(data)), nil
	case "markdown":
		return stripMarkdown(string(data)), nil
	case "html":
		return extractHTML(filename, data)
	default:
		return "", &UnsupportedFormatError{Filename: filename, MimeType: mimeType}
	}
}

// ToSource wraps parsed text in an upload-origin source. The identity key is
// the filename plus a content hash, so re-uploading identical content
// deduplicates while edited versions do not.
func (p *Parser) ToSource(filename, text string) research.Source {
	return research.Source{
		URLOrID:     fmt.Sprintf("upload:%s#%s", filename, sha1Hex(text)[:12]),
		Title:       filename,
		RawText:     text,
		Origin:      research.OriginUpload,
		RetrievedAt: time.Now(),
	}
}

func normalizeKind(filename, mimeType string) string {
	mt := mimeType
	if idx := strings.IndexByte(mt, ';'); idx != -1 {
		mt = mt[:idx]
	}
	switch strings.TrimSpace(strings.ToLower(mt)) {
	case "text/plain":
		return "text"
	case "text/markdown":
		return "markdown"
	case "text/html", "application/xhtml+xml":
		return "html"
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".log", ".csv":
		return "text"
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm":
		return "html"
	}
	return ""
}

func stripMarkdown(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = markdownSyntax.ReplaceAllStringFunc(line, func(m string) string {
			// Keep link text, drop the URL part.
			if strings.HasPrefix(m, "[") || strings.HasPrefix(m, "![") {
				open := strings.IndexByte(m, '[')
				end := strings.IndexByte(m, ']')
				if open != -1 && end > open {
					return m[open+1 : end]
				}
			}
			return ""
		})
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func extractHTML(filename string, data []byte) (string, error) {
	article, err := readability.FromReader(strings.NewReader(string(data)), &url.URL{})
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filename, err)
	}
	return strings.TrimSpace(article.TextContent), nil
}

// MakeChunks splits text into ~approx-sized pieces with the given overlap,
// for indexing into the session's retrieval index.
func MakeChunks(text string, approx, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); {
		end := start + approx
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
