// Package textextract turns uploaded documents into plain text.
//
// The file type is sniffed from content first and only then from the name
// and MIME type, so mislabelled uploads are still read correctly.
// Supported: PDF, DOCX, PPTX, HTML, plain text and markdown.
package textextract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("empty file")
	// ErrUnsupported is returned when the file type cannot be read.
	ErrUnsupported = errors.New("unsupported file type")
)

// Kind is a detected document type.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
	KindPPTX Kind = "pptx"
	KindHTML Kind = "html"
	KindText Kind = "text"
)

// Extract returns the text of data along with the detected kind.
func Extract(name, mimeType string, data []byte) (string, Kind, error) {
	ext := strings.ToLower(filepath.Ext(name))
	mt := strings.ToLower(strings.TrimSpace(mimeType))

	if len(data) == 0 {
		return "", "", fmt.Errorf("%w: %s", ErrEmptyFile, name)
	}

	if isPDF(data) {
		text, err := extractPDF(data)
		return text, KindPDF, err
	}
	if isZip(data) {
		kind, err := detectOpenXMLKind(data)
		if err != nil {
			return "", "", fmt.Errorf("%w: %s: %v", ErrUnsupported, name, err)
		}
		var text string
		switch kind {
		case KindDOCX:
			text, err = extractOpenXML(data, func(n string) bool { return n == "word/document.xml" })
		case KindPPTX:
			text, err = extractOpenXML(data, func(n string) bool {
				return strings.HasPrefix(n, "ppt/slides/") && strings.HasSuffix(n, ".xml")
			})
		}
		return text, kind, err
	}

	if looksLikeHTML(data) || mt == "text/html" || ext == ".html" || ext == ".htm" {
		return stripHTML(string(data)), KindHTML, nil
	}

	if isProbablyText(data) || mt == "text/plain" || mt == "text/markdown" ||
		ext == ".txt" || ext == ".md" || ext == ".markdown" {
		return collapseWhitespace(string(data)), KindText, nil
	}

	if mt == "application/pdf" || ext == ".pdf" {
		return "", "", fmt.Errorf("%w: %s claims pdf but has no %%PDF header (head=%x)", ErrUnsupported, name, head(data, 16))
	}
	if ext == ".docx" || ext == ".pptx" {
		return "", "", fmt.Errorf("%w: %s is not a valid zip container", ErrUnsupported, name)
	}

	return "", "", fmt.Errorf("%w: name=%s ext=%s mime=%s head=%x", ErrUnsupported, name, ext, mimeType, head(data, 16))
}

func isPDF(b []byte) bool {
	return bytes.HasPrefix(b, []byte("%PDF-"))
}

func isZip(b []byte) bool {
	return bytes.HasPrefix(b, []byte{'P', 'K', 3, 4})
}

func looksLikeHTML(b []byte) bool {
	s := strings.ToLower(string(head(b, 2048)))
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html") {
		return true
	}
	return strings.Contains(s, "<html") && strings.Contains(s, "</html>")
}

// isProbablyText reports whether the leading bytes are mostly printable
// with no NULs.
func isProbablyText(b []byte) bool {
	sample := head(b, 4096)
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.9
}

func head(b []byte, n int) []byte {
	return b[:min(len(b), n)]
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf package panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf parse: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return collapseWhitespace(string(b)), nil
}

func detectOpenXMLKind(data []byte) (Kind, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	hasWord, hasPpt := false, false
	for _, f := range zr.File {
		hasWord = hasWord || strings.HasPrefix(f.Name, "word/")
		hasPpt = hasPpt || strings.HasPrefix(f.Name, "ppt/")
	}
	switch {
	case hasWord && !hasPpt:
		return KindDOCX, nil
	case hasPpt && !hasWord:
		return KindPPTX, nil
	case hasWord && hasPpt:
		return "", errors.New("zip contains both word/ and ppt/ parts")
	default:
		return "", errors.New("zip does not look like docx or pptx")
	}
}

// extractOpenXML gathers the text runs (<w:t>, <a:t>) of every matching part.
func extractOpenXML(data []byte, match func(name string) bool) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, f := range zr.File {
		if !match(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		out.WriteString(xmlText(b))
		out.WriteString("\n")
	}
	return collapseWhitespace(out.String()), nil
}

func xmlText(b []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(b))
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "t" {
			continue
		}
		var v string
		if err := dec.DecodeElement(&v, &se); err == nil && v != "" {
			out.WriteString(v)
			out.WriteString(" ")
		}
	}
	return out.String()
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
)

func stripHTML(s string) string {
	s = scriptRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	return collapseWhitespace(html.UnescapeString(s))
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
