// Package pdftext extracts plain text from PDF documents for the regex
// extraction engine. It is a best-effort text pull, not a layout parser.
package pdftext

import (
	"bytes"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// ErrNoText is returned when a PDF yields no extractable text (e.g. a
// scanned image-only document).
var ErrNoText = eris.New("pdftext: no extractable text")

// FromFile extracts plain text from the PDF at path.
func FromFile(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "pdftext: open %s", path)
	}
	defer f.Close()

	return readPlainText(r)
}

// FromBytes extracts plain text from in-memory PDF data.
func FromBytes(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "pdftext: read pdf")
	}

	return readPlainText(r)
}

func readPlainText(r *pdf.Reader) (string, error) {
	reader, err := r.GetPlainText()
	if err != nil {
		return "", eris.Wrap(err, "pdftext: extract text")
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, reader); err != nil {
		return "", eris.Wrap(err, "pdftext: read extracted text")
	}

	text := Sanitize(sb.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Sanitize normalizes extracted text for pattern matching: full-width
// characters are folded to their narrow forms (full-width digits are common
// in Korean contract PDFs), the result is NFC-normalized, and control
// characters other than newlines are dropped.
func Sanitize(text string) string {
	text = width.Narrow.String(text)
	text = norm.NFC.String(text)

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r >= 0x20 {
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
