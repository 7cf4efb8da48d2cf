package pdfutil

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// PDFMediaType is the only media type ExtractText attempts to parse.
const PDFMediaType = "application/pdf"

// ExtractText returns the plain text of a PDF with pages joined by a single
// newline. Any other media type yields "" (there is no OCR). Parse failures,
// including panics inside the parser on malformed files, also yield "".
func ExtractText(data []byte, mediaType string) string {
	if mediaType != PDFMediaType {
		return ""
	}
	pages, err := ExtractPages(data)
	if err != nil {
		return ""
	}
	return strings.Join(pages, "\n")
}

// ExtractPages reads PDF bytes and returns the plain text of each page using
// ledongthuc/pdf. Pages without content come back as empty strings so that
// indexes stay aligned with 1-based page numbers.
func ExtractPages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("new pdf reader: %w", err)
	}
	total := doc.NumPage()
	pages = make([]string, 0, total)
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		pages = append(pages, content)
	}
	return pages, nil
}
