package utils

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxPDFPages bounds extraction work on oversized uploads.
const maxPDFPages = 100

// ExtractPDFText extracts the plain text of a PDF. Pages that fail to
// decode are skipped rather than failing the whole document.
func ExtractPDFText(data []byte) (*ExtractedDoc, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	pages := reader.NumPage()
	if pages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if pages > maxPDFPages {
		return nil, fmt.Errorf("PDF has %d pages, max is %d", pages, maxPDFPages)
	}

	var b strings.Builder
	for n := 1; n <= pages; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			fmt.Fprintf(&b, "\n--- Page %d ---\n%s\n", n, text)
		}
		if b.Len() > maxExtractedText {
			break
		}
	}

	text := truncateText(cleanText(b.String()))
	return &ExtractedDoc{
		PageCount: pages,
		WordCount: countDocWords(text),
		Text:      text,
	}, nil
}
