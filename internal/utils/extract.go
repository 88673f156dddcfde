package utils

import (
	"fmt"
	"strings"
	"unicode"
)

// Document MIME types accepted for server-side text extraction.
const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEPPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// maxExtractedText caps extracted text at 1MB so one upload cannot blow up
// a conversation log.
const maxExtractedText = 1 << 20

// ExtractedDoc is the plain text pulled out of an uploaded document.
// PageCount is slides for presentations and an estimate for word documents.
type ExtractedDoc struct {
	PageCount int
	WordCount int
	Text      string
}

// SupportedDocument reports whether text can be extracted from the type.
func SupportedDocument(mime string) bool {
	switch mime {
	case MIMEPDF, MIMEDOCX, MIMEPPTX:
		return true
	}
	return false
}

// ExtractDocumentText extracts plain text from a supported document.
func ExtractDocumentText(mime string, data []byte) (*ExtractedDoc, error) {
	switch mime {
	case MIMEPDF:
		return ExtractPDFText(data)
	case MIMEDOCX:
		return ExtractDOCXText(data)
	case MIMEPPTX:
		return ExtractPPTXText(data)
	}
	return nil, fmt.Errorf("unsupported document type: %s", mime)
}

func truncateText(text string) string {
	if len(text) <= maxExtractedText {
		return text
	}
	return text[:maxExtractedText] + "\n... [truncated]"
}

// cleanText strips null bytes and collapses runs of blank lines left over
// from XML extraction.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

func countDocWords(text string) int {
	return len(strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
}
