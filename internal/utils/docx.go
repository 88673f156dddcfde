package utils

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const wordMLNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// ExtractDOCXText extracts the paragraph text of a Word document. The page
// count is estimated from the word count; the format does not record it.
func ExtractDOCXText(data []byte) (*ExtractedDoc, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open DOCX: %w", err)
	}

	var raw []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open document body: %w", err)
			}
			raw, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read document body: %w", err)
			}
			break
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("not a Word document: no document body")
	}

	text := truncateText(cleanText(wordMLText(raw)))
	words := countDocWords(text)
	return &ExtractedDoc{
		PageCount: words/500 + 1, // ~500 words per page
		WordCount: words,
		Text:      text,
	}, nil
}

// wordMLText walks the WordprocessingML token stream, joining the character
// data of each w:p paragraph into one line.
func wordMLText(raw []byte) string {
	var out strings.Builder
	var paragraph strings.Builder
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	inParagraph := false

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "p" && t.Name.Space == wordMLNamespace {
				inParagraph = true
				paragraph.Reset()
			}
		case xml.EndElement:
			if t.Name.Local == "p" && t.Name.Space == wordMLNamespace {
				if inParagraph && paragraph.Len() > 0 {
					out.WriteString(paragraph.String())
					out.WriteString("\n")
				}
				inParagraph = false
			}
		case xml.CharData:
			if !inParagraph {
				continue
			}
			if text := strings.TrimSpace(string(t)); text != "" {
				if paragraph.Len() > 0 {
					paragraph.WriteString(" ")
				}
				paragraph.WriteString(text)
			}
		}
	}
	return out.String()
}
