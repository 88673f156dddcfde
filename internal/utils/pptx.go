package utils

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// maxPPTXSlides bounds extraction work on oversized decks.
const maxPPTXSlides = 200

// ExtractPPTXText extracts the slide text of a PowerPoint deck, in slide
// order, with one header line per slide.
func ExtractPPTXText(data []byte) (*ExtractedDoc, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PPTX: %w", err)
	}

	type slideFile struct {
		num  int
		file *zip.File
	}
	var slides []slideFile
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "ppt/slides/slide") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		base := strings.TrimSuffix(strings.TrimPrefix(path.Base(f.Name), "slide"), ".xml")
		num, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		slides = append(slides, slideFile{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })
	if len(slides) > maxPPTXSlides {
		slides = slides[:maxPPTXSlides]
	}

	var b strings.Builder
	for _, slide := range slides {
		rc, err := slide.file.Open()
		if err != nil {
			continue
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if text := drawingMLText(raw); text != "" {
			fmt.Fprintf(&b, "\n--- Slide %d ---\n%s\n", slide.num, text)
		}
		if b.Len() > maxExtractedText {
			break
		}
	}

	text := truncateText(cleanText(b.String()))
	return &ExtractedDoc{
		PageCount: len(slides),
		WordCount: countDocWords(text),
		Text:      text,
	}, nil
}

// drawingMLText walks a slide's token stream, joining the character data of
// each a:p paragraph into one line.
func drawingMLText(raw []byte) string {
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
			if t.Name.Local == "p" && strings.Contains(t.Name.Space, "drawingml") {
				inParagraph = true
				paragraph.Reset()
			}
		case xml.EndElement:
			if t.Name.Local == "p" && strings.Contains(t.Name.Space, "drawingml") {
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
