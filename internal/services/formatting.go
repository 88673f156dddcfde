package services

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"agentdeck/internal/models"
)

// htmlRenderer converts agent Markdown to HTML for the html format target.
var htmlRenderer = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
	),
)

// formatDirective returns the instruction appended to the system prompt
// when output formatting is enabled. Empty when the target is unknown.
func formatDirective(cfg models.FormatConfig) string {
	if !cfg.Enabled {
		return ""
	}
	switch cfg.Target {
	case models.FormatJSON:
		return "Respond with a single valid JSON value and nothing else. No prose, no code fences."
	case models.FormatXML:
		return "Respond with a single well-formed XML document and nothing else."
	case models.FormatYAML:
		return "Respond with valid YAML and nothing else."
	case models.FormatHTML:
		return "Respond in Markdown. The response will be rendered to HTML."
	case models.FormatMarkdown:
		return "Format the response as Markdown."
	case models.FormatCode:
		lang := cfg.Language
		if lang == "" {
			lang = "code"
		}
		return fmt.Sprintf("Respond with %s source code only. Do not add explanations outside the code.", lang)
	}
	return ""
}

// applyFormatting post-processes a settled response for the configured
// target. It never fails the turn: output that does not parse is returned
// unchanged together with a warning.
func applyFormatting(cfg models.FormatConfig, text string) (string, string) {
	if !cfg.Enabled || text == "" {
		return text, ""
	}
	switch cfg.Target {
	case models.FormatJSON:
		return formatJSON(text)
	case models.FormatXML:
		return formatXML(text)
	case models.FormatYAML:
		return formatYAML(text)
	case models.FormatHTML:
		return formatHTML(text)
	case models.FormatCode:
		return fenceCode(text, cfg.Language), ""
	}
	return text, ""
}

// formatJSON validates and pretty-prints. Models often wrap JSON in a code
// fence despite instructions, so the fence is stripped before parsing.
func formatJSON(text string) (string, string) {
	candidate := stripFence(text)
	var value any
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		return text, "response is not valid JSON"
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return text, "response is not valid JSON"
	}
	return string(pretty), ""
}

func formatXML(text string) (string, string) {
	decoder := xml.NewDecoder(strings.NewReader(stripFence(text)))
	for {
		_, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return text, ""
		}
		if err != nil {
			return text, "response is not well-formed XML"
		}
	}
}

func formatYAML(text string) (string, string) {
	var value any
	if err := yaml.Unmarshal([]byte(stripFence(text)), &value); err != nil {
		return text, "response is not valid YAML"
	}
	return text, ""
}

func formatHTML(text string) (string, string) {
	var buf bytes.Buffer
	if err := htmlRenderer.Convert([]byte(text), &buf); err != nil {
		return text, "response could not be rendered to HTML"
	}
	return buf.String(), ""
}

// fenceCode wraps bare code in a fenced block with the requested language.
// Responses that already carry a fence are left alone.
func fenceCode(text, language string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		return text
	}
	return fmt.Sprintf("```%s\n%s\n```", language, trimmed)
}

// stripFence removes a single surrounding Markdown code fence, with or
// without a language tag. Anything else passes through untouched.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimSuffix(trimmed, "```")
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	return strings.TrimSpace(body)
}
