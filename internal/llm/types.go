package llm

import (
	"fmt"

	"agentdeck/internal/capability"
)

// Operation names as they appear in unsupported-operation errors and
// metrics labels.
const (
	OpGenerateContent           = "generateContent"
	OpGenerateContentStream     = "generateContentStream"
	OpGenerateContentWithSearch = "generateContentWithSearch"
	OpGenerateImage             = "generateImage"
	OpEditImage                 = "editImage"
	OpListModels                = "listModels"
)

// Message roles on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the provider-independent generation request. Clients translate
// it into their vendor's wire shape.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolDecl

	// JSONMode asks the vendor for structured JSON output where supported.
	JSONMode bool
}

// Message is one conversation turn.
type Message struct {
	Role   string
	Text   string
	Images []ImagePart
}

// ImagePart is an inline image, base64-encoded.
type ImagePart struct {
	MIME string
	Data string
}

// ToolDecl declares a callable function to the model.
type ToolDecl struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ImageOptions tunes image generation.
type ImageOptions struct {
	Size string // e.g. "1024x1024"; empty for vendor default
}

// Citation is one grounding source returned by a search-grounded call.
type Citation struct {
	Kind  string `json:"kind,omitempty"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// GeneratedImage is an image result, base64-encoded.
type GeneratedImage struct {
	MIME string `json:"mime"`
	Data string `json:"data"`
}

// Result is the settled outcome of a non-streaming operation. Exactly one
// of the payload fields or Err is meaningful: a non-empty Err means the
// operation failed and carries the full story. Vendor failures never
// surface as Go errors past the dispatcher.
type Result struct {
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Citations []Citation      `json:"citations,omitempty"`
	Image     *GeneratedImage `json:"image,omitempty"`

	// Warning carries non-fatal notes, e.g. output that failed
	// format post-processing.
	Warning string `json:"warning,omitempty"`

	Err string `json:"error,omitempty"`
}

// OK reports whether the result carries a payload rather than an error.
func (r Result) OK() bool { return r.Err == "" }

// StreamChunk is one element of a generateContentStream sequence. A chunk
// with Err set is the stream's error marker; the channel closes after it.
// A closed channel with no chunks delivered is a legitimate empty response.
type StreamChunk struct {
	Text      string     `json:"text,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Err       string     `json:"error,omitempty"`
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// ModelsResult is the settled outcome of listModels.
type ModelsResult struct {
	Models []ModelInfo `json:"models,omitempty"`
	Err    string      `json:"error,omitempty"`
}

// Unsupported builds the structured result for an operation the resolved
// provider does not implement.
func Unsupported(op string, provider capability.ProviderID) Result {
	return Result{Err: fmt.Sprintf("%s is not supported by %s", op, provider)}
}
