package capability

// Capability identifies one kind of LLM interaction an agent may request.
// The set is closed: request construction and API visibility both key off
// these values, never off free-form strings.
type Capability string

const (
	Chat                  Capability = "chat"
	Streaming             Capability = "streaming"
	FunctionCalling       Capability = "function_calling"
	StructuredOutput      Capability = "structured_output"
	ImageGeneration       Capability = "image_generation"
	ImageEditing          Capability = "image_editing"
	Vision                Capability = "vision"
	WebSearch             Capability = "web_search"
	CodeExecution         Capability = "code_execution"
	DocumentUnderstanding Capability = "document_understanding"
	AudioTranscription    Capability = "audio_transcription"
	AudioGeneration       Capability = "audio_generation"
	VideoUnderstanding    Capability = "video_understanding"
	Embeddings            Capability = "embeddings"
	Reasoning             Capability = "reasoning"
	ContextCaching        Capability = "context_caching"
	FineTuning            Capability = "fine_tuning"
	Moderation            Capability = "moderation"
	Translation           Capability = "translation"
	Summarization         Capability = "summarization"
)

// All lists every capability in a stable order (UI ordering).
var All = []Capability{
	Chat,
	Streaming,
	FunctionCalling,
	StructuredOutput,
	ImageGeneration,
	ImageEditing,
	Vision,
	WebSearch,
	CodeExecution,
	DocumentUnderstanding,
	AudioTranscription,
	AudioGeneration,
	VideoUnderstanding,
	Embeddings,
	Reasoning,
	ContextCaching,
	FineTuning,
	Moderation,
	Translation,
	Summarization,
}

// Valid reports whether c is a member of the closed capability set.
func Valid(c Capability) bool {
	for _, known := range All {
		if c == known {
			return true
		}
	}
	return false
}

// Set is a capability set with O(1) membership checks.
type Set map[Capability]bool

// NewSet builds a Set from the given capabilities, ignoring unknown values.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		if Valid(c) {
			s[c] = true
		}
	}
	return s
}

// Has reports whether the set contains c.
func (s Set) Has(c Capability) bool {
	return s[c]
}

// Intersect returns the members of s also present in other.
func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for c := range s {
		if s[c] && other[c] {
			out[c] = true
		}
	}
	return out
}

// Slice returns the set's members in the stable All order.
func (s Set) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for _, c := range All {
		if s[c] {
			out = append(out, c)
		}
	}
	return out
}
