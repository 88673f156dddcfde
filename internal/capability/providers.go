package capability

// ProviderID identifies one supported LLM vendor/backend.
type ProviderID string

const (
	ProviderGemini     ProviderID = "gemini"
	ProviderOpenAI     ProviderID = "openai"
	ProviderAnthropic  ProviderID = "anthropic"
	ProviderMistral    ProviderID = "mistral"
	ProviderGroq       ProviderID = "groq"
	ProviderDeepSeek   ProviderID = "deepseek"
	ProviderXAI        ProviderID = "xai"
	ProviderOpenRouter ProviderID = "openrouter"
	ProviderCohere     ProviderID = "cohere"
	ProviderOllama     ProviderID = "ollama"
)

// DefaultProvider is the fallback used when dispatch cannot resolve a
// provider id.
const DefaultProvider = ProviderGemini

// AllProviders lists every provider in display order.
var AllProviders = []ProviderID{
	ProviderGemini,
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderMistral,
	ProviderGroq,
	ProviderDeepSeek,
	ProviderXAI,
	ProviderOpenRouter,
	ProviderCohere,
	ProviderOllama,
}

// ValidProvider reports whether id names a supported provider.
func ValidProvider(id ProviderID) bool {
	for _, known := range AllProviders {
		if id == known {
			return true
		}
	}
	return false
}

// ceilings maps each provider to the capabilities it can ever support.
// User configuration may enable a capability only within this ceiling.
var ceilings = map[ProviderID]Set{
	ProviderGemini: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, ImageGeneration,
		ImageEditing, Vision, WebSearch, DocumentUnderstanding,
		AudioTranscription, VideoUnderstanding, Embeddings, Reasoning,
		ContextCaching, CodeExecution, Translation, Summarization,
	),
	ProviderOpenAI: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, ImageGeneration,
		ImageEditing, Vision, DocumentUnderstanding, AudioTranscription,
		AudioGeneration, Embeddings, Reasoning, FineTuning, Moderation,
		Translation, Summarization,
	),
	ProviderAnthropic: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, Vision,
		DocumentUnderstanding, Reasoning, ContextCaching, Translation,
		Summarization,
	),
	ProviderMistral: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, Vision,
		Embeddings, FineTuning, Moderation, Translation, Summarization,
	),
	ProviderGroq: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, Vision,
		AudioTranscription, Reasoning, Translation, Summarization,
	),
	ProviderDeepSeek: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, Reasoning,
		ContextCaching, Translation, Summarization,
	),
	ProviderXAI: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, ImageGeneration,
		Vision, WebSearch, Reasoning, Translation, Summarization,
	),
	ProviderOpenRouter: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, Vision,
		Reasoning, Translation, Summarization,
	),
	ProviderCohere: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, Embeddings,
		FineTuning, Translation, Summarization,
	),
	ProviderOllama: NewSet(
		Chat, Streaming, FunctionCalling, StructuredOutput, Vision,
		Embeddings, Reasoning, Translation, Summarization,
	),
}

// Ceiling returns the capability ceiling for a provider. Unknown providers
// get an empty ceiling so nothing can be enabled for them.
func Ceiling(id ProviderID) Set {
	c, ok := ceilings[id]
	if !ok {
		return Set{}
	}
	// Copy so callers cannot mutate the table.
	out := make(Set, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Supports reports whether the provider's ceiling includes c.
func Supports(id ProviderID, c Capability) bool {
	return ceilings[id][c]
}
