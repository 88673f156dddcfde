package models

import (
	"time"

	"agentdeck/internal/capability"
)

// Agent is a reusable prototype: a named template from which canvas
// instances are cloned. Editing an agent never touches instances that were
// already created from it.
type Agent struct {
	ID        string      `json:"id" bson:"_id"`
	UserID    string      `json:"user_id,omitempty" bson:"userId,omitempty"`
	Name      string      `json:"name" bson:"name"`
	Role      string      `json:"role,omitempty" bson:"role,omitempty"`
	Config    AgentConfig `json:"config" bson:"config"`
	CreatedAt time.Time   `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time   `json:"updated_at" bson:"updatedAt"`
}

// AgentConfig holds every config-relevant field an instance inherits when
// it is cloned from a prototype.
type AgentConfig struct {
	Provider     capability.ProviderID   `json:"provider" bson:"provider"`
	Model        string                  `json:"model" bson:"model"`
	SystemPrompt string                  `json:"system_prompt" bson:"systemPrompt"`
	Capabilities []capability.Capability `json:"capabilities" bson:"capabilities"`
	Tools        []Tool                  `json:"tools" bson:"tools"`
	Format       FormatConfig            `json:"format" bson:"format"`
	Summarize    SummarizeConfig         `json:"summarize" bson:"summarize"`
}

// Tool declares a function the agent may call. Schemas are free-form JSON
// objects; validation happens in the form before save.
type Tool struct {
	Name         string         `json:"name" bson:"name"`
	Description  string         `json:"description,omitempty" bson:"description,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty" bson:"parameters,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty" bson:"outputSchema,omitempty"`
}

// Output format targets.
const (
	FormatJSON     = "json"
	FormatXML      = "xml"
	FormatYAML     = "yaml"
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatCode     = "code"
)

// FormatConfig controls response post-formatting.
type FormatConfig struct {
	Enabled  bool   `json:"enabled" bson:"enabled"`
	Target   string `json:"target,omitempty" bson:"target,omitempty"`
	Language string `json:"language,omitempty" bson:"language,omitempty"` // for target "code"
}

// Summarization limit units.
const (
	UnitCharacters = "characters"
	UnitWords      = "words"
	UnitTokens     = "tokens"
	UnitSentences  = "sentences"
	UnitMessages   = "messages"
)

// SummarizeConfig controls history summarization. When the pending history
// exceeds Limit measured in Unit, the oldest part is synthesized into one
// summary message using the configured provider/model.
type SummarizeConfig struct {
	Enabled  bool                  `json:"enabled" bson:"enabled"`
	Provider capability.ProviderID `json:"provider,omitempty" bson:"provider,omitempty"`
	Model    string                `json:"model,omitempty" bson:"model,omitempty"`
	Unit     string                `json:"unit,omitempty" bson:"unit,omitempty"`
	Limit    int                   `json:"limit,omitempty" bson:"limit,omitempty"`
}

// AgentPatch is a partial agent update. Nil fields are left unchanged.
type AgentPatch struct {
	Name   *string      `json:"name,omitempty"`
	Role   *string      `json:"role,omitempty"`
	Config *AgentConfig `json:"config,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p AgentPatch) Empty() bool {
	return p.Name == nil && p.Role == nil && p.Config == nil
}

// Clone returns a deep copy. Instances are created from clones so that
// later prototype edits cannot reach them through shared slices or maps.
func (c AgentConfig) Clone() AgentConfig {
	out := c
	if c.Capabilities != nil {
		out.Capabilities = make([]capability.Capability, len(c.Capabilities))
		copy(out.Capabilities, c.Capabilities)
	}
	if c.Tools != nil {
		out.Tools = make([]Tool, len(c.Tools))
		for i, t := range c.Tools {
			out.Tools[i] = t.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the tool including its schema maps.
func (t Tool) Clone() Tool {
	out := t
	out.Parameters = deepCopyMap(t.Parameters)
	out.OutputSchema = deepCopyMap(t.OutputSchema)
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		// Scalars are value types after JSON decoding and safe to share.
		return v
	}
}
