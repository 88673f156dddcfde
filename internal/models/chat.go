package models

import "time"

// Chat message senders.
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// ChatMessage is one entry in an instance's conversation log. Append-only:
// a message is never mutated after the turn settles, except to mark an
// error state.
type ChatMessage struct {
	ID        string     `json:"id" bson:"id"`
	Sender    string     `json:"sender" bson:"sender"`
	Text      string     `json:"text" bson:"text"`
	Image     string     `json:"image,omitempty" bson:"image,omitempty"` // base64 payload
	ImageMIME string     `json:"image_mime,omitempty" bson:"imageMime,omitempty"`
	Thinking  string     `json:"thinking,omitempty" bson:"thinking,omitempty"`
	IsError   bool       `json:"is_error,omitempty" bson:"isError,omitempty"`
	Citations []Citation `json:"citations,omitempty" bson:"citations,omitempty"`
	Timestamp time.Time  `json:"timestamp" bson:"timestamp"`

	// Summary marks a message synthesized from older history rather than
	// authored by either party.
	Summary bool `json:"summary,omitempty" bson:"summary,omitempty"`
}

// Citation kinds.
const (
	CitationWeb = "web"
	CitationMap = "map"
)

// Citation is one grounding source attached to an agent message.
type Citation struct {
	Kind  string `json:"kind,omitempty" bson:"kind,omitempty"`
	Title string `json:"title,omitempty" bson:"title,omitempty"`
	URL   string `json:"url" bson:"url"`
}

// Attachment is a user-supplied file accompanying a chat message. Images
// are forwarded to vision-capable providers; PDFs are ingested to text
// server-side.
type Attachment struct {
	Name string `json:"name,omitempty"`
	MIME string `json:"mime"`
	Data string `json:"data"` // base64
}

// Clone returns a copy safe to hold across config saves.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if m.Citations != nil {
		out.Citations = append([]Citation(nil), m.Citations...)
	}
	return out
}
