package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type       string `json:"type"` // "auth", "chat", "stop", "ping"
	Token      string `json:"token,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Content    string `json:"content,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// ServerMessage represents a message sent to the client
type ServerMessage struct {
	Type       string `json:"type"` // "auth_success", "chunk", "complete", "error", "pong"
	InstanceID string `json:"instance_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`

	Content   string     `json:"content,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	Citations []Citation `json:"citations,omitempty"`

	ErrorCode    string `json:"code,omitempty"`
	ErrorMessage string `json:"message,omitempty"`

	// Warning carries non-fatal notes on "complete" frames, e.g. output
	// that failed format post-processing.
	Warning string `json:"warning,omitempty"`

	// Final settled message for "complete" frames.
	Message *ChatMessage `json:"chat_message,omitempty"`
}

// Error codes carried on "error" frames.
const (
	ErrCodeNotFound  = "not_found"
	ErrCodeBusy      = "busy"
	ErrCodeProvider  = "provider_error"
	ErrCodeCancelled = "cancelled"
	ErrCodeAuth      = "auth_failed"
	ErrCodeBadInput  = "bad_input"
)

// UserConnection represents a single WebSocket connection. All writes go
// through WriteChan; one writer goroutine per connection drains it.
type UserConnection struct {
	ConnID    string
	UserID    string // empty in guest mode
	ClientIP  string
	Conn      *websocket.Conn
	CreatedAt time.Time

	WriteChan chan ServerMessage
	StopChan  chan bool

	Mutex  sync.Mutex
	closed bool
}

// SafeSend sends a message to WriteChan safely, returning false if the channel is closed
func (uc *UserConnection) SafeSend(msg ServerMessage) bool {
	uc.Mutex.Lock()
	if uc.closed {
		uc.Mutex.Unlock()
		return false
	}
	uc.Mutex.Unlock()

	// Use defer/recover to handle panic from send on closed channel
	defer func() {
		if r := recover(); r != nil {
			uc.Mutex.Lock()
			uc.closed = true
			uc.Mutex.Unlock()
		}
	}()

	uc.WriteChan <- msg
	return true
}

// MarkClosed marks the connection as closed
func (uc *UserConnection) MarkClosed() {
	uc.Mutex.Lock()
	uc.closed = true
	uc.Mutex.Unlock()
}

// IsClosed returns true if the connection has been marked as closed
func (uc *UserConnection) IsClosed() bool {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	return uc.closed
}
