package handlers

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"agentdeck/internal/models"
	"agentdeck/internal/services"
	"agentdeck/pkg/auth"
)

// readDeadline allows for long provider calls between client frames.
const readDeadline = 360 * time.Second

// WebSocketHandler handles WebSocket connections: the streaming chat path
// plus in-band auth, stop, and heartbeat frames.
type WebSocketHandler struct {
	connManager *services.ConnectionManager
	chatService *services.ChatService
	workspace   *services.WorkspaceService
	jwtAuth     *auth.LocalJWTAuth // nil when auth is not configured

	// appCtx parents every chat turn so a closed socket does not abort a
	// turn that is already settling.
	appCtx context.Context

	// turns tracks in-flight streamed turns by "connID:instanceID" so stop
	// frames can cancel exactly the turn they name.
	turnsMu sync.Mutex
	turns   map[string]context.CancelFunc
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(appCtx context.Context, connManager *services.ConnectionManager, chatService *services.ChatService, workspace *services.WorkspaceService, jwtAuth *auth.LocalJWTAuth) *WebSocketHandler {
	return &WebSocketHandler{
		connManager: connManager,
		chatService: chatService,
		workspace:   workspace,
		jwtAuth:     jwtAuth,
		appCtx:      appCtx,
		turns:       make(map[string]context.CancelFunc),
	}
}

// Handle handles a new WebSocket connection
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	userID, _ := c.Locals("user_id").(string)
	clientIP, _ := c.Locals("client_ip").(string)

	userConn := &models.UserConnection{
		ConnID:    connID,
		UserID:    userID,
		ClientIP:  clientIP,
		Conn:      c,
		CreatedAt: time.Now(),
		WriteChan: make(chan models.ServerMessage, 100),
		StopChan:  make(chan bool, 1),
	}

	h.connManager.Add(userConn)
	if m := services.GetMetrics(); m != nil {
		m.RecordWebSocketConnect()
	}
	defer func() {
		// Remove closes WriteChan and StopChan, which ends the write and
		// ping loops. In-flight turns keep settling on appCtx.
		h.connManager.Remove(connID)
		if m := services.GetMetrics(); m != nil {
			m.RecordWebSocketDisconnect()
		}
	}()

	c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go h.pingLoop(userConn)
	go h.writeLoop(userConn)

	userConn.WriteChan <- models.ServerMessage{
		Type:    "connected",
		Content: "WebSocket connected. Ready to receive messages.",
	}

	h.readLoop(userConn)
}

// pingLoop sends periodic pings to keep the connection alive during long
// provider calls.
func (h *WebSocketHandler) pingLoop(userConn *models.UserConnection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-userConn.StopChan:
			return
		case <-ticker.C:
			if err := userConn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", userConn.ConnID, err)
				return
			}
		}
	}
}

// writeLoop drains WriteChan onto the socket. It is the only goroutine that
// writes data frames.
func (h *WebSocketHandler) writeLoop(userConn *models.UserConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in writeLoop: %v", r)
		}
	}()

	for msg := range userConn.WriteChan {
		if err := userConn.Conn.WriteJSON(msg); err != nil {
			log.Printf("❌ WebSocket write error for %s: %v", userConn.ConnID, err)
			return
		}
		if m := services.GetMetrics(); m != nil {
			m.RecordWebSocketMessage(msg.Type, "outbound")
		}
	}
}

// readLoop handles incoming messages from the client
func (h *WebSocketHandler) readLoop(userConn *models.UserConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	for {
		_, msg, err := userConn.Conn.ReadMessage()
		if err != nil {
			log.Printf("❌ WebSocket read error for %s: %v", userConn.ConnID, err)
			break
		}

		userConn.Conn.SetReadDeadline(time.Now().Add(readDeadline))

		var clientMsg models.ClientMessage
		if err := json.Unmarshal(msg, &clientMsg); err != nil {
			log.Printf("⚠️ Invalid message format from %s: %v", userConn.ConnID, err)
			userConn.SafeSend(models.ServerMessage{
				Type:         "error",
				ErrorCode:    models.ErrCodeBadInput,
				ErrorMessage: "Invalid message format",
			})
			continue
		}

		if m := services.GetMetrics(); m != nil {
			m.RecordWebSocketMessage(clientMsg.Type, "inbound")
		}

		switch clientMsg.Type {
		case "ping":
			userConn.SafeSend(models.ServerMessage{Type: "pong"})
		case "auth":
			h.handleAuth(userConn, clientMsg)
		case "chat":
			h.handleChat(userConn, clientMsg)
		case "stop":
			h.handleStop(userConn, clientMsg)
		default:
			log.Printf("⚠️ Unknown message type: %s", clientMsg.Type)
		}
	}
}

// handleAuth verifies an in-band token and aligns the workspace scope with
// the authenticated account. A bad token keeps the connection and its
// current scope.
func (h *WebSocketHandler) handleAuth(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	if h.jwtAuth == nil || clientMsg.Token == "" {
		userConn.SafeSend(models.ServerMessage{
			Type:         "error",
			ErrorCode:    models.ErrCodeAuth,
			ErrorMessage: "Authentication is not available",
		})
		return
	}

	user, err := h.jwtAuth.VerifyAccessToken(clientMsg.Token)
	if err != nil {
		userConn.SafeSend(models.ServerMessage{
			Type:         "error",
			ErrorCode:    models.ErrCodeAuth,
			ErrorMessage: "Invalid or expired token",
		})
		return
	}

	if user.ID != h.workspace.UserID() {
		if err := h.workspace.OnAuthChange(h.appCtx, user.ID); err != nil {
			log.Printf("⚠️ Failed to switch workspace scope for %s: %v", user.ID, err)
			userConn.SafeSend(models.ServerMessage{
				Type:         "error",
				ErrorCode:    models.ErrCodeAuth,
				ErrorMessage: "Failed to load account workspace",
			})
			return
		}
		h.chatService.InvalidateAll()
	}

	userConn.UserID = user.ID
	userConn.SafeSend(models.ServerMessage{Type: "auth_success"})
	log.Printf("✅ WebSocket %s authenticated as %s", userConn.ConnID, user.ID)
}

// handleChat starts a streamed chat turn in its own goroutine. Frames for
// the turn flow back through the connection's write channel.
func (h *WebSocketHandler) handleChat(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	if clientMsg.InstanceID == "" {
		userConn.SafeSend(models.ServerMessage{
			Type:         "error",
			ErrorCode:    models.ErrCodeBadInput,
			ErrorMessage: "instance_id is required",
		})
		return
	}
	if strings.TrimSpace(clientMsg.Content) == "" && len(clientMsg.Attachments) == 0 {
		userConn.SafeSend(models.ServerMessage{
			Type:         "error",
			ErrorCode:    models.ErrCodeBadInput,
			ErrorMessage: "content or attachments required",
			InstanceID:   clientMsg.InstanceID,
		})
		return
	}

	key := userConn.ConnID + ":" + clientMsg.InstanceID
	turnCtx, cancel := context.WithCancel(h.appCtx)

	h.turnsMu.Lock()
	if _, exists := h.turns[key]; exists {
		h.turnsMu.Unlock()
		cancel()
		userConn.SafeSend(models.ServerMessage{
			Type:         "error",
			ErrorCode:    models.ErrCodeBusy,
			ErrorMessage: services.ErrInstanceBusy.Error(),
			InstanceID:   clientMsg.InstanceID,
		})
		return
	}
	h.turns[key] = cancel
	h.turnsMu.Unlock()

	go func() {
		defer func() {
			h.turnsMu.Lock()
			delete(h.turns, key)
			h.turnsMu.Unlock()
			cancel()
		}()
		h.chatService.SendStream(turnCtx, userConn, clientMsg.InstanceID, clientMsg.Content, clientMsg.Attachments)
	}()
}

// handleStop cancels the in-flight turn the frame names, or every turn on
// this connection when no instance is given.
func (h *WebSocketHandler) handleStop(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	h.turnsMu.Lock()
	defer h.turnsMu.Unlock()

	if clientMsg.InstanceID != "" {
		if cancel, ok := h.turns[userConn.ConnID+":"+clientMsg.InstanceID]; ok {
			cancel()
			log.Printf("⏹️ Stop signal sent for instance %s", clientMsg.InstanceID)
		}
		return
	}

	prefix := userConn.ConnID + ":"
	for key, cancel := range h.turns {
		if strings.HasPrefix(key, prefix) {
			cancel()
			log.Printf("⏹️ Stop signal sent for %s", key)
		}
	}
}
