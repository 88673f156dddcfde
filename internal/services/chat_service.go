package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/llm"
	"agentdeck/internal/logging"
	"agentdeck/internal/models"
	"agentdeck/internal/utils"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

// ChatService runs conversation turns against instances: request assembly,
// provider dispatch, and settled-log persistence. At most one turn per
// instance is in flight at a time; different instances run concurrently.
type ChatService struct {
	workspace  *WorkspaceService
	providers  *ProviderService
	config     *ConfigService
	dispatcher *llm.Dispatcher

	// summaryCache keeps synthesized history summaries per instance id.
	// Summaries are expensive to regenerate, so they outlive single turns
	// and are reused until the retained tail outgrows the limit again.
	summaryCache *cache.Cache

	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// summaryState is the cached product of one history synthesis: the summary
// text and the number of leading log messages it covers.
type summaryState struct {
	Text      string
	Covered   int
	CreatedAt time.Time
}

// TurnResult is a settled chat turn: the appended agent message plus any
// non-fatal formatting warning.
type TurnResult struct {
	Message models.ChatMessage `json:"message"`
	Warning string             `json:"warning,omitempty"`
}

// NewChatService builds the chat service. cacheTTL bounds how long an
// unused instance keeps its synthesized summary.
func NewChatService(workspace *WorkspaceService, providers *ProviderService, config *ConfigService, dispatcher *llm.Dispatcher, cacheTTL time.Duration) *ChatService {
	return &ChatService{
		workspace:    workspace,
		providers:    providers,
		config:       config,
		dispatcher:   dispatcher,
		summaryCache: cache.New(cacheTTL, cacheTTL/2),
		inFlight:     make(map[string]bool),
	}
}

// InvalidateInstance drops cached conversation state for one instance.
// Called when the instance is deleted.
func (s *ChatService) InvalidateInstance(instanceID string) {
	s.summaryCache.Delete(instanceID)
}

// InvalidateAll drops all cached conversation state. Called on auth
// transitions so no summary from one scope survives into the next.
func (s *ChatService) InvalidateAll() {
	s.summaryCache.Flush()
}

// begin marks an instance as processing. Returns false if a turn is
// already in flight for it.
func (s *ChatService) begin(instanceID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if s.inFlight[instanceID] {
		return false
	}
	s.inFlight[instanceID] = true
	return true
}

func (s *ChatService) end(instanceID string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, instanceID)
}

// Busy reports whether a turn is currently in flight for the instance.
func (s *ChatService) Busy(instanceID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	return s.inFlight[instanceID]
}

// turnPlan is everything a dispatch needs, assembled up front so the
// workspace is not touched again until the request settles.
type turnPlan struct {
	instance   models.Instance
	provider   capability.ProviderID
	credential string
	request    llm.Request
	userMsg    models.ChatMessage
	format     models.FormatConfig
	search     bool
	stream     bool
}

// Send runs one blocking conversation turn and returns the settled agent
// message. Vendor failures settle into an error-flagged agent message, not
// a Go error; only lookup and busy conditions surface as errors.
func (s *ChatService) Send(ctx context.Context, instanceID, text string, attachments []models.Attachment) (TurnResult, error) {
	inst, err := s.workspace.GetInstance(instanceID)
	if err != nil {
		return TurnResult{}, err
	}
	if !s.begin(instanceID) {
		return TurnResult{}, ErrInstanceBusy
	}
	defer s.end(instanceID)

	plan := s.plan(ctx, inst, text, attachments)
	if err := s.workspace.AppendMessages(ctx, instanceID, plan.userMsg); err != nil {
		return TurnResult{}, err
	}

	started := time.Now()
	var res llm.Result
	if plan.search {
		recordProviderCall(string(plan.provider), llm.OpGenerateContentWithSearch)
		res = s.dispatcher.GenerateContentWithSearch(ctx, plan.provider, plan.credential, plan.request)
	} else {
		recordProviderCall(string(plan.provider), llm.OpGenerateContent)
		res = s.dispatcher.GenerateContent(ctx, plan.provider, plan.credential, plan.request)
	}
	recordChatTurn(string(plan.provider), res.OK(), time.Since(started).Seconds())

	return s.settle(ctx, plan, res)
}

// settle turns a dispatch result into the appended agent message.
func (s *ChatService) settle(ctx context.Context, plan turnPlan, res llm.Result) (TurnResult, error) {
	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    models.SenderAgent,
		Timestamp: time.Now(),
	}
	var warning string
	if res.OK() {
		msg.Text, warning = applyFormatting(plan.format, res.Text)
		msg.Thinking = res.Thinking
		msg.Citations = toCitations(res.Citations)
		if res.Image != nil {
			msg.Image = res.Image.Data
			msg.ImageMIME = res.Image.MIME
		}
		if warning != "" {
			log.Printf("⚠️ [CHAT] Formatting warning for instance %s: %s", plan.instance.ID, warning)
		}
	} else {
		msg.Text = res.Err
		msg.IsError = true
		recordChatError("provider")
		log.Printf("⚠️ [CHAT] Turn failed for instance %s via %s", plan.instance.ID, plan.provider)
	}

	if err := s.workspace.AppendMessages(ctx, plan.instance.ID, msg); err != nil {
		return TurnResult{}, err
	}
	logging.WithChat(plan.instance.ID, string(plan.provider), s.workspace.UserID()).
		Debug("turn settled", "ok", !msg.IsError, "chars", len(msg.Text))
	return TurnResult{Message: msg, Warning: warning}, nil
}

// SendStream runs one turn and fans the response out to conn as chunk
// frames followed by a complete frame (or a single error frame). Every
// outcome, including pre-flight failures, reaches the client as a frame.
func (s *ChatService) SendStream(ctx context.Context, conn *models.UserConnection, instanceID, text string, attachments []models.Attachment) {
	messageID := uuid.New().String()

	inst, err := s.workspace.GetInstance(instanceID)
	if err != nil {
		s.sendError(conn, instanceID, messageID, models.ErrCodeNotFound, err.Error())
		return
	}
	if !s.begin(instanceID) {
		s.sendError(conn, instanceID, messageID, models.ErrCodeBusy, ErrInstanceBusy.Error())
		return
	}
	defer s.end(instanceID)

	plan := s.plan(ctx, inst, text, attachments)
	if err := s.workspace.AppendMessages(ctx, instanceID, plan.userMsg); err != nil {
		s.sendError(conn, instanceID, messageID, models.ErrCodeNotFound, err.Error())
		return
	}

	started := time.Now()
	if !plan.stream {
		// Search-grounded and non-streaming providers settle in one shot;
		// the client still sees the chunk/complete frame sequence.
		var res llm.Result
		if plan.search {
			recordProviderCall(string(plan.provider), llm.OpGenerateContentWithSearch)
			res = s.dispatcher.GenerateContentWithSearch(ctx, plan.provider, plan.credential, plan.request)
		} else {
			recordProviderCall(string(plan.provider), llm.OpGenerateContent)
			res = s.dispatcher.GenerateContent(ctx, plan.provider, plan.credential, plan.request)
		}
		recordChatTurn(string(plan.provider), res.OK(), time.Since(started).Seconds())

		if res.OK() && res.Text != "" {
			conn.SafeSend(models.ServerMessage{
				Type:       "chunk",
				InstanceID: instanceID,
				MessageID:  messageID,
				Content:    res.Text,
				Thinking:   res.Thinking,
				Citations:  toCitations(res.Citations),
			})
		}
		s.finishStream(ctx, conn, plan, messageID, res)
		return
	}

	recordProviderCall(string(plan.provider), llm.OpGenerateContentStream)
	chunks := s.dispatcher.GenerateContentStream(ctx, plan.provider, plan.credential, plan.request)

	var textParts, thinkingParts strings.Builder
	var citations []models.Citation
	var streamErr string
	clientGone := false
	for chunk := range chunks {
		if chunk.Err != "" {
			streamErr = chunk.Err
			break
		}
		textParts.WriteString(chunk.Text)
		thinkingParts.WriteString(chunk.Thinking)
		citations = append(citations, toCitations(chunk.Citations)...)
		if clientGone {
			continue
		}
		if !conn.SafeSend(models.ServerMessage{
			Type:       "chunk",
			InstanceID: instanceID,
			MessageID:  messageID,
			Content:    chunk.Text,
			Thinking:   chunk.Thinking,
			Citations:  toCitations(chunk.Citations),
		}) {
			// Client went away. Keep draining so the vendor stream can
			// finish and the partial turn still settles into the log.
			clientGone = true
			log.Printf("⚠️ [CHAT] Connection %s closed mid-stream for instance %s", conn.ConnID, instanceID)
		}
	}

	res := llm.Result{
		Text:      textParts.String(),
		Thinking:  thinkingParts.String(),
		Citations: fromCitations(citations),
		Err:       streamErr,
	}
	if streamErr != "" && ctx.Err() != nil && res.Text != "" {
		// Stopped by the user with partial text on hand: settle what we
		// have instead of discarding it as a failure.
		res.Err = ""
	}
	recordChatTurn(string(plan.provider), res.Err == "", time.Since(started).Seconds())
	s.finishStream(ctx, conn, plan, messageID, res)
}

// finishStream settles the turn into the log and emits the terminal frame.
func (s *ChatService) finishStream(ctx context.Context, conn *models.UserConnection, plan turnPlan, messageID string, res llm.Result) {
	if !res.OK() && res.Text == "" && ctx.Err() != nil {
		// Stopped before any content arrived. Nothing to settle.
		s.sendError(conn, plan.instance.ID, messageID, models.ErrCodeCancelled, "generation stopped")
		return
	}

	// Settling must survive the turn context being cancelled by a stop.
	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	outcome, err := s.settle(settleCtx, plan, res)
	if err != nil {
		s.sendError(conn, plan.instance.ID, messageID, models.ErrCodeNotFound, err.Error())
		return
	}
	if outcome.Message.IsError {
		s.sendError(conn, plan.instance.ID, messageID, models.ErrCodeProvider, outcome.Message.Text)
		return
	}
	msg := outcome.Message
	conn.SafeSend(models.ServerMessage{
		Type:       "complete",
		InstanceID: plan.instance.ID,
		MessageID:  messageID,
		Warning:    outcome.Warning,
		Message:    &msg,
	})
}

func (s *ChatService) sendError(conn *models.UserConnection, instanceID, messageID, code, message string) {
	recordChatError(code)
	conn.SafeSend(models.ServerMessage{
		Type:         "error",
		InstanceID:   instanceID,
		MessageID:    messageID,
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

// plan assembles the vendor request for one turn: system prompt plus
// format directive, summarized history, tool declarations, and the new
// user message with its attachments folded in.
func (s *ChatService) plan(ctx context.Context, inst models.Instance, text string, attachments []models.Attachment) turnPlan {
	provider := inst.Config.Provider
	if !capability.ValidProvider(provider) {
		provider = capability.DefaultProvider
	}
	model := inst.Config.Model
	if model == "" {
		model = s.config.DefaultModel(provider)
	}

	system := strings.TrimSpace(inst.Config.SystemPrompt)
	if directive := formatDirective(inst.Config.Format); directive != "" {
		system = strings.TrimSpace(system + "\n\n" + directive)
	}

	userMsg, images := s.ingestAttachments(provider, text, attachments)

	history := s.effectiveHistory(ctx, inst)
	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if m.IsError || (m.Text == "" && m.Image == "") {
			continue
		}
		messages = append(messages, toWireMessage(m))
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Text: userMsg.Text, Images: images})

	plan := turnPlan{
		instance:   inst,
		provider:   provider,
		credential: s.providers.Credential(provider),
		userMsg:    userMsg,
		format:     inst.Config.Format,
		request: llm.Request{
			Model:    model,
			System:   system,
			Messages: messages,
		},
	}

	if len(inst.Config.Tools) > 0 && s.capabilityActive(inst, provider, capability.FunctionCalling) {
		plan.request.Tools = toToolDecls(inst.Config.Tools)
	}
	if inst.Config.Format.Enabled && inst.Config.Format.Target == models.FormatJSON &&
		s.providers.CapabilityEnabled(provider, capability.StructuredOutput) {
		plan.request.JSONMode = true
	}
	plan.search = s.capabilityActive(inst, provider, capability.WebSearch) &&
		s.dispatcher.Supports(provider, llm.OpGenerateContentWithSearch)
	plan.stream = !plan.search &&
		s.providers.CapabilityEnabled(provider, capability.Streaming) &&
		s.dispatcher.Supports(provider, llm.OpGenerateContentStream)
	return plan
}

// capabilityActive reports whether the instance requests a capability and
// the provider currently permits it.
func (s *ChatService) capabilityActive(inst models.Instance, provider capability.ProviderID, c capability.Capability) bool {
	requested := false
	for _, have := range inst.Config.Capabilities {
		if have == c {
			requested = true
			break
		}
	}
	return requested && s.providers.CapabilityEnabled(provider, c)
}

// ingestAttachments builds the stored user message and the outbound image
// parts. Images ride along when the provider permits vision; document
// uploads are extracted to text server-side and folded into the message.
func (s *ChatService) ingestAttachments(provider capability.ProviderID, text string, attachments []models.Attachment) (models.ChatMessage, []llm.ImagePart) {
	userMsg := models.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    models.SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	}

	var images []llm.ImagePart
	var docs strings.Builder
	dropped := 0
	for _, att := range attachments {
		switch {
		case strings.HasPrefix(att.MIME, "image/"):
			if !s.providers.CapabilityEnabled(provider, capability.Vision) {
				dropped++
				continue
			}
			images = append(images, llm.ImagePart{MIME: att.MIME, Data: att.Data})
			if userMsg.Image == "" {
				userMsg.Image = att.Data
				userMsg.ImageMIME = att.MIME
			}
		case utils.SupportedDocument(att.MIME):
			raw, err := base64.StdEncoding.DecodeString(att.Data)
			if err != nil {
				log.Printf("⚠️ [CHAT] Skipping attachment %q: not valid base64", att.Name)
				continue
			}
			meta, err := utils.ExtractDocumentText(att.MIME, raw)
			if err != nil {
				log.Printf("⚠️ [CHAT] Skipping attachment %q: %v", att.Name, err)
				continue
			}
			name := att.Name
			if name == "" {
				name = "document"
			}
			fmt.Fprintf(&docs, "--- %s (%d pages) ---\n%s\n", name, meta.PageCount, meta.Text)
		default:
			log.Printf("⚠️ [CHAT] Skipping attachment %q: unsupported type %s", att.Name, att.MIME)
		}
	}
	if dropped > 0 {
		log.Printf("⚠️ [CHAT] Dropped %d image attachment(s): vision is not enabled for %s", dropped, provider)
	}

	if docText := strings.TrimSpace(docs.String()); docText != "" {
		// Extracted document text becomes part of the stored message so
		// later turns keep seeing it through the normal history path.
		userMsg.Text = strings.TrimSpace(userMsg.Text + "\n\n" + docText)
	}
	return userMsg, images
}

// effectiveHistory returns the conversation as it should be sent to the
// provider. With summarization enabled and the pending history over the
// limit, the oldest portion is folded into a single synthesized summary
// message and the stored log is left untouched.
func (s *ChatService) effectiveHistory(ctx context.Context, inst models.Instance) []models.ChatMessage {
	logs := inst.Config.Logs
	cfg := inst.Config.Summarize
	if !cfg.Enabled || cfg.Limit <= 0 || !validUnit(cfg.Unit) {
		return logs
	}

	var state summaryState
	if cached, ok := s.summaryCache.Get(inst.ID); ok {
		if st, ok := cached.(summaryState); ok && st.Covered <= len(logs) {
			state = st
		}
	}

	pending := logs[state.Covered:]
	if MeasureHistory(pending, cfg.Unit) <= cfg.Limit {
		return withSummary(state, pending)
	}

	tail := retainTail(pending, cfg.Unit, cfg.Limit)
	oldest := pending[:len(pending)-len(tail)]
	if len(oldest) == 0 {
		return withSummary(state, pending)
	}

	summary, err := s.synthesize(ctx, inst, state.Text, oldest)
	recordHistorySynthesis(err == nil)
	if err != nil {
		// Non-fatal: the turn proceeds with the untruncated history.
		log.Printf("⚠️ [CHAT] History synthesis failed for instance %s: %v", inst.ID, err)
		if err := s.workspace.AppendInstanceError(ctx, inst.ID, fmt.Sprintf("history summarization failed: %v", err)); err != nil {
			log.Printf("⚠️ [CHAT] Could not record synthesis failure for instance %s: %v", inst.ID, err)
		}
		return withSummary(state, pending)
	}

	state = summaryState{
		Text:      summary,
		Covered:   state.Covered + len(oldest),
		CreatedAt: time.Now(),
	}
	s.summaryCache.Set(inst.ID, state, cache.DefaultExpiration)
	log.Printf("✅ [CHAT] Folded %d message(s) into summary for instance %s", len(oldest), inst.ID)
	return withSummary(state, tail)
}

// withSummary prepends the summary message when one exists.
func withSummary(state summaryState, tail []models.ChatMessage) []models.ChatMessage {
	if state.Text == "" {
		return tail
	}
	head := models.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    models.SenderUser,
		Text:      "Summary of the earlier conversation:\n" + state.Text,
		Summary:   true,
		Timestamp: state.CreatedAt,
	}
	return append([]models.ChatMessage{head}, tail...)
}

// retainTail returns the largest suffix of pending that fits the limit,
// always keeping at least the most recent message.
func retainTail(pending []models.ChatMessage, unit string, limit int) []models.ChatMessage {
	if len(pending) == 0 {
		return pending
	}
	start := len(pending) - 1
	for start > 0 {
		candidate := pending[start-1:]
		if MeasureHistory(candidate, unit) > limit {
			break
		}
		start--
	}
	return pending[start:]
}

// synthesize condenses prior summary text plus the oldest messages into a
// fresh summary via the configured synthesis provider.
func (s *ChatService) synthesize(ctx context.Context, inst models.Instance, priorSummary string, oldest []models.ChatMessage) (string, error) {
	provider := inst.Config.Summarize.Provider
	if !capability.ValidProvider(provider) {
		provider = inst.Config.Provider
		if !capability.ValidProvider(provider) {
			provider = capability.DefaultProvider
		}
	}
	model := inst.Config.Summarize.Model
	if model == "" {
		model = s.config.DefaultModel(provider)
	}

	var transcript strings.Builder
	if priorSummary != "" {
		transcript.WriteString("Previous summary:\n")
		transcript.WriteString(priorSummary)
		transcript.WriteString("\n\n")
	}
	for _, m := range oldest {
		if m.IsError {
			continue
		}
		speaker := "User"
		if m.Sender == models.SenderAgent {
			speaker = "Agent"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", speaker, m.Text)
	}

	req := llm.Request{
		Model:  model,
		System: "Condense the conversation below into a short summary that preserves facts, decisions, names, and open tasks. Respond with the summary text only.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Text: transcript.String()},
		},
	}
	recordProviderCall(string(provider), llm.OpGenerateContent)
	res := s.dispatcher.GenerateContent(ctx, provider, s.providers.Credential(provider), req)
	if !res.OK() {
		return "", fmt.Errorf("%s", res.Err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", fmt.Errorf("synthesis returned an empty summary")
	}
	return strings.TrimSpace(res.Text), nil
}

func validUnit(unit string) bool {
	switch unit {
	case models.UnitCharacters, models.UnitWords, models.UnitTokens, models.UnitSentences, models.UnitMessages:
		return true
	}
	return false
}

func toWireMessage(m models.ChatMessage) llm.Message {
	role := llm.RoleUser
	if m.Sender == models.SenderAgent {
		role = llm.RoleAssistant
	}
	out := llm.Message{Role: role, Text: m.Text}
	if m.Image != "" {
		out.Images = []llm.ImagePart{{MIME: m.ImageMIME, Data: m.Image}}
	}
	return out
}

func toToolDecls(tools []models.Tool) []llm.ToolDecl {
	decls := make([]llm.ToolDecl, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, llm.ToolDecl{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return decls
}

func toCitations(in []llm.Citation) []models.Citation {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Citation, len(in))
	for i, c := range in {
		out[i] = models.Citation{Kind: c.Kind, Title: c.Title, URL: c.URL}
	}
	return out
}

func fromCitations(in []models.Citation) []llm.Citation {
	if len(in) == 0 {
		return nil
	}
	out := make([]llm.Citation, len(in))
	for i, c := range in {
		out[i] = llm.Citation{Kind: c.Kind, Title: c.Title, URL: c.URL}
	}
	return out
}
