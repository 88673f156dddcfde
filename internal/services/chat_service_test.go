package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/llm"
	"agentdeck/internal/models"
)

// scriptedReply is one canned vendor answer.
type scriptedReply struct {
	res llm.Result
	err error
}

// scriptedClient stands in for a vendor client. Calls consume the script in
// order; an exhausted script answers with a plain ok result.
type scriptedClient struct {
	provider capability.ProviderID
	gate     chan struct{} // when set, GenerateContent blocks until closed

	mu     sync.Mutex
	script []scriptedReply
	reqs   []llm.Request
}

func (c *scriptedClient) Name() capability.ProviderID { return c.provider }

func (c *scriptedClient) GenerateContent(ctx context.Context, credential string, req llm.Request) (llm.Result, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return llm.Result{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if len(c.script) == 0 {
		return llm.Result{Text: "ok"}, nil
	}
	reply := c.script[0]
	c.script = c.script[1:]
	return reply.res, reply.err
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func (c *scriptedClient) request(i int) llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[i]
}

// newChatFixture builds a stack with a scripted gemini client and one placed
// instance using the given config.
func newChatFixture(t *testing.T, cfg models.AgentConfig) (*testStack, *scriptedClient, models.Instance) {
	t.Helper()
	st := newTestStack(t)
	client := &scriptedClient{provider: capability.ProviderGemini}
	st.dispatcher.Register(client)

	if cfg.Provider == "" {
		cfg.Provider = capability.ProviderGemini
	}
	agent, err := st.agents.CreateAgent(context.Background(), "Scripted", "", cfg)
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	inst, _, err := st.agents.CreateInstance(context.Background(), agent.ID, models.Position{}, "")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	return st, client, inst
}

func TestSendAppendsUserThenAgentMessage(t *testing.T) {
	st, client, inst := newChatFixture(t, models.AgentConfig{SystemPrompt: "be helpful"})
	client.script = []scriptedReply{{res: llm.Result{Text: "hi there"}}}

	out, err := st.chat.Send(context.Background(), inst.ID, "hello", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.Message.Sender != models.SenderAgent || out.Message.Text != "hi there" {
		t.Errorf("settled message = %+v, want agent / hi there", out.Message)
	}
	if out.Message.IsError {
		t.Error("successful turn flagged as error")
	}

	got, _ := st.workspace.GetInstance(inst.ID)
	if len(got.Config.Logs) != 2 {
		t.Fatalf("log has %d messages, want 2", len(got.Config.Logs))
	}
	if got.Config.Logs[0].Sender != models.SenderUser || got.Config.Logs[0].Text != "hello" {
		t.Errorf("first log entry = %+v, want the user message", got.Config.Logs[0])
	}
	if got.Config.Logs[1].Sender != models.SenderAgent || got.Config.Logs[1].Text != "hi there" {
		t.Errorf("second log entry = %+v, want the agent message", got.Config.Logs[1])
	}

	req := client.request(0)
	if !strings.Contains(req.System, "be helpful") {
		t.Errorf("request system = %q, want it to carry the system prompt", req.System)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != llm.RoleUser || last.Text != "hello" {
		t.Errorf("last wire message = %+v, want the new user turn", last)
	}
}

func TestSendUnknownInstance(t *testing.T) {
	st, _, _ := newChatFixture(t, models.AgentConfig{})

	if _, err := st.chat.Send(context.Background(), "missing", "hello", nil); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("Send(missing) error = %v, want ErrInstanceNotFound", err)
	}
}

func TestSendRejectsConcurrentTurns(t *testing.T) {
	st, client, inst := newChatFixture(t, models.AgentConfig{})
	gate := make(chan struct{})
	client.gate = gate

	done := make(chan error, 1)
	go func() {
		_, err := st.chat.Send(context.Background(), inst.ID, "first", nil)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for !st.chat.Busy(inst.ID) {
		select {
		case <-deadline:
			t.Fatal("first turn never entered flight")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := st.chat.Send(context.Background(), inst.ID, "second", nil); !errors.Is(err, ErrInstanceBusy) {
		t.Errorf("concurrent Send error = %v, want ErrInstanceBusy", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if st.chat.Busy(inst.ID) {
		t.Error("instance still busy after the turn settled")
	}

	// Only the first turn reached the log; the rejected one appended nothing.
	got, _ := st.workspace.GetInstance(inst.ID)
	if len(got.Config.Logs) != 2 {
		t.Errorf("log has %d messages, want 2", len(got.Config.Logs))
	}
}

func TestVendorFailureSettlesIntoLog(t *testing.T) {
	st, client, inst := newChatFixture(t, models.AgentConfig{})
	client.script = []scriptedReply{{err: errors.New("API returned status 429: rate limited")}}

	out, err := st.chat.Send(context.Background(), inst.ID, "hello", nil)
	if err != nil {
		t.Fatalf("vendor failure surfaced as a Go error: %v", err)
	}
	if !out.Message.IsError {
		t.Fatal("vendor failure not flagged on the settled message")
	}
	if !strings.Contains(out.Message.Text, "429") {
		t.Errorf("settled error message %q lost the vendor detail", out.Message.Text)
	}

	got, _ := st.workspace.GetInstance(inst.ID)
	if len(got.Config.Logs) != 2 || !got.Config.Logs[1].IsError {
		t.Error("failed turn did not settle into the log as an error message")
	}
}

func TestFormattingAppliedToSettledResponse(t *testing.T) {
	st, client, inst := newChatFixture(t, models.AgentConfig{
		Format: models.FormatConfig{Enabled: true, Target: models.FormatJSON},
	})
	client.script = []scriptedReply{
		{res: llm.Result{Text: "```json\n{\"ok\":true}\n```"}},
		{res: llm.Result{Text: "this is not json"}},
	}

	out, err := st.chat.Send(context.Background(), inst.ID, "give me json", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.Warning != "" {
		t.Errorf("unexpected warning %q", out.Warning)
	}
	want := "{\n  \"ok\": true\n}"
	if out.Message.Text != want {
		t.Errorf("formatted text = %q, want %q", out.Message.Text, want)
	}
	if !strings.Contains(client.request(0).System, "JSON") {
		t.Error("format directive missing from the system prompt")
	}

	// Output that does not parse passes through with a warning, never fails
	// the turn.
	out, err = st.chat.Send(context.Background(), inst.ID, "again", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.Message.Text != "this is not json" {
		t.Errorf("unparseable output was altered: %q", out.Message.Text)
	}
	if out.Warning != "response is not valid JSON" {
		t.Errorf("warning = %q, want the JSON warning", out.Warning)
	}
	if out.Message.IsError {
		t.Error("formatting warning flagged the message as an error")
	}
}

func preloadConversation(t *testing.T, st *testStack, instanceID string) {
	t.Helper()
	msgs := []models.ChatMessage{
		{ID: "m1", Sender: models.SenderUser, Text: "m1"},
		{ID: "m2", Sender: models.SenderAgent, Text: "m2"},
		{ID: "m3", Sender: models.SenderUser, Text: "m3"},
		{ID: "m4", Sender: models.SenderAgent, Text: "m4"},
		{ID: "m5", Sender: models.SenderUser, Text: "m5"},
	}
	if err := st.workspace.AppendMessages(context.Background(), instanceID, msgs...); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}
}

func TestSummarizationFoldsOldestHistory(t *testing.T) {
	st, client, inst := newChatFixture(t, models.AgentConfig{
		Summarize: models.SummarizeConfig{Enabled: true, Unit: models.UnitMessages, Limit: 2},
	})
	preloadConversation(t, st, inst.ID)
	client.script = []scriptedReply{
		{res: llm.Result{Text: "SUMMARY OF EARLIER TALK"}},
		{res: llm.Result{Text: "final answer"}},
	}

	out, err := st.chat.Send(context.Background(), inst.ID, "question", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.Message.Text != "final answer" {
		t.Errorf("settled text = %q, want final answer", out.Message.Text)
	}
	if client.calls() != 2 {
		t.Fatalf("client saw %d calls, want synthesis + turn", client.calls())
	}

	synthesis := client.request(0)
	if !strings.Contains(synthesis.System, "Condense") {
		t.Errorf("first call system = %q, want the synthesis instruction", synthesis.System)
	}
	transcript := synthesis.Messages[0].Text
	for _, want := range []string{"User: m1", "Agent: m2", "User: m3"} {
		if !strings.Contains(transcript, want) {
			t.Errorf("synthesis transcript lacks %q", want)
		}
	}
	if strings.Contains(transcript, "m4") {
		t.Error("synthesis transcript includes the retained tail")
	}

	turn := client.request(1)
	if len(turn.Messages) != 4 {
		t.Fatalf("turn carried %d messages, want summary + 2 tail + user", len(turn.Messages))
	}
	if !strings.HasPrefix(turn.Messages[0].Text, "Summary of the earlier conversation:") ||
		!strings.Contains(turn.Messages[0].Text, "SUMMARY OF EARLIER TALK") {
		t.Errorf("turn message 0 = %q, want the synthesized summary", turn.Messages[0].Text)
	}
	if turn.Messages[1].Text != "m4" || turn.Messages[2].Text != "m5" {
		t.Error("turn lost the retained tail")
	}
	if turn.Messages[3].Text != "question" || turn.Messages[3].Role != llm.RoleUser {
		t.Errorf("turn message 3 = %+v, want the new user turn", turn.Messages[3])
	}

	// The stored log is never truncated by summarization.
	got, _ := st.workspace.GetInstance(inst.ID)
	if len(got.Config.Logs) != 7 {
		t.Fatalf("stored log has %d messages, want all 5 plus the new turn", len(got.Config.Logs))
	}
	if got.Config.Logs[0].Text != "m1" {
		t.Error("stored log lost its oldest message")
	}
	for _, m := range got.Config.Logs {
		if m.Summary {
			t.Error("synthesized summary leaked into the stored log")
		}
	}
}

func TestSynthesisFailureFallsBackToFullHistory(t *testing.T) {
	st, client, inst := newChatFixture(t, models.AgentConfig{
		Summarize: models.SummarizeConfig{Enabled: true, Unit: models.UnitMessages, Limit: 2},
	})
	preloadConversation(t, st, inst.ID)
	client.script = []scriptedReply{
		{err: errors.New("summary vendor down")},
		{res: llm.Result{Text: "still answered"}},
	}

	out, err := st.chat.Send(context.Background(), inst.ID, "question", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.Message.Text != "still answered" {
		t.Errorf("settled text = %q, want still answered", out.Message.Text)
	}

	// The turn proceeded with the untruncated history.
	turn := client.request(1)
	if len(turn.Messages) != 6 {
		t.Errorf("fallback turn carried %d messages, want all 5 plus the user turn", len(turn.Messages))
	}

	// The failure is recorded on the instance.
	got, _ := st.workspace.GetInstance(inst.ID)
	if len(got.Config.Errors) != 1 || !strings.Contains(got.Config.Errors[0].Message, "history summarization failed") {
		t.Errorf("instance errors = %+v, want one synthesis failure entry", got.Config.Errors)
	}
}

func TestErrorMessagesStayOutOfOutboundHistory(t *testing.T) {
	st, client, inst := newChatFixture(t, models.AgentConfig{})
	if err := st.workspace.AppendMessages(context.Background(), inst.ID,
		models.ChatMessage{ID: "m1", Sender: models.SenderUser, Text: "real question"},
		models.ChatMessage{ID: "e1", Sender: models.SenderAgent, Text: "vendor exploded", IsError: true},
		models.ChatMessage{ID: "m2", Sender: models.SenderAgent, Text: ""},
	); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}

	if _, err := st.chat.Send(context.Background(), inst.ID, "next", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	req := client.request(0)
	if len(req.Messages) != 2 {
		t.Fatalf("outbound history carried %d messages, want 2", len(req.Messages))
	}
	if req.Messages[0].Text != "real question" || req.Messages[1].Text != "next" {
		t.Error("outbound history dropped the wrong messages")
	}
}

func TestInvalidateInstanceDropsCachedSummary(t *testing.T) {
	st, client, inst := newChatFixture(t, models.AgentConfig{
		Summarize: models.SummarizeConfig{Enabled: true, Unit: models.UnitMessages, Limit: 2},
	})
	preloadConversation(t, st, inst.ID)
	client.script = []scriptedReply{{res: llm.Result{Text: "CACHED SUMMARY"}}}

	if _, err := st.chat.Send(context.Background(), inst.ID, "question", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	callsAfterFirst := client.calls()

	st.chat.InvalidateAll()

	// With the cache flushed the next turn must synthesize again from
	// scratch rather than reuse the per-instance state.
	if _, err := st.chat.Send(context.Background(), inst.ID, "another", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if client.calls() != callsAfterFirst+2 {
		t.Errorf("calls after invalidation = %d, want a fresh synthesis plus the turn", client.calls())
	}

	synthesis := client.request(callsAfterFirst)
	if !strings.Contains(synthesis.Messages[0].Text, "User: m1") {
		t.Error("post-invalidation synthesis did not start over from the oldest message")
	}
}
