package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicGenerateContent(t *testing.T) {
	var gotKey, gotVersion string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"content":[{"type":"thinking","thinking":"let me count"},{"type":"text","text":"There are 3 r's."}]}`)
	}))
	defer server.Close()

	c := NewAnthropicClient(server.URL)
	res, err := c.GenerateContent(context.Background(), "sk-ant-test", Request{
		Model:    "claude-sonnet-4",
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Text: "how many r's in strawberry?"}},
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if gotKey != "sk-ant-test" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotVersion != anthropicVersion {
		t.Errorf("anthropic-version = %q", gotVersion)
	}
	if res.Text != "There are 3 r's." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Thinking != "let me count" {
		t.Errorf("Thinking = %q", res.Thinking)
	}

	if gotBody["system"] != "be brief" {
		t.Errorf("system = %v", gotBody["system"])
	}
	if gotBody["max_tokens"] != float64(anthropicMaxTokens) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
}

func TestAnthropicImageMessage(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"a cat"}]}`)
	}))
	defer server.Close()

	c := NewAnthropicClient(server.URL)
	_, err := c.GenerateContent(context.Background(), "sk-ant-test", Request{
		Model: "claude-sonnet-4",
		Messages: []Message{{
			Role:   RoleUser,
			Text:   "what is this?",
			Images: []ImagePart{{MIME: "image/jpeg", Data: "Zm9v"}},
		}},
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	messages, _ := gotBody["messages"].([]interface{})
	if len(messages) != 1 {
		t.Fatalf("messages = %v", messages)
	}
	msg, _ := messages[0].(map[string]interface{})
	content, ok := msg["content"].([]interface{})
	if !ok {
		t.Fatalf("content should be a block list when images are attached, got %T", msg["content"])
	}
	if len(content) != 2 {
		t.Fatalf("got %d content blocks, want image + text", len(content))
	}
	imgBlock, _ := content[0].(map[string]interface{})
	if imgBlock["type"] != "image" {
		t.Errorf("block[0] type = %v", imgBlock["type"])
	}
	source, _ := imgBlock["source"].(map[string]interface{})
	if source["media_type"] != "image/jpeg" || source["data"] != "Zm9v" {
		t.Errorf("source = %v", source)
	}
}

func TestAnthropicStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, "data: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"thinking_delta\",\"thinking\":\"hmm\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	c := NewAnthropicClient(server.URL)
	ch, err := c.GenerateContentStream(context.Background(), "sk-ant-test", Request{Model: "claude-sonnet-4"})
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}

	var text, thinking strings.Builder
	for chunk := range ch {
		if chunk.Err != "" {
			t.Fatalf("unexpected error chunk: %s", chunk.Err)
		}
		text.WriteString(chunk.Text)
		thinking.WriteString(chunk.Thinking)
	}
	if text.String() != "Hi there" {
		t.Errorf("text = %q", text.String())
	}
	if thinking.String() != "hmm" {
		t.Errorf("thinking = %q", thinking.String())
	}
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"message\":\"overloaded\"}}\n\n")
	}))
	defer server.Close()

	c := NewAnthropicClient(server.URL)
	ch, err := c.GenerateContentStream(context.Background(), "sk-ant-test", Request{Model: "claude-sonnet-4"})
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}

	var chunks []StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want partial text then error", len(chunks))
	}
	if chunks[0].Text != "partial" {
		t.Errorf("chunk[0] = %+v", chunks[0])
	}
	if chunks[1].Err != "overloaded" {
		t.Errorf("chunk[1].Err = %q", chunks[1].Err)
	}
}

func TestAnthropicMissingKey(t *testing.T) {
	c := NewAnthropicClient("https://api.anthropic.com")
	if _, err := c.GenerateContent(context.Background(), "", Request{Model: "claude-sonnet-4"}); err == nil {
		t.Fatal("expected error with empty credential")
	}
	if _, err := c.ListModels(context.Background(), ""); err == nil {
		t.Fatal("expected error with empty credential")
	}
}

func TestAnthropicListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"claude-sonnet-4","display_name":"Claude Sonnet 4"},{"id":"claude-haiku-3-5","display_name":"Claude Haiku 3.5"}]}`)
	}))
	defer server.Close()

	c := NewAnthropicClient(server.URL)
	models, err := c.ListModels(context.Background(), "sk-ant-test")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models", len(models))
	}
	if models[0].ID != "claude-sonnet-4" || models[0].DisplayName != "Claude Sonnet 4" {
		t.Errorf("models[0] = %+v", models[0])
	}
}
