package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"agentdeck/internal/capability"
)

const anthropicVersion = "2023-06-01"

// The messages API requires an explicit output budget.
const anthropicMaxTokens = 4096

// AnthropicClient speaks the Anthropic messages API.
type AnthropicClient struct {
	baseURL    string
	http       *http.Client
	streamHTTP *http.Client
}

func NewAnthropicClient(baseURL string) *AnthropicClient {
	return &AnthropicClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		http:       newHTTPClient(),
		streamHTTP: newStreamHTTPClient(),
	}
}

func (c *AnthropicClient) Name() capability.ProviderID {
	return capability.ProviderAnthropic
}

func (c *AnthropicClient) headers(credential string) (map[string]string, error) {
	if credential == "" {
		return nil, errors.New("no API key configured")
	}
	return map[string]string{
		"x-api-key":         credential,
		"anthropic-version": anthropicVersion,
	}, nil
}

func (c *AnthropicClient) buildPayload(req Request, stream bool) map[string]interface{} {
	messages := make([]map[string]interface{}, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anthropicMessage(m))
	}

	payload := map[string]interface{}{
		"model":      req.Model,
		"max_tokens": anthropicMaxTokens,
		"messages":   messages,
		"stream":     stream,
	}
	if req.System != "" {
		payload["system"] = req.System
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		payload["tools"] = tools
	}
	return payload
}

func anthropicMessage(m Message) map[string]interface{} {
	if len(m.Images) == 0 {
		return map[string]interface{}{"role": m.Role, "content": m.Text}
	}
	content := []map[string]interface{}{}
	for _, img := range m.Images {
		content = append(content, map[string]interface{}{
			"type": "image",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": img.MIME,
				"data":       img.Data,
			},
		})
	}
	if m.Text != "" {
		content = append(content, map[string]interface{}{"type": "text", "text": m.Text})
	}
	return map[string]interface{}{"role": m.Role, "content": content}
}

func (c *AnthropicClient) GenerateContent(ctx context.Context, credential string, req Request) (Result, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return Result{}, err
	}

	body, err := postJSON(ctx, c.http, c.baseURL+"/v1/messages", headers, c.buildPayload(req, false))
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			Thinking string `json:"thinking"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}

	var result Result
	var text, thinking strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	result.Text = text.String()
	result.Thinking = thinking.String()
	return result, nil
}

func (c *AnthropicClient) GenerateContentStream(ctx context.Context, credential string, req Request) (<-chan StreamChunk, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(c.buildPayload(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, streamTimeout)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/v1/messages", strings.NewReader(string(payload)))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer cancel()

		resp, err := c.streamHTTP.Do(httpReq)
		if err != nil {
			if streamCtx.Err() == nil || errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
				ch <- StreamChunk{Err: fmt.Sprintf("request failed: %v", err)}
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			buf := make([]byte, 4096)
			n, _ := resp.Body.Read(buf)
			ch <- StreamChunk{Err: vendorError(resp.StatusCode, buf[:n]).Error()}
			return
		}

		scanErr := scanSSE(resp.Body, func(data string) bool {
			var event struct {
				Type  string `json:"type"`
				Delta struct {
					Type     string `json:"type"`
					Text     string `json:"text"`
					Thinking string `json:"thinking"`
				} `json:"delta"`
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return true
			}
			switch event.Type {
			case "content_block_delta":
				chunk := StreamChunk{}
				switch event.Delta.Type {
				case "text_delta":
					chunk.Text = event.Delta.Text
				case "thinking_delta":
					chunk.Thinking = event.Delta.Thinking
				default:
					return true
				}
				select {
				case ch <- chunk:
					return true
				case <-streamCtx.Done():
					return false
				}
			case "error":
				ch <- StreamChunk{Err: event.Error.Message}
				return false
			case "message_stop":
				return false
			}
			return true
		})
		if scanErr != nil && streamCtx.Err() == nil {
			ch <- StreamChunk{Err: fmt.Sprintf("stream read failed: %v", scanErr)}
		}
	}()

	return ch, nil
}

func (c *AnthropicClient) ListModels(ctx context.Context, credential string) ([]ModelInfo, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return nil, err
	}

	body, err := getJSON(ctx, c.http, c.baseURL+"/v1/models", headers)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, ModelInfo{ID: m.ID, DisplayName: m.DisplayName})
	}
	return models, nil
}
