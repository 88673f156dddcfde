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

// OpenAICompatClient speaks the OpenAI chat-completions dialect shared by
// openai, mistral, groq, deepseek, xai, openrouter, and ollama. Vendor
// differences live in the base URL and, for local providers, in credential
// handling: a local credential is the endpoint URL itself.
type OpenAICompatClient struct {
	provider   capability.ProviderID
	baseURL    string
	local      bool
	http       *http.Client
	streamHTTP *http.Client
}

// NewOpenAICompatClient builds a client for one provider. baseURL includes
// the version prefix (e.g. "https://api.openai.com/v1").
func NewOpenAICompatClient(provider capability.ProviderID, baseURL string, local bool) *OpenAICompatClient {
	return &OpenAICompatClient{
		provider:   provider,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		local:      local,
		http:       newHTTPClient(),
		streamHTTP: newStreamHTTPClient(),
	}
}

func (c *OpenAICompatClient) Name() capability.ProviderID {
	return c.provider
}

// resolve returns the effective base URL and auth headers for a call. For
// local providers the credential is an endpoint URL and no key is sent.
func (c *OpenAICompatClient) resolve(credential string) (string, map[string]string, error) {
	if c.local {
		base := c.baseURL
		if credential != "" {
			base = strings.TrimSuffix(credential, "/")
			if !strings.HasSuffix(base, "/v1") {
				base += "/v1"
			}
		}
		if base == "" {
			return "", nil, errors.New("no endpoint configured")
		}
		return base, map[string]string{}, nil
	}
	if credential == "" {
		return "", nil, errors.New("no API key configured")
	}
	return c.baseURL, map[string]string{"Authorization": "Bearer " + credential}, nil
}

// buildPayload translates a Request into the chat-completions wire shape.
func (c *OpenAICompatClient) buildPayload(req Request, stream bool) map[string]interface{} {
	messages := make([]map[string]interface{}, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]interface{}{
			"role":    "system",
			"content": req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, compatMessage(m))
	}

	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
		"stream":   stream,
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		payload["tools"] = tools
	}
	if req.JSONMode {
		payload["response_format"] = map[string]interface{}{"type": "json_object"}
	}
	return payload
}

func compatMessage(m Message) map[string]interface{} {
	if len(m.Images) == 0 {
		return map[string]interface{}{"role": m.Role, "content": m.Text}
	}
	parts := []map[string]interface{}{}
	if m.Text != "" {
		parts = append(parts, map[string]interface{}{"type": "text", "text": m.Text})
	}
	for _, img := range m.Images {
		parts = append(parts, map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": fmt.Sprintf("data:%s;base64,%s", img.MIME, img.Data),
			},
		})
	}
	return map[string]interface{}{"role": m.Role, "content": parts}
}

func (c *OpenAICompatClient) GenerateContent(ctx context.Context, credential string, req Request) (Result, error) {
	base, headers, err := c.resolve(credential)
	if err != nil {
		return Result{}, err
	}

	body, err := postJSON(ctx, c.http, base+"/chat/completions", headers, c.buildPayload(req, false))
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, nil
	}
	return Result{
		Text:     parsed.Choices[0].Message.Content,
		Thinking: parsed.Choices[0].Message.ReasoningContent,
	}, nil
}

func (c *OpenAICompatClient) GenerateContentStream(ctx context.Context, credential string, req Request) (<-chan StreamChunk, error) {
	base, headers, err := c.resolve(credential)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(c.buildPayload(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, streamTimeout)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, base+"/chat/completions", strings.NewReader(string(payload)))
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
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content          string `json:"content"`
						ReasoningContent string `json:"reasoning_content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return true // tolerate malformed keepalive frames
			}
			if len(chunk.Choices) == 0 {
				return true
			}
			delta := chunk.Choices[0].Delta
			if delta.Content == "" && delta.ReasoningContent == "" {
				return true
			}
			select {
			case ch <- StreamChunk{Text: delta.Content, Thinking: delta.ReasoningContent}:
				return true
			case <-streamCtx.Done():
				return false
			}
		})
		if scanErr != nil && streamCtx.Err() == nil {
			ch <- StreamChunk{Err: fmt.Sprintf("stream read failed: %v", scanErr)}
		}
	}()

	return ch, nil
}

func (c *OpenAICompatClient) ListModels(ctx context.Context, credential string) ([]ModelInfo, error) {
	base, headers, err := c.resolve(credential)
	if err != nil {
		return nil, err
	}

	body, err := getJSON(ctx, c.http, base+"/models", headers)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, ModelInfo{ID: m.ID})
	}
	return models, nil
}
