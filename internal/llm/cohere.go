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

// CohereClient speaks the Cohere v2 chat API.
type CohereClient struct {
	baseURL    string
	http       *http.Client
	streamHTTP *http.Client
}

func NewCohereClient(baseURL string) *CohereClient {
	return &CohereClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		http:       newHTTPClient(),
		streamHTTP: newStreamHTTPClient(),
	}
}

func (c *CohereClient) Name() capability.ProviderID {
	return capability.ProviderCohere
}

func (c *CohereClient) headers(credential string) (map[string]string, error) {
	if credential == "" {
		return nil, errors.New("no API key configured")
	}
	return map[string]string{"Authorization": "Bearer " + credential}, nil
}

func (c *CohereClient) buildPayload(req Request, stream bool) map[string]interface{} {
	messages := make([]map[string]interface{}, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]interface{}{
			"role":    "system",
			"content": req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]interface{}{
			"role":    m.Role,
			"content": m.Text,
		})
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

func (c *CohereClient) GenerateContent(ctx context.Context, credential string, req Request) (Result, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return Result{}, err
	}

	body, err := postJSON(ctx, c.http, c.baseURL+"/v2/chat", headers, c.buildPayload(req, false))
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return Result{Text: text.String()}, nil
}

func (c *CohereClient) GenerateContentStream(ctx context.Context, credential string, req Request) (<-chan StreamChunk, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(c.buildPayload(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, streamTimeout)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/v2/chat", strings.NewReader(string(payload)))
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
					Message struct {
						Content struct {
							Text string `json:"text"`
						} `json:"content"`
					} `json:"message"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return true
			}
			switch event.Type {
			case "content-delta":
				if event.Delta.Message.Content.Text == "" {
					return true
				}
				select {
				case ch <- StreamChunk{Text: event.Delta.Message.Content.Text}:
					return true
				case <-streamCtx.Done():
					return false
				}
			case "message-end":
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

func (c *CohereClient) ListModels(ctx context.Context, credential string) ([]ModelInfo, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return nil, err
	}

	body, err := getJSON(ctx, c.http, c.baseURL+"/v1/models", headers)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]ModelInfo, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, ModelInfo{ID: m.Name})
	}
	return models, nil
}
