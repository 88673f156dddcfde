package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"agentdeck/internal/capability"
)

// XAIClient extends the compat dialect with live-search grounding.
type XAIClient struct {
	*OpenAICompatClient
}

func NewXAIClient(baseURL string) *XAIClient {
	return &XAIClient{
		OpenAICompatClient: NewOpenAICompatClient(capability.ProviderXAI, baseURL, false),
	}
}

func (c *XAIClient) GenerateContentWithSearch(ctx context.Context, credential string, req Request) (Result, error) {
	base, headers, err := c.resolve(credential)
	if err != nil {
		return Result{}, err
	}

	payload := c.buildPayload(req, false)
	payload["search_parameters"] = map[string]interface{}{
		"mode":             "on",
		"return_citations": true,
	}

	body, err := postJSON(ctx, c.http, base+"/chat/completions", headers, payload)
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
		Citations []string `json:"citations"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, nil
	}

	result := Result{
		Text:     parsed.Choices[0].Message.Content,
		Thinking: parsed.Choices[0].Message.ReasoningContent,
	}
	for _, url := range parsed.Citations {
		result.Citations = append(result.Citations, Citation{Kind: "web", URL: url})
	}
	return result, nil
}
