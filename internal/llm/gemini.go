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

// GeminiClient speaks the Google Generative Language REST API. It is the
// default provider and implements every optional operation.
type GeminiClient struct {
	baseURL    string
	imageModel string
	http       *http.Client
	imageHTTP  *http.Client
	streamHTTP *http.Client
}

// NewGeminiClient builds the gemini client. baseURL is the API root without
// the version prefix (e.g. "https://generativelanguage.googleapis.com").
func NewGeminiClient(baseURL, imageModel string) *GeminiClient {
	if imageModel == "" {
		imageModel = "gemini-2.0-flash-preview-image-generation"
	}
	return &GeminiClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		imageModel: imageModel,
		http:       newHTTPClient(),
		imageHTTP:  &http.Client{Timeout: imageTimeout},
		streamHTTP: newStreamHTTPClient(),
	}
}

func (c *GeminiClient) Name() capability.ProviderID {
	return capability.ProviderGemini
}

// The key travels in a header, never in the URL, so request logging cannot
// capture it.
func (c *GeminiClient) headers(credential string) (map[string]string, error) {
	if credential == "" {
		return nil, errors.New("no API key configured")
	}
	return map[string]string{"x-goog-api-key": credential}, nil
}

func (c *GeminiClient) modelURL(model, verb string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s", c.baseURL, model, verb)
}

// buildPayload translates a Request into the generateContent wire shape.
func (c *GeminiClient) buildPayload(req Request, withSearch bool) map[string]interface{} {
	contents := make([]map[string]interface{}, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		parts := []map[string]interface{}{}
		if m.Text != "" {
			parts = append(parts, map[string]interface{}{"text": m.Text})
		}
		for _, img := range m.Images {
			parts = append(parts, map[string]interface{}{
				"inlineData": map[string]interface{}{
					"mimeType": img.MIME,
					"data":     img.Data,
				},
			})
		}
		contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
	}

	payload := map[string]interface{}{"contents": contents}
	if req.System != "" {
		payload["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]interface{}{{"text": req.System}},
		}
	}

	var tools []map[string]interface{}
	if withSearch {
		tools = append(tools, map[string]interface{}{"google_search": map[string]interface{}{}})
	} else if len(req.Tools) > 0 {
		decls := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, map[string]interface{}{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		tools = append(tools, map[string]interface{}{"functionDeclarations": decls})
	}
	if len(tools) > 0 {
		payload["tools"] = tools
	}

	if req.JSONMode && !withSearch {
		payload["generationConfig"] = map[string]interface{}{
			"responseMimeType": "application/json",
		}
	}
	return payload
}

// geminiCandidate is the response slice shared by sync and stream parsing.
type geminiCandidate struct {
	Content struct {
		Parts []struct {
			Text       string `json:"text"`
			Thought    bool   `json:"thought"`
			InlineData *struct {
				MimeType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"content"`
	GroundingMetadata *struct {
		GroundingChunks []struct {
			Web *struct {
				URI   string `json:"uri"`
				Title string `json:"title"`
			} `json:"web"`
			Maps *struct {
				URI   string `json:"uri"`
				Title string `json:"title"`
			} `json:"maps"`
		} `json:"groundingChunks"`
	} `json:"groundingMetadata"`
}

func (cand geminiCandidate) toResult() Result {
	var result Result
	var text, thinking strings.Builder
	for _, part := range cand.Content.Parts {
		if part.InlineData != nil {
			result.Image = &GeneratedImage{MIME: part.InlineData.MimeType, Data: part.InlineData.Data}
			continue
		}
		if part.Thought {
			thinking.WriteString(part.Text)
		} else {
			text.WriteString(part.Text)
		}
	}
	result.Text = text.String()
	result.Thinking = thinking.String()
	result.Citations = cand.citations()
	return result
}

func (cand geminiCandidate) citations() []Citation {
	if cand.GroundingMetadata == nil {
		return nil
	}
	var out []Citation
	for _, chunk := range cand.GroundingMetadata.GroundingChunks {
		if chunk.Web != nil {
			out = append(out, Citation{Kind: "web", Title: chunk.Web.Title, URL: chunk.Web.URI})
		}
		if chunk.Maps != nil {
			out = append(out, Citation{Kind: "map", Title: chunk.Maps.Title, URL: chunk.Maps.URI})
		}
	}
	return out
}

func (c *GeminiClient) generate(ctx context.Context, credential string, req Request, withSearch bool) (Result, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return Result{}, err
	}

	body, err := postJSON(ctx, c.http, c.modelURL(req.Model, "generateContent"), headers, c.buildPayload(req, withSearch))
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Candidates []geminiCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return Result{}, nil
	}
	return parsed.Candidates[0].toResult(), nil
}

func (c *GeminiClient) GenerateContent(ctx context.Context, credential string, req Request) (Result, error) {
	return c.generate(ctx, credential, req, false)
}

func (c *GeminiClient) GenerateContentWithSearch(ctx context.Context, credential string, req Request) (Result, error) {
	return c.generate(ctx, credential, req, true)
}

func (c *GeminiClient) GenerateContentStream(ctx context.Context, credential string, req Request) (<-chan StreamChunk, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(c.buildPayload(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, streamTimeout)

	url := c.modelURL(req.Model, "streamGenerateContent") + "?alt=sse"
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
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
			var parsed struct {
				Candidates []geminiCandidate `json:"candidates"`
			}
			if err := json.Unmarshal([]byte(data), &parsed); err != nil {
				return true
			}
			if len(parsed.Candidates) == 0 {
				return true
			}
			cand := parsed.Candidates[0]
			var text, thinking strings.Builder
			for _, part := range cand.Content.Parts {
				if part.Thought {
					thinking.WriteString(part.Text)
				} else {
					text.WriteString(part.Text)
				}
			}
			chunk := StreamChunk{
				Text:      text.String(),
				Thinking:  thinking.String(),
				Citations: cand.citations(),
			}
			if chunk.Text == "" && chunk.Thinking == "" && len(chunk.Citations) == 0 {
				return true
			}
			select {
			case ch <- chunk:
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

func (c *GeminiClient) GenerateImage(ctx context.Context, credential string, prompt string, opts ImageOptions) (Result, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return Result{}, err
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]interface{}{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"TEXT", "IMAGE"},
		},
	}

	body, err := postJSON(ctx, c.imageHTTP, c.modelURL(c.imageModel, "generateContent"), headers, payload)
	if err != nil {
		return Result{}, err
	}
	return parseGeminiImage(body)
}

func (c *GeminiClient) EditImage(ctx context.Context, credential string, prompt string, image ImagePart, opts ImageOptions) (Result, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return Result{}, err
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]interface{}{
					{"text": prompt},
					{"inlineData": map[string]interface{}{
						"mimeType": image.MIME,
						"data":     image.Data,
					}},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"TEXT", "IMAGE"},
		},
	}

	body, err := postJSON(ctx, c.imageHTTP, c.modelURL(c.imageModel, "generateContent"), headers, payload)
	if err != nil {
		return Result{}, err
	}
	return parseGeminiImage(body)
}

func parseGeminiImage(body []byte) (Result, error) {
	var parsed struct {
		Candidates []geminiCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return Result{}, fmt.Errorf("no image data in response")
	}
	result := parsed.Candidates[0].toResult()
	if result.Image == nil {
		return Result{}, fmt.Errorf("no image data in response")
	}
	return result, nil
}

func (c *GeminiClient) ListModels(ctx context.Context, credential string) ([]ModelInfo, error) {
	headers, err := c.headers(credential)
	if err != nil {
		return nil, err
	}

	body, err := getJSON(ctx, c.http, c.baseURL+"/v1beta/models", headers)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Models []struct {
			Name        string `json:"name"` // "models/gemini-2.0-flash"
			DisplayName string `json:"displayName"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	models := make([]ModelInfo, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, ModelInfo{
			ID:          strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
		})
	}
	return models, nil
}
