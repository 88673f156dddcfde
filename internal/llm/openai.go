package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"agentdeck/internal/capability"
)

// Image calls can take a while.
const imageTimeout = 180 * time.Second

// OpenAIClient extends the compat dialect with the images API.
type OpenAIClient struct {
	*OpenAICompatClient
	imageModel string
	imageHTTP  *http.Client
}

// NewOpenAIClient builds the openai client. imageModel is the model used
// for generation and edits (e.g. "gpt-image-1").
func NewOpenAIClient(baseURL, imageModel string) *OpenAIClient {
	if imageModel == "" {
		imageModel = "gpt-image-1"
	}
	return &OpenAIClient{
		OpenAICompatClient: NewOpenAICompatClient(capability.ProviderOpenAI, baseURL, false),
		imageModel:         imageModel,
		imageHTTP:          &http.Client{Timeout: imageTimeout},
	}
}

func (c *OpenAIClient) GenerateImage(ctx context.Context, credential string, prompt string, opts ImageOptions) (Result, error) {
	base, headers, err := c.resolve(credential)
	if err != nil {
		return Result{}, err
	}

	payload := map[string]interface{}{
		"model":           c.imageModel,
		"prompt":          prompt,
		"n":               1,
		"response_format": "b64_json",
	}
	if opts.Size != "" {
		payload["size"] = opts.Size
	}

	body, err := postJSON(ctx, c.imageHTTP, base+"/images/generations", headers, payload)
	if err != nil {
		return Result{}, err
	}

	return parseImageResponse(body)
}

func (c *OpenAIClient) EditImage(ctx context.Context, credential string, prompt string, image ImagePart, opts ImageOptions) (Result, error) {
	base, headers, err := c.resolve(credential)
	if err != nil {
		return Result{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(image.Data)
	if err != nil {
		return Result{}, fmt.Errorf("invalid image payload: %w", err)
	}

	// The edits endpoint only speaks multipart.
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", imageFilename(image.MIME))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(raw); err != nil {
		return Result{}, fmt.Errorf("failed to build form: %w", err)
	}
	_ = w.WriteField("model", c.imageModel)
	_ = w.WriteField("prompt", prompt)
	if opts.Size != "" {
		_ = w.WriteField("size", opts.Size)
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/images/edits", &buf)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.imageHTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, vendorError(resp.StatusCode, respBody)
	}

	return parseImageResponse(respBody)
}

func parseImageResponse(body []byte) (Result, error) {
	var parsed struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return Result{}, fmt.Errorf("no image data in response")
	}
	return Result{Image: &GeneratedImage{MIME: "image/png", Data: parsed.Data[0].B64JSON}}, nil
}

func imageFilename(mime string) string {
	switch mime {
	case "image/jpeg":
		return "image.jpg"
	case "image/webp":
		return "image.webp"
	default:
		return "image.png"
	}
}
