package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// syncTimeout bounds non-streaming vendor calls.
	syncTimeout = 120 * time.Second

	// streamTimeout bounds an entire streaming response read.
	streamTimeout = 300 * time.Second

	// sseBufferSize is the scanner buffer for SSE lines. Large tool-call
	// argument chunks overflow the 64KB default.
	sseBufferSize = 1024 * 1024
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: syncTimeout}
}

// streamHTTPClient has no client timeout; stream lifetime is bounded by the
// request context instead.
func newStreamHTTPClient() *http.Client {
	return &http.Client{}
}

// postJSON sends a JSON POST and returns the response body. Non-2xx
// statuses are converted to an error built from the vendor's error payload.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, vendorError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// getJSON sends a GET and returns the response body with the same error
// conversion as postJSON.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, vendorError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// vendorError extracts a readable message from a vendor error payload.
// Credentials never appear in these bodies, so they are safe to surface.
func vendorError(status int, body []byte) error {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Error.Message != "" {
			return fmt.Errorf("API returned status %d: %s", status, wrapped.Error.Message)
		}
		if wrapped.Message != "" {
			return fmt.Errorf("API returned status %d: %s", status, wrapped.Message)
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("API returned status %d: %s", status, msg)
}

// scanSSE reads "data: " frames from an SSE body until EOF or a "[DONE]"
// terminator, calling fn for each frame payload. fn returning false stops
// the scan early.
func scanSSE(r io.Reader, fn func(data string) bool) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, sseBufferSize)
	scanner.Buffer(buf, sseBufferSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}
		if !fn(data) {
			return nil
		}
	}
	return scanner.Err()
}
