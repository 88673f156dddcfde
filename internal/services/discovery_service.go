package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"
)

// probeTimeout bounds one detection probe. A slow or absent local runtime
// yields "not detected", never a hard failure.
const probeTimeout = 15 * time.Second

// DiscoveryService probes the local-inference endpoint (Ollama) to detect
// availability and capabilities. The user's stored credential for the
// local provider is the endpoint URL; absent that, the configured default
// applies. A background loop keeps the detected state fresh.
type DiscoveryService struct {
	providers       *ProviderService
	defaultEndpoint string
	http            *http.Client

	mu   sync.Mutex
	last models.ProbeResult
}

// NewDiscoveryService creates a discovery service with the deployment's
// default endpoint.
func NewDiscoveryService(providers *ProviderService, defaultEndpoint string) *DiscoveryService {
	return &DiscoveryService{
		providers:       providers,
		defaultEndpoint: defaultEndpoint,
		http:            &http.Client{Timeout: probeTimeout},
	}
}

// endpoint resolves the probe target: the stored local-provider credential,
// then the OLLAMA_BASE_URL env override, then the configured default.
func (d *DiscoveryService) endpoint() string {
	if cred := d.providers.Credential(capability.ProviderOllama); cred != "" {
		return cred
	}
	if env := os.Getenv("OLLAMA_BASE_URL"); env != "" {
		return env
	}
	return d.defaultEndpoint
}

// normalizeEndpoint strips trailing slashes and a /v1 suffix; the native
// tags API lives at the server root.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	return strings.TrimSuffix(endpoint, "/v1")
}

// Probe checks one endpoint for a running local inference server. Pass ""
// to probe the configured endpoint. The result is stored as the current
// reachability state. Endpoints count as credentials, so they stay out of
// the logs.
func (d *DiscoveryService) Probe(ctx context.Context, endpoint string) models.ProbeResult {
	if endpoint == "" {
		endpoint = d.endpoint()
	}
	endpoint = normalizeEndpoint(endpoint)

	result := models.ProbeResult{Endpoint: endpoint, CheckedAt: time.Now()}
	if endpoint == "" {
		result.Reason = "no endpoint configured"
		return d.store(result)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		result.Reason = "invalid endpoint"
		return d.store(result)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		result.Reason = "endpoint not reachable"
		return d.store(result)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Reason = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		return d.store(result)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Reason = "failed to read endpoint response"
		return d.store(result)
	}

	var tags struct {
		Models []struct {
			Name    string `json:"name"`
			Details struct {
				Family   string   `json:"family"`
				Families []string `json:"families"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		result.Reason = "endpoint response is not a model list"
		return d.store(result)
	}

	caps := capability.NewSet(capability.Chat, capability.Streaming, capability.FunctionCalling)
	for _, m := range tags.Models {
		result.Models = append(result.Models, m.Name)
		markers := append([]string{m.Name, m.Details.Family}, m.Details.Families...)
		if hasVisionFamily(markers) {
			caps[capability.Vision] = true
		}
		if hasEmbeddingFamily(markers) {
			caps[capability.Embeddings] = true
		}
	}

	result.Detected = true
	result.Capabilities = caps.Slice()
	log.Printf("✅ [DISCOVERY] Local inference detected (%d models)", len(result.Models))
	return d.store(result)
}

func (d *DiscoveryService) store(result models.ProbeResult) models.ProbeResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last.Detected && !result.Detected {
		log.Printf("⚠️ [DISCOVERY] Local inference no longer reachable: %s", result.Reason)
	}
	d.last = result
	return result
}

// Result returns the most recent probe outcome.
func (d *DiscoveryService) Result() models.ProbeResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Reachable reports the current detection state.
func (d *DiscoveryService) Reachable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last.Detected
}

// Start runs the re-probe loop: once immediately, then on every interval
// tick until the context is cancelled.
func (d *DiscoveryService) Start(ctx context.Context, interval time.Duration) {
	d.Probe(ctx, "")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("⏰ [DISCOVERY] Local provider re-probe running every %v", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Probe(ctx, "")
		}
	}
}

// visionFamilies and embeddingFamilies mark model families that unlock
// extra capability flags when present on the local server.
var (
	visionFamilies    = []string{"llava", "moondream", "bakllava", "mllama", "minicpm-v", "qwen2vl", "clip"}
	embeddingFamilies = []string{"embed", "minilm", "bge", "bert"}
)

func hasVisionFamily(markers []string) bool {
	return matchesFamily(markers, visionFamilies)
}

func hasEmbeddingFamily(markers []string) bool {
	return matchesFamily(markers, embeddingFamilies)
}

func matchesFamily(markers, families []string) bool {
	for _, marker := range markers {
		lower := strings.ToLower(marker)
		for _, family := range families {
			if strings.Contains(lower, family) {
				return true
			}
		}
	}
	return false
}
